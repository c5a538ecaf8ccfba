package manager

import (
	"strings"

	"moxind/pkg/types"
)

// chatMLTemplate is used when the model has no explicit prompt template.
const chatMLTemplate = "<|im_start|>{{role}}\n{{content}}<|im_end|>\n"

// formatPrompt renders messages for runtimes that take a flat prompt. A
// template uses {{role}} and {{content}} per message; the assistant turn is
// opened at the end.
func formatPrompt(req ChatParams, template *string) string {
	if req.Raw {
		return rawPrompt(req.Messages)
	}
	tpl := chatMLTemplate
	if template != nil && strings.Contains(*template, "{{content}}") {
		tpl = *template
	}
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(renderTurn(tpl, m))
	}
	open := renderTurn(tpl, types.ChatMessage{Role: "assistant"})
	if i := strings.Index(tpl, "{{content}}"); i >= 0 {
		open = strings.ReplaceAll(tpl[:i], "{{role}}", "assistant")
	}
	b.WriteString(open)
	return b.String()
}

func renderTurn(tpl string, m types.ChatMessage) string {
	return strings.NewReplacer("{{role}}", m.Role, "{{content}}", m.Content).Replace(tpl)
}
