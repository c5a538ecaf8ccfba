package backend

import (
	"context"

	"moxind/pkg/protocol"
)

// chatTicket lets a StopChatCompletion carrying an ID reach its chat from
// the moment Send accepts it, including while it waits in the sink.
type chatTicket struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *Backend) registerChat(cmd protocol.Command) {
	c, ok := cmd.(protocol.Chat)
	if !ok || c.ID == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.chatMu.Lock()
	b.chats[c.ID] = &chatTicket{ctx: ctx, cancel: cancel}
	b.chatMu.Unlock()
}

func (b *Backend) chatTicket(id string) *chatTicket {
	b.chatMu.Lock()
	defer b.chatMu.Unlock()
	return b.chats[id]
}

func (b *Backend) forgetChat(cmd protocol.Command) {
	c, ok := cmd.(protocol.Chat)
	if !ok || c.ID == "" {
		return
	}
	b.chatMu.Lock()
	t := b.chats[c.ID]
	delete(b.chats, c.ID)
	b.chatMu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// cancelChat stops the chat registered under id. Unknown ids are ignored:
// the chat already finished.
func (b *Backend) cancelChat(id string) {
	if t := b.chatTicket(id); t != nil {
		t.cancel()
	}
}

// chatContext derives the generation context for c. It ends when ctx ends,
// or with cause protocol.ErrChatStopped when a StopChatCompletion names c.ID.
func (b *Backend) chatContext(ctx context.Context, c protocol.Chat) (context.Context, context.CancelFunc) {
	t := b.chatTicket(c.ID)
	if t == nil {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancelCause(ctx)
	if t.ctx.Err() != nil {
		cancel(protocol.ErrChatStopped)
	}
	stop := context.AfterFunc(t.ctx, func() { cancel(protocol.ErrChatStopped) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
