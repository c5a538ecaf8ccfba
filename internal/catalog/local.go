package catalog

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"moxind/internal/common/fsutil"
	"moxind/pkg/types"
)

// ScanDir scans a directory for *.gguf files and builds one model per file.
// The FileID and ModelID are the full filename; the URL is a file:// link to
// the absolute path so the downloader can import it.
func ScanDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.ExpandAbs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		p := filepath.Join(abs, name)
		id := types.FileID(name)
		models = append(models, types.Model{
			ID:   types.ModelID(name),
			Name: strings.TrimSuffix(name, filepath.Ext(name)),
			Tags: []string{"local"},
			Files: []types.File{{
				ID:           id,
				ModelID:      types.ModelID(name),
				Name:         name,
				Size:         size,
				Format:       "gguf",
				Quantization: guessQuantization(name),
				URL:          (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(),
			}},
		})
	}
	return models, nil
}

// guessQuantization extracts a llama.cpp quant tag like Q4_K_M from a filename.
func guessQuantization(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, part := range strings.FieldsFunc(stem, func(r rune) bool { return r == '.' || r == '-' }) {
		up := strings.ToUpper(part)
		if len(up) >= 2 && (up[0] == 'Q' || strings.HasPrefix(up, "IQ")) && strings.ContainsAny(up, "0123456789") {
			return up
		}
		if up == "F16" || up == "F32" || up == "BF16" {
			return up
		}
	}
	return ""
}
