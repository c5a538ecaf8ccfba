// Package catalog serves model discovery: featured listings, keyword search
// and FileID resolution over a catalog file plus locally discovered GGUFs.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"moxind/internal/config"
	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// Document is the on-disk catalog layout.
type Document struct {
	Models []types.Model `json:"models" yaml:"models" toml:"models"`
}

// Options configure a Catalog.
type Options struct {
	// File is a YAML, JSON or TOML catalog. Empty means no remote catalog.
	File string
	// ModelsDir is scanned for *.gguf files. Empty disables the scan.
	ModelsDir string
	Logger    *zerolog.Logger
}

// Catalog is safe for concurrent use. Reload swaps the whole index.
type Catalog struct {
	opts Options
	log  zerolog.Logger

	mu     sync.RWMutex
	models []types.Model
	files  map[types.FileID]fileRef
}

type fileRef struct {
	model int
	file  int
}

// New builds a catalog and performs the initial load.
func New(opts Options) (*Catalog, error) {
	c := &Catalog{opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromModels builds a catalog from an in-memory list. Used by tests and
// embedders that source models elsewhere.
func FromModels(models []types.Model) *Catalog {
	c := &Catalog{log: zerolog.Nop()}
	c.swap(models)
	return c
}

// Reload re-reads the catalog file and rescans the models directory.
func (c *Catalog) Reload() error {
	var models []types.Model
	if c.opts.File != "" {
		var doc Document
		if err := config.Decode(c.opts.File, &doc); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		models = append(models, doc.Models...)
	}
	if c.opts.ModelsDir != "" {
		local, err := ScanDir(c.opts.ModelsDir)
		if err != nil {
			c.log.Warn().Err(err).Str("dir", c.opts.ModelsDir).Msg("catalog: models dir scan failed")
		}
		models = mergeLocal(models, local)
	}
	c.swap(models)
	c.log.Debug().Int("models", len(models)).Msg("catalog: loaded")
	return nil
}

func (c *Catalog) swap(models []types.Model) {
	idx := make(map[types.FileID]fileRef)
	for mi := range models {
		for fi := range models[mi].Files {
			f := &models[mi].Files[fi]
			f.ModelID = models[mi].ID
			if _, dup := idx[f.ID]; !dup {
				idx[f.ID] = fileRef{model: mi, file: fi}
			}
		}
	}
	c.mu.Lock()
	c.models = models
	c.files = idx
	c.mu.Unlock()
}

// mergeLocal appends locally discovered models whose files are not already
// described by the catalog file, matched by FileID or by the file:// path a
// catalog entry points at. Downloads live in per-file subdirectories, which
// ScanDir does not descend into.
func mergeLocal(models, local []types.Model) []types.Model {
	known := make(map[types.FileID]bool)
	paths := make(map[string]bool)
	for _, m := range models {
		for _, f := range m.Files {
			known[f.ID] = true
			if p := localPath(f.URL); p != "" {
				paths[p] = true
			}
		}
	}
	for _, m := range local {
		if len(m.Files) > 0 && (known[m.Files[0].ID] || paths[localPath(m.Files[0].URL)]) {
			continue
		}
		models = append(models, m)
	}
	return models
}

func localPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return ""
	}
	return filepath.Clean(filepath.FromSlash(u.Path))
}

// Featured returns featured models ordered by likes (desc) then name.
func (c *Catalog) Featured() []types.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.Model
	for _, m := range c.models {
		if m.Featured {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Likes != out[j].Likes {
			return out[i].Likes > out[j].Likes
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Search returns models matching every whitespace-separated keyword,
// case-insensitively. Empty keywords match nothing.
func (c *Catalog) Search(keywords string) []types.Model {
	terms := strings.Fields(strings.ToLower(keywords))
	if len(terms) == 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	type hit struct {
		m     types.Model
		score int
	}
	var hits []hit
	for _, m := range c.models {
		if s, ok := score(m, terms); ok {
			hits = append(hits, hit{m: m, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].m.Downloads > hits[j].m.Downloads
	})
	out := make([]types.Model, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out
}

// score weights name matches above metadata, and metadata above file names.
func score(m types.Model, terms []string) (int, bool) {
	name := strings.ToLower(m.Name + " " + string(m.ID))
	meta := strings.ToLower(strings.Join(append([]string{m.Summary, m.Author, m.Architecture}, m.Tags...), " "))
	var files strings.Builder
	for _, f := range m.Files {
		files.WriteString(strings.ToLower(f.Name + " " + string(f.ID) + " " + f.Quantization + " "))
	}
	fs := files.String()

	total := 0
	for _, t := range terms {
		switch {
		case strings.Contains(name, t):
			total += 3
		case strings.Contains(meta, t):
			total += 2
		case strings.Contains(fs, t):
			total++
		default:
			return 0, false
		}
	}
	return total, true
}

// File resolves id to its File and owning Model.
func (c *Catalog) File(id types.FileID) (types.File, types.Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.files[id]
	if !ok {
		return types.File{}, types.Model{}, fmt.Errorf("%w: %s", protocol.ErrFileNotFound, id)
	}
	m := c.models[ref.model]
	return m.Files[ref.file], m, nil
}

// Models returns a copy of every model in the index.
func (c *Catalog) Models() []types.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Model, len(c.models))
	copy(out, c.models)
	return out
}

// IsNotFound reports whether err came from an unknown FileID.
func IsNotFound(err error) bool { return errors.Is(err, protocol.ErrFileNotFound) }
