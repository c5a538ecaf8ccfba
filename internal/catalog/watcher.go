package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"moxind/internal/common/fsutil"
)

// DefaultDebounce coalesces bursts of editor writes into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Catalog when its file or models directory changes.
type Watcher struct {
	cat      *Catalog
	debounce time.Duration
	onReload func(error)
	reloads  atomic.Uint32
}

// NewWatcher creates a watcher. onReload may be nil.
func NewWatcher(cat *Catalog, debounce time.Duration, onReload func(error)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{cat: cat, debounce: debounce, onReload: onReload}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if p := w.cat.opts.File; p != "" {
		if err := fw.Add(p); err != nil {
			return err
		}
	}
	if d := w.cat.opts.ModelsDir; d != "" {
		if dir, err := fsutil.ExpandAbs(d); err == nil {
			if err := fw.Add(dir); err != nil {
				w.cat.log.Warn().Err(err).Str("dir", dir).Msg("catalog: cannot watch models dir")
			}
		}
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.cat.log.Error().Err(err).Msg("catalog: watcher error")
		}
	}
}

func (w *Watcher) reload() {
	n := w.reloads.Add(1)
	err := w.cat.Reload()
	if err != nil {
		w.cat.log.Error().Err(err).Uint32("count", n).Msg("catalog: reload failed")
	} else {
		w.cat.log.Info().Uint32("count", n).Msg("catalog: reloaded")
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

// ReloadCount returns how many reloads have run.
func (w *Watcher) ReloadCount() uint32 { return w.reloads.Load() }
