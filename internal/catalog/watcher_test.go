package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	p := writeCatalog(t, "catalog.yaml", "models:\n  - id: a\n    name: A\n    featured: true\n")
	c, err := New(Options{File: p})
	require.NoError(t, err)
	require.Len(t, c.Featured(), 1)

	reloaded := make(chan error, 4)
	w := NewWatcher(c, 20*time.Millisecond, func(err error) { reloaded <- err })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("models:\n  - id: a\n    name: A\n    featured: true\n  - id: b\n    name: B\n    featured: true\n"), 0o644))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}
	require.Len(t, c.Featured(), 2)
	require.GreaterOrEqual(t, w.ReloadCount(), uint32(1))

	cancel()
	<-done
}
