// Package backend owns the command sink of moxind.
//
// Clients build protocol commands carrying their own reply channels and hand
// them to Send. Run dispatches every command to its registered handler on a
// separate goroutine, so a long download or generation never blocks the
// sink. Handlers close the reply channel after the terminal reply.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"moxind/internal/catalog"
	"moxind/internal/download"
	"moxind/internal/manager"
	"moxind/internal/store"
	"moxind/pkg/protocol"
)

// DefaultQueueSize is the command sink buffer.
const DefaultQueueSize = 64

// ServerOptions configure the local HTTP server started by StartLocalServer.
// The per-start LocalServerConfig carried by the command is layered on top.
type ServerOptions struct {
	// Host to bind; defaults to 127.0.0.1.
	Host          string
	CORSOrigins   []string
	MaxQueueDepth int
	MaxWait       time.Duration
	MaxBodyBytes  int64
	// ShutdownTimeout bounds graceful shutdown on stop.
	ShutdownTimeout time.Duration
}

// Options wire the collaborators of a Backend. Manager, Catalog, Downloader
// and Store are required; Watcher is optional.
type Options struct {
	Manager    *manager.Manager
	Catalog    *catalog.Catalog
	Downloader *download.Downloader
	Store      *store.Store
	Watcher    *catalog.Watcher

	Server    ServerOptions
	QueueSize int
	Logger    *zerolog.Logger
}

// Backend receives commands and routes them to handlers.
type Backend struct {
	opts     Options
	log      zerolog.Logger
	cmds     chan protocol.Command
	done     chan struct{}
	handlers map[protocol.Kind]CommandHandler

	mu        sync.RWMutex
	closed    bool
	doneOnce  sync.Once
	closeOnce sync.Once
	running   atomic.Bool

	chatMu sync.Mutex
	chats  map[string]*chatTicket
}

// New returns a Backend with the default handler for every command kind.
func New(opts Options) *Backend {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Server.Host == "" {
		opts.Server.Host = "127.0.0.1"
	}
	if opts.Server.ShutdownTimeout <= 0 {
		opts.Server.ShutdownTimeout = 5 * time.Second
	}
	b := &Backend{
		opts:     opts,
		log:      zerolog.Nop(),
		cmds:     make(chan protocol.Command, opts.QueueSize),
		done:     make(chan struct{}),
		handlers: make(map[protocol.Kind]CommandHandler),
		chats:    make(map[string]*chatTicket),
	}
	if opts.Logger != nil {
		b.log = *opts.Logger
	}
	b.registerDefaults()
	return b
}

// Handle replaces the handler for kind. It must be called before Run.
func (b *Backend) Handle(kind protocol.Kind, h CommandHandler) {
	b.handlers[kind] = h
}

// Send hands cmd to the backend. It blocks only while the sink buffer is
// full. After shutdown the command is rejected: a terminal failure is
// written to its reply channel, the channel is closed and ErrClosed returned.
func (b *Backend) Send(cmd protocol.Command) error {
	if cmd == nil || missingReply(cmd) {
		return ErrNoReply
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		reject(cmd, protocol.ErrClosed)
		return protocol.ErrClosed
	}
	b.registerChat(cmd)
	select {
	case b.cmds <- cmd:
		commandsTotal.WithLabelValues(cmd.Kind().String()).Inc()
		return nil
	case <-b.done:
		b.forgetChat(cmd)
		reject(cmd, protocol.ErrClosed)
		return protocol.ErrClosed
	}
}

// Run dispatches commands until ctx is done or Close is called. Commands
// still buffered at that point are rejected with ErrClosed. Run waits for
// in-flight handlers before returning.
func (b *Backend) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("backend: already running")
	}
	g, gctx := errgroup.WithContext(ctx)

	if w := b.opts.Watcher; w != nil {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Warn().Err(err).Msg("backend: catalog watcher stopped")
			}
			return nil
		})
	}

	b.log.Debug().Int("queue", cap(b.cmds)).Msg("backend: running")
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case <-b.done:
			break loop
		case cmd := <-b.cmds:
			g.Go(func() error {
				b.dispatch(gctx, cmd)
				return nil
			})
		}
	}
	b.shutdown()
	err := g.Wait()
	b.log.Debug().Msg("backend: stopped")
	return err
}

func (b *Backend) dispatch(ctx context.Context, cmd protocol.Command) {
	h, ok := b.handlers[cmd.Kind()]
	if !ok {
		b.log.Warn().Str("kind", cmd.Kind().String()).Msg("backend: no handler")
		b.forgetChat(cmd)
		reject(cmd, fmt.Errorf("no handler for %s", cmd.Kind()))
		return
	}
	defer b.forgetChat(cmd)
	start := time.Now()
	h.Handle(ctx, cmd)
	commandDuration.WithLabelValues(cmd.Kind().String()).Observe(time.Since(start).Seconds())
}

// shutdown stops intake and rejects whatever is still buffered.
func (b *Backend) shutdown() {
	b.doneOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	for {
		select {
		case cmd := <-b.cmds:
			b.forgetChat(cmd)
			reject(cmd, protocol.ErrClosed)
		default:
			return
		}
	}
}

// Close stops intake, unloads the model, stops the local server and closes
// the store. Safe to call more than once.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.shutdown()
		if b.opts.Manager != nil {
			err = b.opts.Manager.Close()
		}
		if b.opts.Store != nil {
			err = errors.Join(err, b.opts.Store.Close())
		}
	})
	return err
}

// Manager exposes the session state machine for read-only queries.
func (b *Backend) Manager() *manager.Manager { return b.opts.Manager }
