package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"moxind/internal/httpapi"
	"moxind/pkg/protocol"
)

// logLineBuffer is how many server log lines may wait for the reply
// channel before new ones are dropped.
const logLineBuffer = 256

// lineSink turns the server's console log output into LocalServerLog lines.
// It never blocks the request path: lines beyond the buffer are dropped.
type lineSink struct {
	ch chan string
}

func (s lineSink) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		select {
		case s.ch <- line:
		default:
		}
	}
	return len(p), nil
}

// startLocalServer runs the local HTTP server for the lifetime of the
// command. It claims the server slot, binds, replies Started and then
// forwards log lines until StopLocalServer, Close or shutdown.
func (b *Backend) startLocalServer(ctx context.Context, cmd protocol.Command) {
	c := cmd.(protocol.StartLocalServer)
	defer close(c.Reply)
	fail := func(err error) {
		send[protocol.LocalServerResponse](ctx, c.Reply, protocol.LocalServerFailed{Err: err})
	}

	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := b.opts.Manager.ClaimServer(cancel); err != nil {
		fail(err)
		return
	}

	addr := net.JoinHostPort(b.opts.Server.Host, strconv.Itoa(int(c.Config.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		b.log.Warn().Err(err).Str("addr", addr).Msg("backend: local server bind failed")
		b.opts.Manager.ReleaseServer()
		fail(err)
		return
	}
	defer b.opts.Manager.ReleaseServer()

	lines := make(chan string, logLineBuffer)
	level := zerolog.InfoLevel
	if c.Config.VerboseServerLogs {
		level = zerolog.DebugLevel
	}
	srvLog := zerolog.New(zerolog.ConsoleWriter{Out: lineSink{ch: lines}, NoColor: true, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	handler := httpapi.NewMux(b.Client(), httpapi.Options{
		Server:        c.Config,
		CORSOrigins:   b.opts.Server.CORSOrigins,
		MaxQueueDepth: b.opts.Server.MaxQueueDepth,
		MaxWait:       b.opts.Server.MaxWait,
		MaxBodyBytes:  b.opts.Server.MaxBodyBytes,
		BaseContext:   srvCtx,
		Logger:        &srvLog,
	})
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	bound := ln.Addr().String()
	b.log.Info().Str("addr", bound).Bool("cors", c.Config.CORS).Bool("queuing", c.Config.RequestQueuing).Msg("backend: local server started")
	send[protocol.LocalServerResponse](ctx, c.Reply, protocol.LocalServerStarted{Addr: bound})
	srvLog.Info().Str("addr", bound).Msg("listening")

loop:
	for {
		select {
		case line := <-lines:
			select {
			case c.Reply <- protocol.LocalServerLog{Line: line}:
			case <-srvCtx.Done():
				break loop
			}
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.log.Error().Err(err).Msg("backend: local server stopped")
			}
			break loop
		case <-srvCtx.Done():
			break loop
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), b.opts.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		b.log.Warn().Err(err).Msg("backend: local server shutdown")
		_ = srv.Close()
	}
	b.log.Info().Str("addr", bound).Msg("backend: local server stopped")
}
