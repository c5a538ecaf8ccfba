package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"moxind/pkg/types"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultMaxBodyBytes  int64 = 8 << 20
	DefaultMaxQueueDepth       = 32
	DefaultMaxWait             = 30 * time.Second
)

// Options configure the local server handler.
type Options struct {
	// Server is the LocalServerConfig the server was started with.
	Server types.LocalServerConfig
	// CORSOrigins is used when Server.CORS is set; empty allows any origin.
	CORSOrigins []string

	// Admission for chat requests when Server.RequestQueuing is set.
	MaxQueueDepth int
	MaxWait       time.Duration

	// MaxBodyBytes bounds request bodies. Chat payload limits are enforced
	// again by the backend.
	MaxBodyBytes int64
	// ChatTimeout bounds one chat request. Zero disables it.
	ChatTimeout time.Duration

	// BaseContext is canceled when the server shuts down.
	BaseContext context.Context
	Logger      *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.MaxQueueDepth <= 0 {
		o.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.ChatTimeout < 0 {
		o.ChatTimeout = 0
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.Logger == nil {
		l := zerolog.Nop()
		o.Logger = &l
	}
	return o
}
