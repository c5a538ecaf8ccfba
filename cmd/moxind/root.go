package main

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"moxind/internal/backend"
	"moxind/internal/config"
	"moxind/internal/logging"
)

// cliEnv is shared by every subcommand; PersistentPreRunE fills it.
type cliEnv struct {
	configPath string
	logLevel   string
	logFile    string
	logFormat  string

	cfg    config.Config
	log    zerolog.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	env := &cliEnv{}
	root := &cobra.Command{
		Use:           "moxind",
		Short:         "Local LLM backend: discover, download, load and chat with GGUF models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.closer != nil {
				_ = env.closer.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&env.configPath, "config", "", "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "Log level: debug|info|warn|error|off (overrides config)")
	root.PersistentFlags().StringVar(&env.logFile, "log-file", "", "Also write logs to this rotating file (overrides config)")
	root.PersistentFlags().StringVar(&env.logFormat, "log-format", "", "Log format: console|json (overrides config)")

	root.AddCommand(
		newServeCmd(env),
		newFeaturedCmd(env),
		newSearchCmd(env),
		newDownloadCmd(env),
		newFilesCmd(env),
		newChatCmd(env),
		newVersionCmd(),
	)
	return root
}

func (e *cliEnv) init() error {
	cfg := config.Default()
	if e.configPath != "" {
		var err error
		if cfg, err = config.Load(e.configPath); err != nil {
			return err
		}
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	if e.logFile != "" {
		cfg.LogFile = e.logFile
	}
	if e.logFormat != "" {
		cfg.LogFormat = e.logFormat
	}
	e.cfg = cfg
	e.log, e.closer = logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	return nil
}

// withBackend opens the backend, runs it for the duration of fn and closes it.
func (e *cliEnv) withBackend(ctx context.Context, fn func(ctx context.Context, c *backend.Client) error) error {
	b, err := backend.Open(e.cfg, e.log)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx) }()

	ferr := fn(ctx, b.Client())

	cancel()
	<-done
	if err := b.Close(); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

// splitCSV splits a comma-separated list, dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
