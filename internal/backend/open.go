package backend

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"moxind/internal/catalog"
	"moxind/internal/common/fsutil"
	"moxind/internal/config"
	"moxind/internal/download"
	"moxind/internal/manager"
	"moxind/internal/store"
)

// Open builds a Backend and all of its collaborators from cfg.
func Open(cfg config.Config, log zerolog.Logger) (*Backend, error) {
	cfg.ApplyDefaults()
	dataDir, err := fsutil.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	modelsDir, err := fsutil.EnsureDir(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	catalogFile, err := fsutil.ExpandHome(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("catalog file: %w", err)
	}

	st, err := store.Open(dataDir)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(catalog.Options{File: catalogFile, ModelsDir: modelsDir, Logger: &log})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}
	watcher := catalog.NewWatcher(cat, 0, nil)
	dl := download.New(cat, st, download.Options{
		Dir:         modelsDir,
		Concurrency: cfg.DownloadConcurrency,
		Logger:      &log,
	})
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		LlamaBin:        cfg.LlamaBin,
		LlamaHost:       cfg.LlamaHost,
		LlamaThreads:    cfg.LlamaThreads,
		LoadTimeout:     time.Duration(cfg.LoadTimeoutSeconds) * time.Second,
		MaxPayloadBytes: cfg.MaxChatPayloadBytes,
		Publisher:       manager.LogPublisher{Log: log},
		Logger:          &log,
	})

	log.Info().
		Str("data_dir", dataDir).
		Str("models_dir", modelsDir).
		Str("catalog", catalogFile).
		Bool("llama_server", cfg.LlamaBin != "").
		Msg("backend: opened")

	return New(Options{
		Manager:    mgr,
		Catalog:    cat,
		Downloader: dl,
		Store:      st,
		Watcher:    watcher,
		Server: ServerOptions{
			CORSOrigins:   cfg.CORSOrigins,
			MaxQueueDepth: cfg.MaxQueueDepth,
			MaxWait:       time.Duration(cfg.MaxWaitMS) * time.Millisecond,
			MaxBodyBytes:  int64(cfg.MaxChatPayloadBytes),
		},
		Logger: &log,
	}), nil
}
