package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "data_dir: /var/moxind\nmodels_dir: /tmp\nllama_bin: /usr/bin/llama-server\ndownload_concurrency: 4\nserver:\n  port: 9999\n  cors: true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/moxind" || cfg.ModelsDir != "/tmp" || cfg.LlamaBin != "/usr/bin/llama-server" || cfg.DownloadConcurrency != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Server.Port != 9999 || !cfg.Server.CORS {
		t.Fatalf("unexpected server cfg: %+v", cfg.Server)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"data_dir":"/d","models_dir":"/m","max_chat_payload_bytes":42,"server":{"port":7070,"request_queuing":true}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/d" || cfg.ModelsDir != "/m" || cfg.MaxChatPayloadBytes != 42 || cfg.Server.Port != 7070 || !cfg.Server.RequestQueuing {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "models_dir=\"/x\"\nllama_threads=8\nlog_level=\"debug\"\n[server]\nport=8081\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ModelsDir != "/x" || cfg.LlamaThreads != 8 || cfg.LogLevel != "debug" || cfg.Server.Port != 8081 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "models_dir: /m\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != DefaultDataDir || cfg.Server.Port != DefaultServerPort || cfg.MaxChatPayloadBytes != DefaultMaxChatPayloadBytes {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Fatalf("log defaults not applied: %+v", cfg)
	}
	if !cfg.Server.ApplyPromptFormatting {
		t.Fatalf("prompt formatting should default on")
	}
}

func TestLoadCanDisablePromptFormatting(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "server:\n  apply_prompt_formatting: false\n  port: 9000\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ApplyPromptFormatting || cfg.Server.Port != 9000 {
		t.Fatalf("unexpected server cfg: %+v", cfg.Server)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}
