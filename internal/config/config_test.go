package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"soundstage/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatalf("expected missing config, got exists=true for %s", path)
	}
	if cfg.Pipeline.MaxUploadMB != 250 {
		t.Fatalf("expected default max_upload_mb, got %d", cfg.Pipeline.MaxUploadMB)
	}
	if cfg.Position.ChunkSize != 50 {
		t.Fatalf("expected default chunk size, got %d", cfg.Position.ChunkSize)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[position]
provider = "Gemini"
chunk_size = 5

[transcription]
default_language = "en"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Position.Provider != "gemini" {
		t.Fatalf("provider not lowercased: %q", cfg.Position.Provider)
	}
	if cfg.Position.ChunkSize != 20 {
		t.Fatalf("chunk size not raised to floor: %d", cfg.Position.ChunkSize)
	}
	if cfg.Transcription.DefaultLanguage != "en" {
		t.Fatalf("unexpected default language %q", cfg.Transcription.DefaultLanguage)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Separation.Provider = "splitter9000"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "separation.provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestValidateRequiresBaseURLForLiveProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Transcription.Provider = "whisperx"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for whisperx without base_url")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.JobsDir(), cfg.CacheDir(), cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
