package testsupport

import (
	"path/filepath"
	"testing"

	"soundstage/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// All providers default to placeholders so no test touches the network.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Separation.Provider = "placeholder"
	cfg.Transcription.Provider = "placeholder"
	cfg.Position.Provider = "placeholder"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkers sets the concurrent job limit on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.JobWorkers = n
	}
}

// WithMaxUploadMB sets the upload size ceiling on the test config.
func WithMaxUploadMB(mb int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MaxUploadMB = mb
	}
}
