package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var knownProviders = map[string]map[string]struct{}{
	"separation":    {"placeholder": {}, "demucs": {}},
	"transcription": {"placeholder": {}, "whisperx": {}},
	"position":      {"placeholder": {}, "gemini": {}},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if err := validateProvider("separation", c.Separation.Provider); err != nil {
		return err
	}
	if err := validateProvider("transcription", c.Transcription.Provider); err != nil {
		return err
	}
	if err := validateProvider("position", c.Position.Provider); err != nil {
		return err
	}
	if c.Separation.Provider == "demucs" && strings.TrimSpace(c.Separation.BaseURL) == "" {
		return errors.New("separation.base_url is required when separation.provider is \"demucs\"")
	}
	if c.Transcription.Provider == "whisperx" && strings.TrimSpace(c.Transcription.BaseURL) == "" {
		return errors.New("transcription.base_url is required when transcription.provider is \"whisperx\"")
	}
	if c.Pipeline.MaxUploadMB <= 0 {
		return errors.New("pipeline.max_upload_mb must be positive")
	}
	if c.Pipeline.JobWorkers <= 0 {
		return errors.New("pipeline.job_workers must be positive")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

func validateProvider(section, provider string) error {
	if _, ok := knownProviders[section][provider]; !ok {
		return fmt.Errorf("%s.provider: unknown value %q", section, provider)
	}
	return nil
}

func envFallback(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
