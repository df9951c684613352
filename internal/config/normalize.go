package config

import "strings"

// normalize expands path fields, fills environment fallbacks, and clamps
// values that have hard floors.
func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(firstNonEmpty(c.Paths.DataDir, defaultDataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(firstNonEmpty(c.Paths.LogDir, defaultLogDir)); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(firstNonEmpty(c.Paths.APIBind, defaultAPIBind))

	c.Separation.Provider = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Separation.Provider, defaultSeparationProvider)))
	c.Transcription.Provider = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Transcription.Provider, defaultTranscriptionProvider)))
	c.Position.Provider = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Position.Provider, defaultPositionProvider)))

	c.Position.APIKey = strings.TrimSpace(firstNonEmpty(c.Position.APIKey, envFallback("GEMINI_API_KEY", "GOOGLE_API_KEY")))
	c.Position.BaseURL = strings.TrimSpace(firstNonEmpty(c.Position.BaseURL, defaultPositionBaseURL))
	c.Position.Model = strings.TrimSpace(firstNonEmpty(c.Position.Model, defaultPositionModel))
	if c.Position.ChunkSize < MinPositionChunkSize {
		c.Position.ChunkSize = MinPositionChunkSize
	}

	if c.Pipeline.MaxUploadMB <= 0 {
		c.Pipeline.MaxUploadMB = defaultMaxUploadMB
	}
	if c.Pipeline.JobWorkers <= 0 {
		c.Pipeline.JobWorkers = defaultJobWorkers
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Logging.Format, defaultLogFormat)))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Logging.Level, defaultLogLevel)))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
