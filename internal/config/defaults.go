package config

const (
	defaultDataDir = "~/.local/share/soundstage/data"
	defaultLogDir  = "~/.local/share/soundstage/logs"
	defaultAPIBind = "127.0.0.1:8173"

	defaultMaxUploadMB = 250
	defaultJobWorkers  = 2

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultSeparationProvider       = "placeholder"
	defaultSeparationModel          = "htdemucs"
	defaultSeparationTimeoutSecs    = 600
	defaultTranscriptionProvider    = "placeholder"
	defaultTranscriptionModel       = "large-v3"
	defaultTranscriptionTimeoutSecs = 600

	defaultPositionProvider    = "gemini"
	defaultPositionBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultPositionModel       = "gemini-2.0-flash"
	defaultPositionTimeoutSecs = 60
	defaultPositionChunkSize   = 50

)

// MinPositionChunkSize is the floor applied during normalization; smaller
// chunks waste model calls without improving placement quality.
const MinPositionChunkSize = 20

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxUploadMB: defaultMaxUploadMB,
			JobWorkers:  defaultJobWorkers,
		},
		Separation: Separation{
			Provider:       defaultSeparationProvider,
			Model:          defaultSeparationModel,
			TimeoutSeconds: defaultSeparationTimeoutSecs,
		},
		Transcription: Transcription{
			Provider:       defaultTranscriptionProvider,
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscriptionTimeoutSecs,
		},
		Position: Position{
			Provider:       defaultPositionProvider,
			BaseURL:        defaultPositionBaseURL,
			Model:          defaultPositionModel,
			TimeoutSeconds: defaultPositionTimeoutSecs,
			ChunkSize:      defaultPositionChunkSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
