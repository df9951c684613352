package stage

import (
	"context"
	"strings"
)

// Input carries everything an executor may need for one stage run. Upstream
// payloads are populated by the orchestrator before the stage starts.
type Input struct {
	JobID         string
	SourcePath    string
	ContentDigest string
	Language      string

	// Separation result, set for transcription and position runs.
	Separation *SeparationPayload
	// Path to the extracted vocal stem on disk, set alongside Separation.
	VocalStemPath string
	// Transcription result, set for position runs.
	Transcript *TranscriptionPayload
}

// RawArtifact is a provider-native output kept alongside the normalized
// payload, for example a stem WAV or the unmodified provider response.
type RawArtifact struct {
	Name string
	Data []byte
}

// Result is what an executor hands back on a cache miss. Payload is the
// canonical JSON document for the stage; Raw holds auxiliary blobs.
type Result struct {
	Stage   Stage
	Payload []byte
	Raw     []RawArtifact
}

// Health reports whether an executor's backing service is reachable.
type Health struct {
	Stage    Stage  `json:"stage"`
	Provider string `json:"provider"`
	Ready    bool   `json:"ready"`
	Detail   string `json:"detail,omitempty"`
}

// Executor runs one stage. CacheKey must be a pure function of the input so
// that re-submissions of identical content derive identical keys.
type Executor interface {
	Stage() Stage
	CacheKey(in Input) (string, error)
	Execute(ctx context.Context, in Input) (*Result, error)
	HealthCheck(ctx context.Context) Health
}

var vocalStemNames = map[string]struct{}{
	"vocals":   {},
	"vocal":    {},
	"voice":    {},
	"voices":   {},
	"lead":     {},
	"acapella": {},
}

// IsVocalStemName reports whether a stem name denotes the vocal track.
func IsVocalStemName(name string) bool {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.TrimSuffix(normalized, ".wav")
	normalized = strings.TrimSuffix(normalized, ".flac")
	normalized = strings.TrimSuffix(normalized, ".mp3")
	_, ok := vocalStemNames[normalized]
	return ok
}
