package stage

import (
	"encoding/json"
	"fmt"

	"soundstage/internal/hashing"
)

// Stage identifies one discrete processing step in the pipeline.
type Stage string

const (
	Separation    Stage = "separation"
	Transcription Stage = "transcription"
	Position      Stage = "position"
)

// All returns the fixed pipeline order. Stages always run in this sequence
// because each depends on the previous stage's output for key derivation.
func All() []Stage {
	return []Stage{Separation, Transcription, Position}
}

// Parse converts a string into a known Stage.
func Parse(value string) (Stage, bool) {
	switch Stage(value) {
	case Separation, Transcription, Position:
		return Stage(value), true
	default:
		return "", false
	}
}

// Word is a single transcribed word with timing.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score,omitempty"`
}

// Segment is a transcribed sentence-level span.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// Stem names one separated track inside a separation result. Artifact is the
// raw-artifact name holding the audio, empty when the provider returned no
// audio for the stem.
type Stem struct {
	Name     string `json:"name"`
	Artifact string `json:"artifact,omitempty"`
}

// SeparationPayload is the normalized output of the separation stage.
type SeparationPayload struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Stems    []Stem `json:"stems"`
}

// VocalStem locates the primary vocal track. Providers package the same
// semantic role under several naming conventions, so matching is tolerant.
func (p *SeparationPayload) VocalStem() (Stem, bool) {
	for _, stem := range p.Stems {
		if IsVocalStemName(stem.Name) {
			return stem, true
		}
	}
	return Stem{}, false
}

// TranscriptionPayload is the normalized output of the transcription stage.
type TranscriptionPayload struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Language string    `json:"language"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Words    []Word    `json:"words"`
}

// WordsDigest hashes the word sequence so downstream cache keys change when
// the transcript changes, even for identical audio.
func (p *TranscriptionPayload) WordsDigest() string {
	compact, err := json.Marshal(p.Words)
	if err != nil {
		// Words is a plain slice of plain structs; Marshal cannot fail.
		panic(fmt.Sprintf("marshal words: %v", err))
	}
	return hashing.Digest(compact)
}

// Vec3 is a 3D position with components in [-1, 1].
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// WordPosition pairs a transcript word with its predicted spatial placement.
type WordPosition struct {
	Index      int     `json:"index"`
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Score      float64 `json:"score,omitempty"`
	Position   Vec3    `json:"position"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// PositionPayload is the normalized output of the position-prediction stage.
type PositionPayload struct {
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Language       string         `json:"language,omitempty"`
	WordCount      int            `json:"word_count"`
	Positions      []WordPosition `json:"positions"`
	FallbackChunks int            `json:"fallback_chunks"`
	ChunkSize      int            `json:"chunk_size,omitempty"`
}
