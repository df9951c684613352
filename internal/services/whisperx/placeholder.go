package whisperx

import (
	"context"
	"strings"

	"soundstage/internal/stage"
)

var placeholderSyllables = []string{
	"la", "na", "da", "mi", "so", "ra", "ve", "lo",
	"tu", "sha", "ne", "ko", "ri", "mo", "sa", "el",
}

const (
	placeholderMinWords    = 16
	placeholderWordSpacing = 0.5
	placeholderWordLength  = 0.4
	placeholderSegmentSize = 8
)

// PlaceholderClient synthesizes a deterministic transcript from the content
// digest. The same audio always yields the same words and timings, which is
// what makes downstream cache keys reproducible in offline mode.
type PlaceholderClient struct {
	Model string
}

func (c *PlaceholderClient) Transcribe(_ context.Context, _ string, contentDigest, language string) (*stage.TranscriptionPayload, []stage.RawArtifact, error) {
	seed := contentDigest
	if seed == "" {
		seed = "0"
	}

	count := placeholderMinWords + int(hexValue(seed[0]))%8
	words := make([]stage.Word, 0, count)
	for i := 0; i < count; i++ {
		first := placeholderSyllables[hexValue(seed[(2*i)%len(seed)])]
		second := placeholderSyllables[hexValue(seed[(2*i+1)%len(seed)])]
		start := placeholderWordSpacing * float64(i)
		words = append(words, stage.Word{
			Word:  first + second,
			Start: start,
			End:   start + placeholderWordLength,
			Score: 0.9,
		})
	}

	segments := make([]stage.Segment, 0, (count+placeholderSegmentSize-1)/placeholderSegmentSize)
	for offset := 0; offset < len(words); offset += placeholderSegmentSize {
		end := offset + placeholderSegmentSize
		if end > len(words) {
			end = len(words)
		}
		chunk := words[offset:end]
		texts := make([]string, len(chunk))
		for i, w := range chunk {
			texts[i] = w.Word
		}
		segments = append(segments, stage.Segment{
			Text:  strings.Join(texts, " "),
			Start: chunk[0].Start,
			End:   chunk[len(chunk)-1].End,
			Words: chunk,
		})
	}

	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Word
	}

	resolved := language
	if resolved == "" {
		resolved = "unknown"
	}
	payload := &stage.TranscriptionPayload{
		Provider: "whisperx-placeholder",
		Model:    c.Model,
		Language: resolved,
		Text:     strings.Join(texts, " "),
		Segments: segments,
		Words:    words,
	}
	return payload, nil, nil
}

func (c *PlaceholderClient) Ping(context.Context) error { return nil }

func hexValue(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	default:
		return int(ch) % 16
	}
}
