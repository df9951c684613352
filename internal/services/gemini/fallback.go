package gemini

import (
	"math"

	"soundstage/internal/stage"
)

const fallbackConfidence = 0.45

// DeterministicPositions lays a chunk of words on a horizontal ring with a
// gentle vertical wave. The layout depends only on chunk size and order, so
// fallback output is reproducible across runs.
func DeterministicPositions(words []stage.Word, baseIndex int) []stage.WordPosition {
	n := len(words)
	if n == 0 {
		return nil
	}
	denom := float64(n - 1)
	if denom < 1 {
		denom = 1
	}

	out := make([]stage.WordPosition, 0, n)
	for i, word := range words {
		frac := float64(i) / denom
		angle := 2 * math.Pi * frac
		out = append(out, stage.WordPosition{
			Index: baseIndex + i,
			Word:  word.Word,
			Start: word.Start,
			End:   word.End,
			Score: word.Score,
			Position: stage.Vec3{
				X: round4(math.Cos(angle)),
				Y: round4(0.15 * math.Sin(angle*2)),
				Z: round4(math.Sin(angle)),
			},
			Confidence: fallbackConfidence,
			Method:     "deterministic-fallback",
		})
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
