package demucs

import (
	"context"
	"fmt"

	"soundstage/internal/stage"
)

var placeholderStems = []string{"vocals", "drums", "bass", "other"}

// PlaceholderClient synthesizes four deterministic stems from the content
// digest. Output is stable per input so cache keys and payload equality
// behave exactly as they would with a real backend.
type PlaceholderClient struct {
	Model string
}

func (c *PlaceholderClient) Separate(_ context.Context, _ string, contentDigest string) (*stage.SeparationPayload, []stage.RawArtifact, error) {
	payload := &stage.SeparationPayload{
		Provider: "demucs-placeholder",
		Model:    c.Model,
		Stems:    make([]stage.Stem, 0, len(placeholderStems)),
	}
	raw := make([]stage.RawArtifact, 0, len(placeholderStems))

	for _, name := range placeholderStems {
		artifact := name + ".wav"
		payload.Stems = append(payload.Stems, stage.Stem{Name: name, Artifact: artifact})
		raw = append(raw, stage.RawArtifact{
			Name: artifact,
			Data: []byte(fmt.Sprintf("PLACEHOLDER-STEM %s %s", name, contentDigest)),
		})
	}
	return payload, raw, nil
}

func (c *PlaceholderClient) Ping(context.Context) error { return nil }
