// Package gemini runs the per-word spatial position stage. Prediction is
// chunked: each chunk of transcript words goes to the Gemini API, and any
// chunk that fails after retries falls back to a deterministic ring layout
// so the stage as a whole still succeeds.
package gemini

import (
	"context"
	"encoding/json"
	"log/slog"

	"soundstage/internal/config"
	"soundstage/internal/logging"
	"soundstage/internal/services"
	"soundstage/internal/stage"
	"soundstage/internal/stagecache"
)

// ChunkPredictor predicts positions for one chunk of words. baseIndex is the
// absolute index of the chunk's first word within the full transcript.
type ChunkPredictor interface {
	PredictChunk(ctx context.Context, words []stage.Word, baseIndex int, language string) ([]stage.WordPosition, error)
}

// Executor adapts chunked position prediction to the pipeline's stage
// contract. A nil predictor means placeholder mode: every chunk uses the
// deterministic layout and no network is touched.
type Executor struct {
	cfg       config.Position
	predictor ChunkPredictor
	logger    *slog.Logger
}

// NewExecutor selects the predictor for the configured provider.
func NewExecutor(cfg config.Position, logger *slog.Logger) (*Executor, error) {
	exec := &Executor{cfg: cfg, logger: logging.NewComponentLogger(logger, "gemini")}
	switch cfg.Provider {
	case "placeholder":
	case "gemini":
		exec.predictor = NewClient(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, string(stage.Position), "new executor", "unknown provider "+cfg.Provider, nil)
	}
	return exec, nil
}

func (e *Executor) Stage() stage.Stage { return stage.Position }

// CacheKey combines the audio content, the transcript word digest, and the
// model name. A changed transcript or model invalidates only this stage.
func (e *Executor) CacheKey(in stage.Input) (string, error) {
	if in.ContentDigest == "" {
		return "", services.Wrap(services.ErrValidation, string(stage.Position), "cache key", "missing content digest", nil)
	}
	if in.Transcript == nil {
		return "", services.Wrap(services.ErrValidation, string(stage.Position), "cache key", "missing transcript", nil)
	}
	return stagecache.KeyForPosition(in.ContentDigest, in.Transcript.WordsDigest(), e.cfg.Model), nil
}

func (e *Executor) Execute(ctx context.Context, in stage.Input) (*stage.Result, error) {
	if in.Transcript == nil {
		return nil, services.Wrap(services.ErrValidation, string(stage.Position), "execute", "missing transcript", nil)
	}
	words := in.Transcript.Words

	payload := &stage.PositionPayload{
		Provider:  e.provider(),
		Model:     e.cfg.Model,
		Language:  in.Language,
		WordCount: len(words),
		Positions: []stage.WordPosition{},
	}

	if len(words) > 0 {
		payload.ChunkSize = e.chunkSize()
		for start := 0; start < len(words); start += payload.ChunkSize {
			end := start + payload.ChunkSize
			if end > len(words) {
				end = len(words)
			}
			chunk := words[start:end]

			var (
				positions []stage.WordPosition
				err       error
			)
			if e.predictor != nil {
				positions, err = e.predictor.PredictChunk(ctx, chunk, start, in.Language)
			}
			if e.predictor == nil || err != nil {
				if err != nil {
					payload.FallbackChunks++
					e.logger.Warn("chunk prediction failed, using deterministic layout",
						logging.String(logging.FieldJobID, in.JobID),
						logging.Int("base_index", start),
						logging.Error(err))
				}
				positions = DeterministicPositions(chunk, start)
			}
			payload.Positions = append(payload.Positions, positions...)
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Position), "execute", "encode payload", err)
	}
	e.logger.Info("position prediction complete",
		logging.String(logging.FieldJobID, in.JobID),
		logging.Int("words", len(words)),
		logging.Int("fallback_chunks", payload.FallbackChunks))
	return &stage.Result{Stage: stage.Position, Payload: encoded}, nil
}

func (e *Executor) HealthCheck(context.Context) stage.Health {
	health := stage.Health{Stage: stage.Position, Provider: e.cfg.Provider, Ready: true}
	if e.cfg.Provider == "gemini" && e.cfg.APIKey == "" {
		health.Ready = false
		health.Detail = "gemini api key not configured"
	}
	return health
}

func (e *Executor) provider() string {
	if e.predictor == nil {
		return "position-placeholder"
	}
	return "gemini-lyrics"
}

func (e *Executor) chunkSize() int {
	if e.cfg.ChunkSize < config.MinPositionChunkSize {
		return config.MinPositionChunkSize
	}
	return e.cfg.ChunkSize
}
