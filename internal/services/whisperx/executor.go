// Package whisperx runs the transcription stage against a hosted WhisperX
// endpoint, with a deterministic placeholder for offline operation.
package whisperx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"soundstage/internal/config"
	"soundstage/internal/logging"
	"soundstage/internal/services"
	"soundstage/internal/stage"
	"soundstage/internal/stagecache"
)

// Client abstracts the transcription backend behind the executor.
type Client interface {
	Transcribe(ctx context.Context, vocalPath, contentDigest, language string) (*stage.TranscriptionPayload, []stage.RawArtifact, error)
	Ping(ctx context.Context) error
}

// Executor adapts a transcription Client to the pipeline's stage contract.
type Executor struct {
	cfg    config.Transcription
	client Client
	logger *slog.Logger
}

// NewExecutor selects the client for the configured provider.
func NewExecutor(cfg config.Transcription, logger *slog.Logger) (*Executor, error) {
	var client Client
	switch cfg.Provider {
	case "placeholder":
		client = &PlaceholderClient{Model: cfg.Model}
	case "whisperx":
		client = NewHTTPClient(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, string(stage.Transcription), "new executor", "unknown provider "+cfg.Provider, nil)
	}
	return &Executor{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, "whisperx"),
	}, nil
}

func (e *Executor) Stage() stage.Stage { return stage.Transcription }

// CacheKey combines the audio content with the normalized language hint. An
// empty language is a distinct key meaning auto-detect.
func (e *Executor) CacheKey(in stage.Input) (string, error) {
	if in.ContentDigest == "" {
		return "", services.Wrap(services.ErrValidation, string(stage.Transcription), "cache key", "missing content digest", nil)
	}
	return stagecache.KeyForTranscription(in.ContentDigest, in.Language), nil
}

func (e *Executor) Execute(ctx context.Context, in stage.Input) (*stage.Result, error) {
	if in.Separation == nil {
		return nil, services.Wrap(services.ErrValidation, string(stage.Transcription), "execute", "missing separation result", nil)
	}
	payload, raw, err := e.client.Transcribe(ctx, in.VocalStemPath, in.ContentDigest, in.Language)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Transcription), "execute", "encode payload", err)
	}
	e.logger.Info("transcription complete",
		logging.String(logging.FieldJobID, in.JobID),
		logging.String("language", payload.Language),
		logging.Int("words", len(payload.Words)))
	return &stage.Result{Stage: stage.Transcription, Payload: encoded, Raw: raw}, nil
}

func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	health := stage.Health{Stage: stage.Transcription, Provider: e.cfg.Provider, Ready: true}
	if err := e.client.Ping(ctx); err != nil {
		health.Ready = false
		health.Detail = fmt.Sprintf("transcription backend unreachable: %v", err)
	}
	return health
}
