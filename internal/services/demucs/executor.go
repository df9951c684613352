// Package demucs runs the stem-separation stage. The live client talks to a
// hosted Demucs endpoint; the placeholder synthesizes deterministic stems so
// the rest of the pipeline can run without the service.
package demucs

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

// Client abstracts the separation backend behind the executor.
type Client interface {
	Separate(ctx context.Context, audioPath, contentDigest string) (*stage.SeparationPayload, []stage.RawArtifact, error)
	Ping(ctx context.Context) error
}

// Executor adapts a separation Client to the pipeline's stage contract.
type Executor struct {
	cfg    config.Separation
	client Client
	logger *slog.Logger
}

// NewExecutor selects the client for the configured provider.
func NewExecutor(cfg config.Separation, logger *slog.Logger) (*Executor, error) {
	var client Client
	switch cfg.Provider {
	case "placeholder":
		client = &PlaceholderClient{Model: cfg.Model}
	case "demucs":
		client = NewHTTPClient(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, string(stage.Separation), "new executor", "unknown provider "+cfg.Provider, nil)
	}
	return &Executor{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, "demucs"),
	}, nil
}

func (e *Executor) Stage() stage.Stage { return stage.Separation }

// CacheKey depends only on the audio content; separation has no parameters
// that change its output identity.
func (e *Executor) CacheKey(in stage.Input) (string, error) {
	if in.ContentDigest == "" {
		return "", services.Wrap(services.ErrValidation, string(stage.Separation), "cache key", "missing content digest", nil)
	}
	return stagecache.KeyForSeparation(in.ContentDigest), nil
}

func (e *Executor) Execute(ctx context.Context, in stage.Input) (*stage.Result, error) {
	payload, raw, err := e.client.Separate(ctx, in.SourcePath, in.ContentDigest)
	if err != nil {
		return nil, err
	}
	if _, ok := payload.VocalStem(); !ok {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Separation), "execute", "no vocal stem in separation output", nil)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Separation), "execute", "encode payload", err)
	}
	e.logger.Info("separation complete",
		logging.String(logging.FieldJobID, in.JobID),
		logging.Int("stems", len(payload.Stems)))
	return &stage.Result{Stage: stage.Separation, Payload: encoded, Raw: raw}, nil
}

func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	health := stage.Health{Stage: stage.Separation, Provider: e.cfg.Provider, Ready: true}
	if err := e.client.Ping(ctx); err != nil {
		health.Ready = false
		health.Detail = fmt.Sprintf("separation backend unreachable: %v", err)
	}
	return health
}
