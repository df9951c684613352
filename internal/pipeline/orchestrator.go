// Package pipeline sequences the three processing stages for each job,
// consulting the stage cache before every execution and persisting job state
// at each transition. Stages within a job are strictly sequential; jobs run
// concurrently under the Manager.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"soundstage/internal/artifacts"
	"soundstage/internal/config"
	"soundstage/internal/hashing"
	"soundstage/internal/jobs"
	"soundstage/internal/language"
	"soundstage/internal/logging"
	"soundstage/internal/metrics"
	"soundstage/internal/services"
	"soundstage/internal/stage"
	"soundstage/internal/stagecache"
)

// ErrUploadTooLarge is returned by Submit when the upload exceeds the
// configured ceiling. The HTTP layer maps it to 413.
var ErrUploadTooLarge = errors.New("upload too large")

// ErrEmptyUpload is returned by Submit for zero-byte content. The HTTP
// layer maps it to 400.
var ErrEmptyUpload = errors.New("empty upload")

const inputArtifactName = "input.audio"

// Submission is the validated boundary between the upload transport and the
// pipeline. The orchestrator never sees multipart framing.
type Submission struct {
	FileName string
	Content  []byte
	Language string
}

// Orchestrator owns the per-job state machine.
type Orchestrator struct {
	cfg       *config.Config
	store     *jobs.Store
	blobs     *artifacts.Store
	cache     *stagecache.Cache
	executors map[stage.Stage]stage.Executor
	logger    *slog.Logger
}

// NewOrchestrator wires the orchestrator. Executors must cover every stage.
func NewOrchestrator(
	cfg *config.Config,
	store *jobs.Store,
	blobs *artifacts.Store,
	cache *stagecache.Cache,
	executors []stage.Executor,
	logger *slog.Logger,
) (*Orchestrator, error) {
	byStage := make(map[stage.Stage]stage.Executor, len(executors))
	for _, exec := range executors {
		byStage[exec.Stage()] = exec
	}
	for _, st := range stage.All() {
		if _, ok := byStage[st]; !ok {
			return nil, services.Wrap(services.ErrConfiguration, string(st), "new orchestrator", "missing executor", nil)
		}
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		cache:     cache,
		executors: byStage,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}, nil
}

// Submit validates an upload, persists it as a job artifact, and creates a
// pending job. Processing happens later on a Manager worker.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*jobs.Job, error) {
	if len(sub.Content) == 0 {
		return nil, ErrEmptyUpload
	}
	if int64(len(sub.Content)) > o.cfg.MaxUploadBytes() {
		return nil, ErrUploadTooLarge
	}

	digest := hashing.Digest(sub.Content)
	lang := language.Normalize(sub.Language)

	job, err := o.store.NewJob(ctx, filepath.Base(strings.TrimSpace(sub.FileName)), digest, lang, o.cfg.Position.Model)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "submit", "create job", err)
	}

	ref, err := artifacts.JobRef(job.ID, inputArtifactName)
	if err != nil {
		return nil, err
	}
	if err := o.blobs.Put(ref, sub.Content); err != nil {
		return nil, err
	}

	metrics.JobSubmitted()
	o.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("input_file", job.InputFile),
		logging.String("language", lang),
		logging.Int("bytes", len(sub.Content)))
	return job, nil
}

// Run drives one job through the stage sequence. It is idempotent for
// terminal jobs and safe to call on a freshly claimed running job.
func (o *Orchestrator) Run(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.Status.IsTerminal() {
		return nil
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := o.logger.With(logging.String(logging.FieldJobID, job.ID))

	if job.Status != jobs.StatusRunning {
		now := time.Now().UTC()
		job.Status = jobs.StatusRunning
		job.StartedAt = &now
		if err := o.store.Update(ctx, job); err != nil {
			return err
		}
	}

	inputRef, err := artifacts.JobRef(job.ID, inputArtifactName)
	if err != nil {
		return o.failJob(ctx, logger, job, nil, err)
	}
	in := stage.Input{
		JobID:         job.ID,
		SourcePath:    o.blobs.AbsPath(inputRef),
		ContentDigest: job.InputDigest,
		Language:      job.Language,
	}

	for _, st := range stage.All() {
		cancelled, err := o.store.CancelRequested(ctx, job.ID)
		if err != nil {
			return o.failJob(ctx, logger, job, nil, err)
		}
		if cancelled || ctx.Err() != nil {
			return o.cancelJob(ctx, logger, job)
		}

		payload, err := o.runStage(ctx, logger, job, st, &in)
		if err != nil {
			return o.failJob(ctx, logger, job, &st, err)
		}
		if err := o.advanceInput(st, payload, job, &in); err != nil {
			return o.failJob(ctx, logger, job, &st, err)
		}
	}

	now := time.Now().UTC()
	job.Status = jobs.StatusCompleted
	job.FinishedAt = &now
	job.ErrorMessage = ""
	job.ErrorKind = ""
	if err := o.store.Update(ctx, job); err != nil {
		return err
	}
	logger.Info("job completed", logging.String(logging.FieldEventType, "job_completed"))
	return nil
}

// runStage resolves one stage through the cache and returns its payload.
func (o *Orchestrator) runStage(ctx context.Context, logger *slog.Logger, job *jobs.Job, st stage.Stage, in *stage.Input) ([]byte, error) {
	ctx = services.WithStage(ctx, string(st))
	exec := o.executors[st]
	record := job.StageRecord(st)
	now := time.Now().UTC()
	record.StartedAt = &now

	key, err := exec.CacheKey(*in)
	if err != nil {
		return nil, err
	}
	record.CacheKey = key

	entry, hit, err := o.cache.Lookup(st, key)
	if err != nil {
		return nil, err
	}
	metrics.ObserveCacheLookup(string(st), hit)

	var payload []byte
	if hit {
		record.State = jobs.StageCacheHit
		record.CacheHit = true
		if err := o.store.Update(ctx, job); err != nil {
			return nil, err
		}
		payload, err = o.cache.Payload(entry)
		if err != nil {
			return nil, err
		}
		logger.Info("stage served from cache",
			logging.String(logging.FieldStage, string(st)),
			logging.String(logging.FieldCacheKey, key))
	} else {
		record.State = jobs.StageCacheMissRunning
		record.CacheHit = false
		if err := o.store.Update(ctx, job); err != nil {
			return nil, err
		}

		logger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.String(logging.FieldStage, string(st)),
			logging.String(logging.FieldCacheKey, key))
		started := time.Now()
		result, execErr := exec.Execute(ctx, *in)
		if execErr != nil {
			return nil, execErr
		}
		metrics.ObserveStageDuration(string(st), time.Since(started))

		entry, err = o.cache.Store(st, key, result)
		if err != nil {
			return nil, err
		}
		payload = result.Payload
	}

	names, err := o.materialize(job.ID, st, entry, payload)
	if err != nil {
		return nil, err
	}
	record.Artifacts = names
	record.State = jobs.StageDone
	completed := time.Now().UTC()
	record.CompletedAt = &completed
	if err := o.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return payload, nil
}

// materialize copies a stage's payload and raw artifacts into the job
// namespace, so retrieval is uniform for cached and fresh results.
func (o *Orchestrator) materialize(jobID string, st stage.Stage, entry *stagecache.Entry, payload []byte) ([]string, error) {
	payloadName := string(st) + ".json"
	payloadRef, err := artifacts.JobRef(jobID, payloadName)
	if err != nil {
		return nil, err
	}
	if err := o.blobs.Put(payloadRef, payload); err != nil {
		return nil, err
	}
	names := []string{payloadName}

	for name := range entry.Raw {
		src, ok, err := entry.RawRef(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dst, err := artifacts.JobRef(jobID, name)
		if err != nil {
			return nil, err
		}
		if err := o.blobs.Copy(src, dst); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// advanceInput feeds one stage's output into the next stage's input.
func (o *Orchestrator) advanceInput(st stage.Stage, payload []byte, job *jobs.Job, in *stage.Input) error {
	switch st {
	case stage.Separation:
		var sep stage.SeparationPayload
		if err := json.Unmarshal(payload, &sep); err != nil {
			return services.Wrap(services.ErrStorage, string(st), "advance", "decode payload", err)
		}
		in.Separation = &sep
		if vocal, ok := sep.VocalStem(); ok && vocal.Artifact != "" {
			ref, err := artifacts.JobRef(job.ID, vocal.Artifact)
			if err != nil {
				return err
			}
			in.VocalStemPath = o.blobs.AbsPath(ref)
		}
	case stage.Transcription:
		var tr stage.TranscriptionPayload
		if err := json.Unmarshal(payload, &tr); err != nil {
			return services.Wrap(services.ErrStorage, string(st), "advance", "decode payload", err)
		}
		in.Transcript = &tr
	case stage.Position:
		var pos stage.PositionPayload
		if err := json.Unmarshal(payload, &pos); err != nil {
			return services.Wrap(services.ErrStorage, string(st), "advance", "decode payload", err)
		}
		metrics.AddFallbackChunks(pos.FallbackChunks)
	}
	return nil
}

// failJob records a stage failure and moves the job to its terminal failed
// state. Downstream stages stay not_started because their keys derive from
// the failed stage's output.
func (o *Orchestrator) failJob(ctx context.Context, logger *slog.Logger, job *jobs.Job, st *stage.Stage, cause error) error {
	if st != nil {
		record := job.StageRecord(*st)
		record.State = jobs.StageError
		record.Error = cause.Error()
	}
	now := time.Now().UTC()
	job.Status = jobs.StatusFailed
	job.ErrorMessage = cause.Error()
	job.ErrorKind = services.ErrorKind(cause)
	job.FinishedAt = &now

	if err := o.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
		return err
	}
	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String("error_kind", job.ErrorKind),
		logging.Error(cause))
	return cause
}

// cancelJob finalizes a cancellation observed at a stage boundary. Cache
// entries committed before the cancel stay valid for other jobs.
func (o *Orchestrator) cancelJob(ctx context.Context, logger *slog.Logger, job *jobs.Job) error {
	now := time.Now().UTC()
	job.Status = jobs.StatusCancelled
	job.FinishedAt = &now
	if err := o.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist cancellation", logging.Error(err))
		return err
	}
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	return nil
}

// Health reports executor readiness for the daemon health endpoint.
func (o *Orchestrator) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(o.executors))
	for _, st := range stage.All() {
		out = append(out, o.executors[st].HealthCheck(ctx))
	}
	return out
}
