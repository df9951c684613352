package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"soundstage/internal/artifacts"
	"soundstage/internal/config"
	"soundstage/internal/jobs"
	"soundstage/internal/pipeline"
	"soundstage/internal/services"
	"soundstage/internal/services/demucs"
	"soundstage/internal/services/gemini"
	"soundstage/internal/services/whisperx"
	"soundstage/internal/stage"
	"soundstage/internal/stagecache"
	"soundstage/internal/testsupport"
)

type testEnv struct {
	cfg   *config.Config
	store *jobs.Store
	blobs *artifacts.Store
	cache *stagecache.Cache
	orc   *pipeline.Orchestrator
}

func newTestEnv(t *testing.T, opts ...testsupport.ConfigOption) *testEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := artifacts.NewStore(cfg.Paths.DataDir)
	cache := stagecache.New(blobs, cfg.CacheDir(), nil)

	execs := defaultExecutors(t, cfg)
	orc, err := pipeline.NewOrchestrator(cfg, store, blobs, cache, execs, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &testEnv{cfg: cfg, store: store, blobs: blobs, cache: cache, orc: orc}
}

func defaultExecutors(t *testing.T, cfg *config.Config) []stage.Executor {
	t.Helper()
	sep, err := demucs.NewExecutor(cfg.Separation, nil)
	if err != nil {
		t.Fatalf("demucs.NewExecutor: %v", err)
	}
	tr, err := whisperx.NewExecutor(cfg.Transcription, nil)
	if err != nil {
		t.Fatalf("whisperx.NewExecutor: %v", err)
	}
	pos, err := gemini.NewExecutor(cfg.Position, nil)
	if err != nil {
		t.Fatalf("gemini.NewExecutor: %v", err)
	}
	return []stage.Executor{sep, tr, pos}
}

func (e *testEnv) submitAndRun(t *testing.T, content []byte, lang string) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	job, err := e.orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: content, Language: lang})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := e.orc.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fetched, err := e.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return fetched
}

func (e *testEnv) jobArtifact(t *testing.T, jobID, name string) []byte {
	t.Helper()
	ref, err := artifacts.JobRef(jobID, name)
	if err != nil {
		t.Fatalf("JobRef: %v", err)
	}
	data, err := e.blobs.Get(ref)
	if err != nil {
		t.Fatalf("Get %s: %v", name, err)
	}
	return data
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, testsupport.WithMaxUploadMB(1))
	ctx := context.Background()

	if _, err := env.orc.Submit(ctx, pipeline.Submission{FileName: "a.wav"}); !errors.Is(err, pipeline.ErrEmptyUpload) {
		t.Fatalf("expected empty-upload error, got %v", err)
	}

	huge := testsupport.AudioBytes(2 << 20)
	if _, err := env.orc.Submit(ctx, pipeline.Submission{FileName: "a.wav", Content: huge}); !errors.Is(err, pipeline.ErrUploadTooLarge) {
		t.Fatalf("expected too-large error, got %v", err)
	}
}

func TestRunCompletesAllStagesOnMiss(t *testing.T) {
	env := newTestEnv(t)
	job := env.submitAndRun(t, testsupport.AudioBytes(2048), "en")

	if job.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	for _, st := range stage.All() {
		record := job.StageRecord(st)
		if record.State != jobs.StageDone {
			t.Fatalf("stage %s should be done, got %s", st, record.State)
		}
		if record.CacheHit {
			t.Fatalf("first run of stage %s must be a miss", st)
		}
		if record.CacheKey == "" {
			t.Fatalf("stage %s missing cache key", st)
		}
	}

	// Every stage payload plus the separation stems must be materialized in
	// the job namespace.
	for _, name := range []string{"separation.json", "transcription.json", "position.json", "vocals.wav"} {
		if data := env.jobArtifact(t, job.ID, name); len(data) == 0 {
			t.Fatalf("artifact %s is empty", name)
		}
	}
}

func TestIdenticalResubmissionHitsEveryStage(t *testing.T) {
	env := newTestEnv(t)
	content := testsupport.AudioBytes(4096)

	first := env.submitAndRun(t, content, "en")
	second := env.submitAndRun(t, content, "en")

	if second.Status != jobs.StatusCompleted {
		t.Fatalf("re-run should complete, got %s", second.Status)
	}
	for _, st := range stage.All() {
		firstRecord := first.StageRecord(st)
		secondRecord := second.StageRecord(st)
		if !secondRecord.CacheHit {
			t.Fatalf("stage %s should hit on identical re-submission", st)
		}
		if firstRecord.CacheKey != secondRecord.CacheKey {
			t.Fatalf("stage %s key must be reproducible", st)
		}
	}

	// Observable equivalence: stage payloads are byte-identical across jobs.
	for _, name := range []string{"separation.json", "transcription.json", "position.json"} {
		a := env.jobArtifact(t, first.ID, name)
		b := env.jobArtifact(t, second.ID, name)
		if string(a) != string(b) {
			t.Fatalf("artifact %s differs between identical submissions", name)
		}
	}
}

func TestLanguageChangeInvalidatesOnlyDownstream(t *testing.T) {
	env := newTestEnv(t)
	content := testsupport.AudioBytes(4096)

	env.submitAndRun(t, content, "en")
	second := env.submitAndRun(t, content, "es")

	if !second.StageRecord(stage.Separation).CacheHit {
		t.Fatal("separation should still hit: language does not affect its key")
	}
	if second.StageRecord(stage.Transcription).CacheHit {
		t.Fatal("transcription must miss for a new language")
	}
}

// failingTranscription stands in for a transcription backend that is down.
type failingTranscription struct {
	inner stage.Executor
}

func (f *failingTranscription) Stage() stage.Stage { return stage.Transcription }

func (f *failingTranscription) CacheKey(in stage.Input) (string, error) {
	return f.inner.CacheKey(in)
}

func (f *failingTranscription) Execute(context.Context, stage.Input) (*stage.Result, error) {
	return nil, services.Wrap(services.ErrExternalService, "transcription", "execute", "backend down", nil)
}

func (f *failingTranscription) HealthCheck(ctx context.Context) stage.Health {
	return stage.Health{Stage: stage.Transcription, Ready: false}
}

func TestUpstreamFailureSkipsDownstream(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := artifacts.NewStore(cfg.Paths.DataDir)
	cache := stagecache.New(blobs, cfg.CacheDir(), nil)

	execs := defaultExecutors(t, cfg)
	for i, exec := range execs {
		if exec.Stage() == stage.Transcription {
			execs[i] = &failingTranscription{inner: exec}
		}
	}
	orc, err := pipeline.NewOrchestrator(cfg, store, blobs, cache, execs, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	ctx := context.Background()
	job, err := orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: testsupport.AudioBytes(1024)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orc.Run(ctx, job); err == nil {
		t.Fatal("Run should surface the stage failure")
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", fetched.Status)
	}
	if fetched.ErrorKind != "execution" {
		t.Fatalf("expected execution error kind, got %q", fetched.ErrorKind)
	}
	if fetched.StageRecord(stage.Separation).State != jobs.StageDone {
		t.Fatal("separation should have completed before the failure")
	}
	if fetched.StageRecord(stage.Transcription).State != jobs.StageError {
		t.Fatal("transcription should be marked error")
	}
	if fetched.StageRecord(stage.Position).State != jobs.StageNotStarted {
		t.Fatal("position must stay not_started after an upstream failure")
	}
}

func TestCancellationBetweenStages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: testsupport.AudioBytes(1024)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, err := env.store.RequestCancel(ctx, job.ID); err != nil || !ok {
		t.Fatalf("RequestCancel: ok=%v err=%v", ok, err)
	}

	if err := env.orc.Run(ctx, job); err != nil {
		t.Fatalf("Run after cancel should finalize cleanly: %v", err)
	}
	fetched, err := env.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", fetched.Status)
	}
	for _, st := range stage.All() {
		if fetched.StageRecord(st).State == jobs.StageDone {
			t.Fatalf("no stage should complete after an immediate cancel, %s did", st)
		}
	}
}

func TestCancelledJobLeavesCacheUsable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := testsupport.AudioBytes(1024)

	// First job populates the cache, a cancelled job must not invalidate it.
	env.submitAndRun(t, content, "en")

	cancelled, err := env.orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: content, Language: "en"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := env.store.RequestCancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if err := env.orc.Run(ctx, cancelled); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := env.submitAndRun(t, content, "en")
	for _, st := range stage.All() {
		if !final.StageRecord(st).CacheHit {
			t.Fatalf("stage %s should still hit after a cancelled sibling job", st)
		}
	}
}

func TestManagerProcessesSubmissions(t *testing.T) {
	env := newTestEnv(t, testsupport.WithWorkers(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := pipeline.NewManager(env.orc, env.store, env.cfg.Pipeline.JobWorkers, nil)
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := env.orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: testsupport.AudioBytes(1024)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	manager.Notify()

	deadline := time.Now().Add(10 * time.Second)
	for {
		fetched, err := env.store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if fetched.Status.IsTerminal() {
			if fetched.Status != jobs.StatusCompleted {
				t.Fatalf("expected completed, got %s (%s)", fetched.Status, fetched.ErrorMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, status %s", fetched.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	manager.Wait()
}
