package jobs_test

import (
	"context"
	"testing"
	"time"

	"soundstage/internal/jobs"
	"soundstage/internal/stage"
	"soundstage/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, "song.wav", "digest-1", "en", "gemini-2.0-flash")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("new job should be pending, got %s", job.Status)
	}
	for _, st := range stage.All() {
		if job.StageRecord(st).State != jobs.StageNotStarted {
			t.Fatalf("stage %s should start not_started", st)
		}
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.InputFile != "song.wav" || fetched.Language != "en" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	found, err := store.FindByDigest(ctx, "digest-1")
	if err != nil {
		t.Fatalf("FindByDigest failed: %v", err)
	}
	if found == nil || found.ID != job.ID {
		t.Fatalf("expected to find inserted job, got %#v", found)
	}
}

func TestGetByIDMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %#v", job)
	}
}

func TestUpdateRoundTripsStageRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "song.wav", "digest-2")

	now := time.Now().UTC()
	job.Status = jobs.StatusRunning
	job.StartedAt = &now
	record := job.StageRecord(stage.Separation)
	record.State = jobs.StageDone
	record.CacheKey = "abc123"
	record.CacheHit = true
	record.Artifacts = []string{"separation.json", "vocals.wav"}
	record.CompletedAt = &now

	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got := fetched.StageRecord(stage.Separation)
	if got.State != jobs.StageDone || !got.CacheHit || got.CacheKey != "abc123" {
		t.Fatalf("stage record not round-tripped: %#v", got)
	}
	if len(got.Artifacts) != 2 {
		t.Fatalf("artifacts not round-tripped: %v", got.Artifacts)
	}
	if fetched.Status != jobs.StatusRunning || fetched.StartedAt == nil {
		t.Fatalf("job fields not round-tripped: %#v", fetched)
	}
}

func TestRequestCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "song.wav", "digest-3")

	ok, err := store.RequestCancel(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("RequestCancel on pending job: ok=%v err=%v", ok, err)
	}
	flagged, err := store.CancelRequested(ctx, job.ID)
	if err != nil || !flagged {
		t.Fatalf("CancelRequested: flagged=%v err=%v", flagged, err)
	}

	job.Status = jobs.StatusCompleted
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ok, err = store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if ok {
		t.Fatal("terminal job must not accept cancellation")
	}
}

func TestResetStuckRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "song.wav", "digest-4")
	job.Status = jobs.StatusRunning
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	count, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatalf("ResetStuckRunning: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reset job, got %d", count)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != jobs.StatusPending {
		t.Fatalf("reset job should be pending, got %s", fetched.Status)
	}
	if fetched.ErrorMessage != jobs.DaemonRestartNote {
		t.Fatalf("expected restart note, got %q", fetched.ErrorMessage)
	}
}

func TestListAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "a.wav", "digest-a")
	second := testsupport.NewJob(t, store, "b.wav", "digest-b")
	second.Status = jobs.StatusFailed
	if err := store.Update(ctx, second); err != nil {
		t.Fatalf("Update: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("List all: %d jobs, err=%v", len(all), err)
	}

	pending, err := store.List(ctx, jobs.StatusPending)
	if err != nil || len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("List pending: %#v err=%v", pending, err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[jobs.StatusPending] != 1 || stats[jobs.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestClearTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.NewJob(t, store, "a.wav", "digest-a")
	done.Status = jobs.StatusCompleted
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update: %v", err)
	}
	testsupport.NewJob(t, store, "b.wav", "digest-b")

	removed, err := store.ClearTerminal(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearTerminal: removed=%d err=%v", removed, err)
	}

	remaining, err := store.List(ctx)
	if err != nil || len(remaining) != 1 || remaining[0].Status != jobs.StatusPending {
		t.Fatalf("unexpected remaining jobs: %#v err=%v", remaining, err)
	}
}
