package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"soundstage/internal/artifacts"
	"soundstage/internal/config"
	"soundstage/internal/jobs"
	"soundstage/internal/pipeline"
	"soundstage/internal/services/demucs"
	"soundstage/internal/services/gemini"
	"soundstage/internal/services/whisperx"
	"soundstage/internal/stage"
	"soundstage/internal/stagecache"
	"soundstage/internal/testsupport"
)

type fixture struct {
	srv   *Server
	orc   *pipeline.Orchestrator
	store *jobs.Store
	cfg   *config.Config
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := artifacts.NewStore(cfg.Paths.DataDir)
	cache := stagecache.New(blobs, cfg.CacheDir(), nil)

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
	orc, err := pipeline.NewOrchestrator(cfg, store, blobs, cache, []stage.Executor{sep, tr, pos}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &fixture{
		srv:   New(cfg, orc, store, blobs, cache, nil, nil),
		orc:   orc,
		store: store,
		cfg:   cfg,
	}
}

func multipartBody(t *testing.T, content []byte, language string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "song.wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return body, writer.FormDataContentType()
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestSubmitAccepted(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartBody(t, testsupport.AudioBytes(1024), "en")

	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(t, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.ID == "" || view.Status != "pending" || view.Language != "en" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestSubmitEmptyFileIs400(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartBody(t, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(t, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitOversizedIs413(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxUploadMB(1))
	body, contentType := multipartBody(t, testsupport.AudioBytes(2<<20), "")

	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(t, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/jobs/nope", nil)
	if rec := f.do(t, req); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJobViewAndArtifactAfterRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: testsupport.AudioBytes(2048), Language: "en"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.orc.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view struct {
		Status    string   `json:"status"`
		Artifacts []string `json:"artifacts"`
		Stages    map[string]struct {
			State string `json:"state"`
		} `json:"stages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Status != "completed" {
		t.Fatalf("expected completed, got %s", view.Status)
	}
	if len(view.Artifacts) == 0 {
		t.Fatal("expected artifacts in job view")
	}
	if view.Stages["position"].State != "done" {
		t.Fatalf("expected position done, got %+v", view.Stages)
	}

	artifact := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/artifacts/position.json", nil)
	got := f.do(t, artifact)
	if got.Code != http.StatusOK {
		t.Fatalf("expected artifact 200, got %d", got.Code)
	}
	if len(got.Body.Bytes()) == 0 {
		t.Fatal("artifact body empty")
	}

	missing := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/artifacts/absent.json", nil)
	if rec := f.do(t, missing); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing artifact, got %d", rec.Code)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orc.Submit(ctx, pipeline.Submission{FileName: "song.wav", Content: testsupport.AudioBytes(512)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.orc.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/cancel", nil)
	if rec := f.do(t, req); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHealthAndCacheStats(t *testing.T) {
	f := newFixture(t)

	health := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if rec := f.do(t, health); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	stats := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	rec := f.do(t, stats)
	if rec.Code != http.StatusOK {
		t.Fatalf("cache stats: expected 200, got %d", rec.Code)
	}
	var decoded struct {
		Entries map[string]int `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
}
