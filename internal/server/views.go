package server

import (
	"time"

	"soundstage/internal/jobs"
	"soundstage/internal/stage"
)

type stageView struct {
	State       string     `json:"state"`
	CacheHit    bool       `json:"cache_hit"`
	CacheKey    string     `json:"cache_key,omitempty"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type jobView struct {
	ID              string               `json:"id"`
	Status          string               `json:"status"`
	InputFile       string               `json:"input_file,omitempty"`
	InputDigest     string               `json:"input_digest"`
	Language        string               `json:"language,omitempty"`
	PositionModel   string               `json:"position_model,omitempty"`
	Error           string               `json:"error,omitempty"`
	ErrorKind       string               `json:"error_kind,omitempty"`
	CancelRequested bool                 `json:"cancel_requested,omitempty"`
	Stages          map[string]stageView `json:"stages"`
	Artifacts       []string             `json:"artifacts"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
}

func (s *Server) jobView(job *jobs.Job) jobView {
	view := jobView{
		ID:              job.ID,
		Status:          string(job.Status),
		InputFile:       job.InputFile,
		InputDigest:     job.InputDigest,
		Language:        job.Language,
		PositionModel:   job.PositionModel,
		Error:           job.ErrorMessage,
		ErrorKind:       job.ErrorKind,
		CancelRequested: job.CancelRequested,
		Stages:          make(map[string]stageView, len(stage.All())),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	for _, st := range stage.All() {
		record := job.StageRecord(st)
		view.Stages[string(st)] = stageView{
			State:       string(record.State),
			CacheHit:    record.CacheHit,
			CacheKey:    record.CacheKey,
			Error:       record.Error,
			Artifacts:   record.Artifacts,
			StartedAt:   record.StartedAt,
			CompletedAt: record.CompletedAt,
		}
	}
	names, err := s.blobs.ListJob(job.ID)
	if err == nil {
		view.Artifacts = names
	} else {
		view.Artifacts = []string{}
	}
	return view
}
