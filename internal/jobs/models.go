package jobs

import (
	"time"

	"soundstage/internal/stage"
)

// Status represents the lifecycle of a processing job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DaemonRestartNote is recorded when running jobs are returned to pending
// after an unclean shutdown.
const DaemonRestartNote = "requeued after daemon restart"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus validates a user-supplied status string.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether a job in this status will never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StageState is the lifecycle of a single stage within a job.
type StageState string

const (
	StageNotStarted       StageState = "not_started"
	StageCacheHit         StageState = "cache_hit"
	StageCacheMissRunning StageState = "cache_miss_running"
	StageDone             StageState = "done"
	StageError            StageState = "error"
)

// StageRecord captures one stage's outcome for a job. It is persisted as
// JSON inside the job row because stages are always read and written with
// their job, never queried independently.
type StageRecord struct {
	State       StageState `json:"state"`
	CacheKey    string     `json:"cache_key,omitempty"`
	CacheHit    bool       `json:"cache_hit,omitempty"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job is one submitted audio file moving through the pipeline.
type Job struct {
	ID              string
	Status          Status
	InputFile       string
	InputDigest     string
	Language        string
	PositionModel   string
	ErrorMessage    string
	ErrorKind       string
	CancelRequested bool
	Stages          map[stage.Stage]*StageRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// NewStageRecords returns the initial per-stage map with every stage
// untouched.
func NewStageRecords() map[stage.Stage]*StageRecord {
	records := make(map[stage.Stage]*StageRecord, len(stage.All()))
	for _, st := range stage.All() {
		records[st] = &StageRecord{State: StageNotStarted}
	}
	return records
}

// StageRecord returns the record for a stage, creating it when the job
// predates the stage.
func (j *Job) StageRecord(st stage.Stage) *StageRecord {
	if j.Stages == nil {
		j.Stages = NewStageRecords()
	}
	record, ok := j.Stages[st]
	if !ok {
		record = &StageRecord{State: StageNotStarted}
		j.Stages[st] = record
	}
	return record
}
