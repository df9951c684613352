package main

import "time"

// apiJob mirrors the job document returned by the daemon API.
type apiJob struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	InputFile       string              `json:"input_file"`
	InputDigest     string              `json:"input_digest"`
	Language        string              `json:"language"`
	PositionModel   string              `json:"position_model"`
	Error           string              `json:"error"`
	ErrorKind       string              `json:"error_kind"`
	CancelRequested bool                `json:"cancel_requested"`
	Stages          map[string]apiStage `json:"stages"`
	Artifacts       []string            `json:"artifacts"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type apiStage struct {
	State    string `json:"state"`
	CacheHit bool   `json:"cache_hit"`
	CacheKey string `json:"cache_key"`
	Error    string `json:"error"`
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func stageSummary(job apiJob) string {
	summary := ""
	for i, name := range []string{"separation", "transcription", "position"} {
		if i > 0 {
			summary += "/"
		}
		st, ok := job.Stages[name]
		if !ok {
			summary += "-"
			continue
		}
		switch st.State {
		case "done":
			if st.CacheHit {
				summary += "hit"
			} else {
				summary += "done"
			}
		case "not_started":
			summary += "-"
		case "cache_miss_running":
			summary += "run"
		case "cache_hit":
			summary += "hit"
		case "error":
			summary += "err"
		default:
			summary += st.State
		}
	}
	return summary
}
