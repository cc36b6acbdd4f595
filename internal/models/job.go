package models

import (
	"time"
)

// JobState enumerates lifecycle states persisted in Postgres.
const (
	StatePending   = "PENDING"
	StateRunning   = "RUNNING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
)

// Job types understood by the worker.
const (
	JobTypeCatalogImport   = "catalog_import"
	JobTypeWebhookDispatch = "webhook_dispatch"
)

// Job represents a task persisted in Postgres.
type Job struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	State         string         `json:"state"`
	StatusMessage string         `json:"status_message"`
	Progress      int            `json:"progress"`
	Result        map[string]any `json:"result,omitempty"`
	WorkerID      *string        `json:"worker_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

// JobStatus is the polling view of a job. Progress is only reported while
// the job runs or once it has succeeded.
type JobStatus struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	State         string `json:"state"`
	StatusMessage string `json:"status_message"`
	Progress      *int   `json:"progress,omitempty"`
}

// Status builds the polling view.
func (j Job) Status() JobStatus {
	st := JobStatus{
		ID:            j.ID,
		Type:          j.Type,
		State:         j.State,
		StatusMessage: j.StatusMessage,
	}
	switch j.State {
	case StateRunning:
		p := j.Progress
		st.Progress = &p
	case StateSucceeded:
		p := 100
		st.Progress = &p
	}
	return st
}
