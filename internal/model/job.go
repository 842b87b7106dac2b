package model

import "time"

// JobStatus is the lifecycle state of a research job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	}
	return false
}

// Job is one batch research run over an ordered list of organizations.
// Insertion order is meaningful: it determines result ordering and the
// checkpoint cursor.
type Job struct {
	ID            string     `json:"id"`
	CallerRef     string     `json:"caller_ref,omitempty"`
	Organizations []string   `json:"organizations"`
	Status        JobStatus  `json:"status"`
	Concurrency   int        `json:"concurrency"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}
