package jobregistry

import "time"

// JobKind identifies the operation a job performed.
type JobKind string

const (
	JobKindCompile JobKind = "compile"
	JobKindUpload  JobKind = "upload"
	JobKindFlash   JobKind = "flash"
)

// JobState is the lifecycle state of a recorded job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateRunning JobState = "running"
	JobStateSuccess JobState = "success"
	JobStateFailed  JobState = "failed"
	JobStateUnknown JobState = "unknown"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailed, JobStateUnknown:
		return true
	default:
		return false
	}
}

// JobError is the error summary persisted for a failed job.
type JobError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID     string    `json:"job_id"`
	Kind      JobKind   `json:"kind"`
	Board     string    `json:"board"`
	State     JobState  `json:"state"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Slot       int        `json:"slot,omitempty"`
	Port       string     `json:"port,omitempty"`
	Image      string     `json:"image,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
}
