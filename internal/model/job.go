package model

import "time"

// JobCommand identifies which AIrsenal CLI entrypoint a job runs.
type JobCommand string

const (
	JobCommandSetupDB  JobCommand = "setup_db"
	JobCommandUpdateDB JobCommand = "update_db"
	JobCommandPredict  JobCommand = "predict"
	JobCommandOptimize JobCommand = "optimize"
	JobCommandPipeline JobCommand = "pipeline"
)

var ValidJobCommands = []JobCommand{
	JobCommandSetupDB,
	JobCommandUpdateDB,
	JobCommandPredict,
	JobCommandOptimize,
	JobCommandPipeline,
}

// Job represents one queued or executed AIrsenal CLI run
type Job struct {
	ID          string         `json:"id"`
	Command     JobCommand     `json:"command"`
	Status      JobStatus      `json:"status"`
	Parameters  map[string]any `json:"parameters"`
	Logs        []string       `json:"logs"`
	Output      *JobOutput     `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// JobCreate represents the request to submit a new job
type JobCreate struct {
	Command    JobCommand     `json:"command" validate:"required,oneof=setup_db update_db predict optimize pipeline"`
	Parameters map[string]any `json:"parameters"`
}

// JobActionResponse acknowledges an action on a single job
type JobActionResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

// LogsClearedResponse reports how many jobs had their logs cleared
type LogsClearedResponse struct {
	Success bool  `json:"success"`
	Cleared int64 `json:"cleared"`
}

// JobOutputView is the reduced job view returned by the output endpoint
type JobOutputView struct {
	ID          string         `json:"id"`
	Command     JobCommand     `json:"command"`
	Status      JobStatus      `json:"status"`
	Parameters  map[string]any `json:"parameters"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      *JobOutput     `json:"output,omitempty"`
}
