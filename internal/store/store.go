package store

import (
	"context"
	"errors"
	"time"

	"github.com/airsenalops/api/internal/model"
)

// ErrNotFound is returned when a job or secret does not exist.
var ErrNotFound = errors.New("not found")

// StatusUpdate carries optional fields that accompany a status change.
// Nil fields are left untouched, mirroring a partial document update.
type StatusUpdate struct {
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// JobStore persists job records for the queue and the API layer.
// The queue is the only writer of job state; handlers only read,
// except for the log-clearing endpoints.
type JobStore interface {
	// Create persists a new job and indexes it by creation time.
	Create(ctx context.Context, job *model.Job) error
	// Get returns a job with its captured logs, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Job, error)
	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]*model.Job, error)
	// NextPending returns the oldest pending job by creation time,
	// or nil when the queue is drained.
	NextPending(ctx context.Context) (*model.Job, error)
	// PendingCount reports how many jobs are waiting to run.
	PendingCount(ctx context.Context) (int64, error)
	// SetStatus updates the status and any supplied optional fields.
	// Writes that are not legal lifecycle transitions are rejected.
	SetStatus(ctx context.Context, id string, status model.JobStatus, upd StatusUpdate) error
	// AppendLog appends one line to the job's log, trimming to the
	// configured cap by dropping the oldest lines.
	AppendLog(ctx context.Context, id, line string) error
	// SetOutput stores the parsed output of a completed run.
	SetOutput(ctx context.Context, id string, output *model.JobOutput) error
	// ScheduleRetry returns a failed run to pending, increments the
	// retry counter and clears started_at. Returns the new count.
	ScheduleRetry(ctx context.Context, id string) (int, error)
	// ClearLogs empties one job's log, or ErrNotFound.
	ClearLogs(ctx context.Context, id string) error
	// ClearAllLogs empties every job's log and reports how many jobs
	// actually had lines to clear.
	ClearAllLogs(ctx context.Context) (int64, error)
	// LatestCompletedOutput returns the most recently completed job for
	// command that has parsed output, or ErrNotFound.
	LatestCompletedOutput(ctx context.Context, command model.JobCommand) (*model.Job, error)
	// RecoverInterrupted reconciles state left behind by a previous
	// process: running jobs are requeued as pending (their scratch state
	// is rebuilt on the next run) and cancelling jobs are finalised as
	// cancelled. Returns the affected job ids.
	RecoverInterrupted(ctx context.Context) (requeued, cancelled []string, err error)
}

// Decoder transforms a stored secret value before use. Installations
// that store encoded values plug their codec in here; the default is
// the identity function.
type Decoder func(value string) (string, error)

// SecretStore persists the small set of operator-managed credentials.
type SecretStore interface {
	// Set upserts one secret value.
	Set(ctx context.Context, key, value string) error
	// Get returns the raw stored value, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes one secret, or ErrNotFound.
	Delete(ctx context.Context, key string) error
	// List returns the masked status of every stored secret.
	List(ctx context.Context) ([]model.SecretStatus, error)
	// EnvMap returns the decoded subprocess environment subset. A value
	// that fails to decode degrades to its raw stored form so that one
	// bad credential does not block job execution.
	EnvMap(ctx context.Context) (map[string]string, error)
	// Decode resolves one value through the decoder with the same
	// degrade-to-raw behaviour as EnvMap.
	Decode(ctx context.Context, key string) (string, error)
}
