package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airsenalops/api/internal/airsenal"
	"github.com/airsenalops/api/internal/config"
	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/store"
	"github.com/airsenalops/api/internal/storesync"
)

// ErrNotRunning is returned by Cancel for any job other than the one
// currently executing.
var ErrNotRunning = errors.New("job is not currently running")

// ProcessRunner executes one subprocess, streaming its output onto the
// supplied channel.
type ProcessRunner interface {
	Run(ctx context.Context, argv []string, env map[string]string, lines chan<- string) ([]string, int, error)
	Terminate()
}

// StorageSync moves the CLI database between durable and scratch paths.
type StorageSync interface {
	Hydrate(jobID string) error
	Persist(jobID string) error
	LocalPath() string
	Home() string
}

// OutputParser structures the captured output of a finished run.
type OutputParser interface {
	Parse(command model.JobCommand, parameters map[string]any, logs []string) *model.JobOutput
}

// Broadcaster fans job events out to live subscribers.
type Broadcaster interface {
	BroadcastLog(jobID, message string)
	BroadcastStatus(jobID string, status model.JobStatus, errMsg string)
	BroadcastRetry(jobID string, retryCount int)
	BroadcastOutput(jobID string, output *model.JobOutput)
}

// Recorder receives queue lifecycle events for instrumentation.
type Recorder interface {
	JobSubmitted(command string)
	JobCompleted(command string, duration time.Duration)
	JobFailed(command string)
	JobRetried(command string)
	JobCancelled(command string)
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted(string)                {}
func (nopRecorder) JobCompleted(string, time.Duration) {}
func (nopRecorder) JobFailed(string)                   {}
func (nopRecorder) JobRetried(string)                  {}
func (nopRecorder) JobCancelled(string)                {}

// Deps are the collaborators a Queue drives.
type Deps struct {
	Jobs    store.JobStore
	Secrets store.SecretStore
	Runner  ProcessRunner
	Sync    StorageSync
	Parser  OutputParser
	Hub     Broadcaster
	Metrics Recorder
}

// Queue serializes job execution: one worker goroutine claims pending
// jobs oldest-first and runs them to a terminal state, retrying failed
// runs up to the configured bound. The worker starts on demand and
// exits when the queue drains; submissions only enqueue and never touch
// execution state.
type Queue struct {
	jobs    store.JobStore
	secrets store.SecretStore
	runner  ProcessRunner
	syncer  StorageSync
	parser  OutputParser
	hub     Broadcaster
	rec     Recorder
	cfg     config.QueueConfig
	logger  *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	processing bool
	closed     bool
	currentID  string
	cancels    map[string]struct{}
}

func New(deps Deps, cfg config.QueueConfig, logger *slog.Logger) *Queue {
	rec := deps.Metrics
	if rec == nil {
		rec = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:    deps.Jobs,
		secrets: deps.Secrets,
		runner:  deps.Runner,
		syncer:  deps.Sync,
		parser:  deps.Parser,
		hub:     deps.Hub,
		rec:     rec,
		cfg:     cfg,
		logger:  logger,
		baseCtx: ctx,
		stop:    cancel,
		cancels: make(map[string]struct{}),
	}
}

// Start reconciles state left behind by a previous process and resumes
// the worker if anything is waiting. Jobs found running are requeued as
// pending; jobs caught mid-cancellation are finalised as cancelled.
func (q *Queue) Start(ctx context.Context) error {
	requeued, cancelled, err := q.jobs.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	for _, id := range requeued {
		q.logger.Warn("requeued job interrupted by restart", "job_id", id)
		q.emit(ctx, id, "Job requeued after server restart")
	}
	for _, id := range cancelled {
		q.logger.Warn("finalised cancellation interrupted by restart", "job_id", id)
	}

	pending, err := q.jobs.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("count pending jobs: %w", err)
	}
	if pending > 0 {
		q.startWorker()
	}
	return nil
}

// Submit persists a new pending job and wakes the worker. It returns
// immediately; execution happens on the worker goroutine.
func (q *Queue) Submit(ctx context.Context, command model.JobCommand, parameters map[string]any) (*model.Job, error) {
	job := &model.Job{
		ID:         uuid.NewString(),
		Command:    command,
		Status:     model.JobStatusPending,
		Parameters: parameters,
		Logs:       []string{},
		MaxRetries: q.cfg.MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	q.rec.JobSubmitted(string(command))
	q.logger.Info("job added to queue", "job_id", job.ID, "command", command)
	q.startWorker()
	return job, nil
}

// Cancel requests termination of the currently-executing job. Any other
// id fails with ErrNotRunning, as does a job whose process has already
// returned; re-cancelling the same job is a no-op.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	if q.currentID != jobID {
		q.mu.Unlock()
		return ErrNotRunning
	}
	if _, ok := q.cancels[jobID]; ok {
		q.mu.Unlock()
		q.logger.Warn("job already being cancelled", "job_id", jobID)
		return nil
	}
	q.cancels[jobID] = struct{}{}
	q.mu.Unlock()

	q.logger.Info("cancelling job", "job_id", jobID)
	q.emit(ctx, jobID, "Cancellation requested by user. Attempting to terminate process...")
	q.setStatus(ctx, jobID, model.JobStatusCancelling, store.StatusUpdate{})

	q.runner.Terminate()
	return nil
}

// Shutdown stops claiming jobs, terminates any live subprocess and
// waits for the worker to settle, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.stop()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("job queue stopped")
	case <-ctx.Done():
		q.logger.Warn("job queue shutdown timed out with worker still active")
	}
}

func (q *Queue) startWorker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing || q.closed {
		return
	}
	q.processing = true
	q.wg.Add(1)
	go q.work()
}

func (q *Queue) work() {
	defer q.wg.Done()
	q.logger.Info("job queue processing started")

	for {
		if q.baseCtx.Err() != nil {
			q.settle()
			return
		}

		job, err := q.jobs.NextPending(q.baseCtx)
		if err != nil {
			q.logger.Error("failed to claim next job", "error", err)
			q.settle()
			return
		}
		if job == nil {
			// Re-check while holding the lock so a submission racing
			// the drain cannot strand its job: Submit either sees the
			// worker still marked busy here, or starts a fresh one
			// after we reset.
			q.mu.Lock()
			job, err = q.jobs.NextPending(q.baseCtx)
			if err != nil || job == nil {
				q.resetLocked()
				q.mu.Unlock()
				if err != nil {
					q.logger.Error("failed to claim next job", "error", err)
				}
				q.logger.Info("job queue processing finished")
				return
			}
			q.mu.Unlock()
		}

		q.process(job)
	}
}

func (q *Queue) settle() {
	q.mu.Lock()
	q.resetLocked()
	q.mu.Unlock()
	q.logger.Info("job queue processing finished")
}

func (q *Queue) resetLocked() {
	q.processing = false
	q.currentID = ""
	q.cancels = make(map[string]struct{})
}

func (q *Queue) process(job *model.Job) {
	q.mu.Lock()
	q.currentID = job.ID
	q.mu.Unlock()

	// Bookkeeping writes outlive a shutdown signal; only the subprocess
	// and the retry sleep are interruptible.
	opCtx := context.WithoutCancel(q.baseCtx)

	started := time.Now().UTC()
	q.setStatus(opCtx, job.ID, model.JobStatusRunning, store.StatusUpdate{StartedAt: &started})
	q.logger.Info("executing job",
		"job_id", job.ID,
		"command", job.Command,
		"attempt", job.RetryCount+1,
		"max_attempts", job.MaxRetries+1,
	)

	logs, exitCode, runErr := q.execute(opCtx, job)

	// Leave the cancel window before any terminal write. Once currentID
	// clears Cancel returns ErrNotRunning, so no cancelling mark can
	// land between the process exiting and its final status reaching
	// the store.
	q.mu.Lock()
	q.currentID = ""
	_, wasCancelled := q.cancels[job.ID]
	delete(q.cancels, job.ID)
	q.mu.Unlock()

	if wasCancelled {
		q.finalizeCancelled(opCtx, job)
		return
	}
	if runErr != nil && q.baseCtx.Err() != nil {
		// Interrupted by shutdown: leave the record running so the next
		// start's reconciliation pass requeues it.
		q.logger.Warn("job interrupted by shutdown, will be requeued on next start", "job_id", job.ID)
		return
	}

	switch {
	case runErr != nil:
		q.handleFailure(opCtx, job, runErr.Error(), isTerminalRunError(runErr))
	case exitCode != 0:
		q.handleFailure(opCtx, job, fmt.Sprintf("Command exited with code %d", exitCode), false)
	default:
		q.handleSuccess(opCtx, job, logs, started)
	}
}

// execute prepares the environment and storage for one attempt and runs
// the subprocess, relaying every output line to the job log and the
// hub. The relay runs on its own goroutine so slow persistence never
// stalls the subprocess read loop.
func (q *Queue) execute(opCtx context.Context, job *model.Job) ([]string, int, error) {
	argv, err := airsenal.BuildCommand(job.Command, job.Parameters)
	if err != nil {
		return nil, 0, err
	}
	env, err := q.subprocessEnv(opCtx)
	if err != nil {
		return nil, 0, err
	}

	q.emit(opCtx, job.ID, "Executing: "+strings.Join(argv, " "))
	if err := q.syncer.Hydrate(job.ID); err != nil {
		return nil, 0, err
	}
	q.emit(opCtx, job.ID, "Database hydrated")

	lines := make(chan string, 256)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for line := range lines {
			q.emit(opCtx, job.ID, line)
		}
	}()

	logs, exitCode, runErr := q.runner.Run(q.baseCtx, argv, env, lines)
	<-drained
	return logs, exitCode, runErr
}

// subprocessEnv assembles the variables layered over the parent
// environment: operator secrets, the CLI working directory when nothing
// else supplies one, and the scratch database path.
func (q *Queue) subprocessEnv(ctx context.Context) (map[string]string, error) {
	env, err := q.secrets.EnvMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	if _, ok := env["AIRSENAL_HOME"]; !ok {
		if _, present := os.LookupEnv("AIRSENAL_HOME"); !present {
			env["AIRSENAL_HOME"] = q.syncer.Home()
		}
	}
	env["AIRSENAL_DB_FILE"] = q.syncer.LocalPath()
	return env, nil
}

func (q *Queue) handleSuccess(ctx context.Context, job *model.Job, logs []string, started time.Time) {
	q.logger.Info("job completed successfully", "job_id", job.ID)

	if output := q.parser.Parse(job.Command, job.Parameters, logs); output != nil {
		if err := q.jobs.SetOutput(ctx, job.ID, output); err != nil {
			q.logger.Error("failed to store job output", "job_id", job.ID, "error", err)
		} else {
			q.hub.BroadcastOutput(job.ID, output)
		}
	}

	if err := q.syncer.Persist(job.ID); err != nil {
		q.logger.Error("failed to persist database", "job_id", job.ID, "error", err)
		q.fail(ctx, job, fmt.Sprintf("Persist failed: %v", err))
		return
	}
	q.emit(ctx, job.ID, "Database persisted successfully")

	completed := time.Now().UTC()
	q.setStatus(ctx, job.ID, model.JobStatusCompleted, store.StatusUpdate{CompletedAt: &completed})
	q.rec.JobCompleted(string(job.Command), completed.Sub(started))
}

func (q *Queue) handleFailure(ctx context.Context, job *model.Job, errMsg string, terminal bool) {
	q.logger.Warn("job failed",
		"job_id", job.ID,
		"error", errMsg,
		"retry_count", job.RetryCount,
		"max_retries", job.MaxRetries,
	)

	if !terminal && job.RetryCount < job.MaxRetries {
		delay := q.cfg.RetryDelaySeconds
		q.emit(ctx, job.ID, fmt.Sprintf(
			"Job failed, will retry in %d seconds (attempt %d/%d)",
			delay, job.RetryCount+1, job.MaxRetries,
		))

		retryCount, err := q.jobs.ScheduleRetry(ctx, job.ID)
		if err != nil {
			q.logger.Error("failed to schedule retry", "job_id", job.ID, "error", err)
			q.fail(ctx, job, errMsg)
			return
		}
		q.hub.BroadcastRetry(job.ID, retryCount)
		q.rec.JobRetried(string(job.Command))
		q.sleep(time.Duration(delay) * time.Second)
		q.logger.Info("retrying job", "job_id", job.ID)
		return
	}

	if !terminal {
		q.emit(ctx, job.ID, fmt.Sprintf("Job failed after %d retries: %s", job.MaxRetries, errMsg))
	}
	q.fail(ctx, job, errMsg)
}

func (q *Queue) fail(ctx context.Context, job *model.Job, errMsg string) {
	completed := time.Now().UTC()
	q.setStatus(ctx, job.ID, model.JobStatusFailed, store.StatusUpdate{Error: &errMsg, CompletedAt: &completed})
	q.rec.JobFailed(string(job.Command))
}

func (q *Queue) finalizeCancelled(ctx context.Context, job *model.Job) {
	q.emit(ctx, job.ID, "Job cancelled by user")
	errMsg := "Cancelled by user request"
	completed := time.Now().UTC()
	q.setStatus(ctx, job.ID, model.JobStatusCancelled, store.StatusUpdate{Error: &errMsg, CompletedAt: &completed})
	q.rec.JobCancelled(string(job.Command))
	q.logger.Info("job cancelled", "job_id", job.ID)
}

// setStatus persists a status change and broadcasts it with the same
// payload, so live subscribers and later readers observe one history.
func (q *Queue) setStatus(ctx context.Context, jobID string, status model.JobStatus, upd store.StatusUpdate) {
	if err := q.jobs.SetStatus(ctx, jobID, status, upd); err != nil {
		q.logger.Error("failed to update job status", "job_id", jobID, "status", status, "error", err)
		return
	}
	errMsg := ""
	if upd.Error != nil {
		errMsg = *upd.Error
	}
	q.hub.BroadcastStatus(jobID, status, errMsg)
	q.logger.Debug("job status updated", "job_id", jobID, "status", status)
}

// emit appends one line to the job's persisted log and broadcasts it.
func (q *Queue) emit(ctx context.Context, jobID, line string) {
	if err := q.jobs.AppendLog(ctx, jobID, line); err != nil {
		q.logger.Warn("failed to append job log", "job_id", jobID, "error", err)
	}
	q.hub.BroadcastLog(jobID, line)
}

// sleep waits for the retry delay, returning early on shutdown.
func (q *Queue) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.baseCtx.Done():
	case <-timer.C:
	}
}

func isTerminalRunError(err error) bool {
	var syncErr *storesync.SyncError
	return errors.Is(err, airsenal.ErrUnknownCommand) || errors.As(err, &syncErr)
}
