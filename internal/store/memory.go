package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/airsenalops/api/internal/model"
)

// MemoryJobStore is an in-process JobStore used by tests and by
// single-binary development runs without Redis.
type MemoryJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	seq         map[string]int
	nextSeq     int
	maxLogLines int
}

func NewMemoryJobStore(maxLogLines int) *MemoryJobStore {
	return &MemoryJobStore{
		jobs:        make(map[string]*model.Job),
		seq:         make(map[string]int),
		maxLogLines: maxLogLines,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	s.seq[job.ID] = s.nextSeq
	s.nextSeq++
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryJobStore) List(_ context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sorted()
	// sorted() is oldest first; the listing wants newest first.
	jobs := make([]*model.Job, 0, limit)
	for i := len(all) - 1; i >= 0 && len(jobs) < limit; i-- {
		jobs = append(jobs, copyJob(all[i]))
	}
	return jobs, nil
}

func (s *MemoryJobStore) NextPending(_ context.Context) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.sorted() {
		if job.Status == model.JobStatusPending {
			return copyJob(job), nil
		}
	}
	return nil, nil
}

func (s *MemoryJobStore) PendingCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, job := range s.jobs {
		if job.Status == model.JobStatusPending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryJobStore) SetStatus(_ context.Context, id string, status model.JobStatus, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := model.ValidateTransition(job.Status, status); err != nil {
		return err
	}
	job.Status = status
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	return nil
}

func (s *MemoryJobStore) AppendLog(_ context.Context, id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Logs = append(job.Logs, line)
	if len(job.Logs) > s.maxLogLines {
		job.Logs = job.Logs[len(job.Logs)-s.maxLogLines:]
	}
	return nil
}

func (s *MemoryJobStore) SetOutput(_ context.Context, id string, output *model.JobOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Output = output
	return nil
}

func (s *MemoryJobStore) ScheduleRetry(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return 0, ErrNotFound
	}
	job.Status = model.JobStatusPending
	job.RetryCount++
	job.StartedAt = nil
	return job.RetryCount, nil
}

func (s *MemoryJobStore) ClearLogs(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Logs = nil
	return nil
}

func (s *MemoryJobStore) ClearAllLogs(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for _, job := range s.jobs {
		if len(job.Logs) > 0 {
			cleared++
		}
		job.Logs = nil
	}
	return cleared, nil
}

func (s *MemoryJobStore) LatestCompletedOutput(_ context.Context, command model.JobCommand) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Job
	for _, job := range s.jobs {
		if job.Command != command || job.Status != model.JobStatusCompleted || job.Output == nil {
			continue
		}
		if latest == nil || completedAfter(job, latest) {
			latest = job
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyJob(latest), nil
}

func (s *MemoryJobStore) RecoverInterrupted(_ context.Context) (requeued, cancelled []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, job := range s.sorted() {
		switch job.Status {
		case model.JobStatusRunning:
			job.Status = model.JobStatusPending
			job.StartedAt = nil
			requeued = append(requeued, job.ID)
		case model.JobStatusCancelling:
			job.Status = model.JobStatusCancelled
			job.Error = "Cancelled by user request"
			t := now
			job.CompletedAt = &t
			cancelled = append(cancelled, job.ID)
		}
	}
	return requeued, cancelled, nil
}

// sorted returns jobs oldest first, creation order breaking ties.
func (s *MemoryJobStore) sorted() []*model.Job {
	all := make([]*model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return s.seq[all[i].ID] < s.seq[all[j].ID]
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

func copyJob(job *model.Job) *model.Job {
	out := *job
	if job.Logs != nil {
		out.Logs = append([]string(nil), job.Logs...)
	} else {
		out.Logs = []string{}
	}
	if job.Parameters != nil {
		params := make(map[string]any, len(job.Parameters))
		for k, v := range job.Parameters {
			params[k] = v
		}
		out.Parameters = params
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// MemorySecretStore is the in-process SecretStore counterpart.
type MemorySecretStore struct {
	mu      sync.Mutex
	values  map[string]string
	decoder Decoder
}

func NewMemorySecretStore(decoder Decoder) *MemorySecretStore {
	if decoder == nil {
		decoder = func(v string) (string, error) { return v, nil }
	}
	return &MemorySecretStore{values: make(map[string]string), decoder: decoder}
}

func (s *MemorySecretStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemorySecretStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemorySecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return ErrNotFound
	}
	delete(s.values, key)
	return nil
}

func (s *MemorySecretStore) List(_ context.Context) ([]model.SecretStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]model.SecretStatus, 0, len(s.values))
	for key, value := range s.values {
		status := model.SecretStatus{Key: key, IsSet: value != ""}
		if status.IsSet {
			status.MaskedValue = "***"
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses, nil
}

func (s *MemorySecretStore) EnvMap(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := make(map[string]string, len(model.SubprocessSecretKeys))
	for _, key := range model.SubprocessSecretKeys {
		raw, ok := s.values[key]
		if !ok || raw == "" {
			continue
		}
		decoded, err := s.decoder(raw)
		if err != nil {
			decoded = raw
		}
		env[key] = decoded
	}
	return env, nil
}

func (s *MemorySecretStore) Decode(ctx context.Context, key string) (string, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	decoded, err := s.decoder(raw)
	if err != nil {
		return raw, nil
	}
	return decoded, nil
}
