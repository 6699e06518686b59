package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/airsenalops/api/internal/model"
)

const (
	keyJobsIndex   = "jobs:index"
	keyJobsPending = "jobs:pending"
)

// RedisJobStore keeps each job as a JSON record under job:<id> with its
// log lines in a companion list, plus two sorted sets indexing jobs by
// creation time. The queue is the single writer, so record updates are
// plain read-modify-write.
type RedisJobStore struct {
	rdb         *redis.Client
	maxLogLines int64
}

func NewRedisJobStore(rdb *redis.Client, maxLogLines int) *RedisJobStore {
	return &RedisJobStore{rdb: rdb, maxLogLines: int64(maxLogLines)}
}

func jobKey(id string) string     { return fmt.Sprintf("job:%s", id) }
func jobLogsKey(id string) string { return fmt.Sprintf("job:%s:logs", id) }

func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := marshalJob(job)
	if err != nil {
		return err
	}

	score := float64(job.CreatedAt.UnixNano())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, keyJobsIndex, redis.Z{Score: score, Member: job.ID})
	pipe.ZAdd(ctx, keyJobsPending, redis.Z{Score: score, Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	logs, err := s.rdb.LRange(ctx, jobLogsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load job logs: %w", err)
	}
	job.Logs = logs
	return job, nil
}

func (s *RedisJobStore) List(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return []*model.Job{}, nil
	}

	ids, err := s.rdb.ZRevRange(ctx, keyJobsIndex, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *RedisJobStore) NextPending(ctx context.Context) (*model.Job, error) {
	for {
		ids, err := s.rdb.ZRange(ctx, keyJobsPending, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("next pending job: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}

		job, err := s.getRecord(ctx, ids[0])
		if errors.Is(err, ErrNotFound) || (err == nil && job.Status != model.JobStatusPending) {
			// Stale index entry; drop it and look again.
			if remErr := s.rdb.ZRem(ctx, keyJobsPending, ids[0]).Err(); remErr != nil {
				return nil, remErr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return job, nil
	}
}

func (s *RedisJobStore) PendingCount(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, keyJobsPending).Result()
}

func (s *RedisJobStore) SetStatus(ctx context.Context, id string, status model.JobStatus, upd StatusUpdate) error {
	job, err := s.update(ctx, id, func(j *model.Job) error {
		if err := model.ValidateTransition(j.Status, status); err != nil {
			return err
		}
		j.Status = status
		if upd.Error != nil {
			j.Error = *upd.Error
		}
		if upd.StartedAt != nil {
			j.StartedAt = upd.StartedAt
		}
		if upd.CompletedAt != nil {
			j.CompletedAt = upd.CompletedAt
		}
		return nil
	})
	if err != nil {
		return err
	}

	if status == model.JobStatusPending {
		return s.rdb.ZAdd(ctx, keyJobsPending, redis.Z{
			Score:  float64(job.CreatedAt.UnixNano()),
			Member: id,
		}).Err()
	}
	return s.rdb.ZRem(ctx, keyJobsPending, id).Err()
}

func (s *RedisJobStore) AppendLog(ctx context.Context, id, line string) error {
	exists, err := s.rdb.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, jobLogsKey(id), line)
	pipe.LTrim(ctx, jobLogsKey(id), -s.maxLogLines, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisJobStore) SetOutput(ctx context.Context, id string, output *model.JobOutput) error {
	_, err := s.update(ctx, id, func(j *model.Job) error {
		j.Output = output
		return nil
	})
	return err
}

func (s *RedisJobStore) ScheduleRetry(ctx context.Context, id string) (int, error) {
	job, err := s.update(ctx, id, func(j *model.Job) error {
		j.Status = model.JobStatusPending
		j.RetryCount++
		j.StartedAt = nil
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = s.rdb.ZAdd(ctx, keyJobsPending, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: id,
	}).Err()
	return job.RetryCount, err
}

func (s *RedisJobStore) ClearLogs(ctx context.Context, id string) error {
	exists, err := s.rdb.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.rdb.Del(ctx, jobLogsKey(id)).Err()
}

func (s *RedisJobStore) ClearAllLogs(ctx context.Context) (int64, error) {
	ids, err := s.rdb.ZRange(ctx, keyJobsIndex, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	var cleared int64
	pipe := s.rdb.TxPipeline()
	cmds := make([]*redis.IntCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Del(ctx, jobLogsKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	for _, cmd := range cmds {
		cleared += cmd.Val()
	}
	return cleared, nil
}

func (s *RedisJobStore) LatestCompletedOutput(ctx context.Context, command model.JobCommand) (*model.Job, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyJobsIndex, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var latest *model.Job
	for _, id := range ids {
		job, err := s.getRecord(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
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
	return latest, nil
}

func (s *RedisJobStore) RecoverInterrupted(ctx context.Context) (requeued, cancelled []string, err error) {
	ids, err := s.rdb.ZRange(ctx, keyJobsIndex, 0, -1).Result()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		job, err := s.getRecord(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return requeued, cancelled, err
		}

		switch job.Status {
		case model.JobStatusRunning:
			if _, err := s.update(ctx, id, func(j *model.Job) error {
				j.Status = model.JobStatusPending
				j.StartedAt = nil
				return nil
			}); err != nil {
				return requeued, cancelled, err
			}
			err := s.rdb.ZAdd(ctx, keyJobsPending, redis.Z{
				Score:  float64(job.CreatedAt.UnixNano()),
				Member: id,
			}).Err()
			if err != nil {
				return requeued, cancelled, err
			}
			requeued = append(requeued, id)
		case model.JobStatusCancelling:
			errMsg := "Cancelled by user request"
			if err := s.SetStatus(ctx, id, model.JobStatusCancelled, StatusUpdate{Error: &errMsg, CompletedAt: &now}); err != nil {
				return requeued, cancelled, err
			}
			cancelled = append(cancelled, id)
		case model.JobStatusPending:
			// Heal the pending index in case the previous process died
			// between the record write and the index write.
			err := s.rdb.ZAdd(ctx, keyJobsPending, redis.Z{
				Score:  float64(job.CreatedAt.UnixNano()),
				Member: id,
			}).Err()
			if err != nil {
				return requeued, cancelled, err
			}
		}
	}
	return requeued, cancelled, nil
}

// getRecord loads the job record without its logs.
func (s *RedisJobStore) getRecord(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if job.Logs == nil {
		job.Logs = []string{}
	}
	return &job, nil
}

// update applies mutate to the stored record and writes it back. A
// mutate error aborts the write.
func (s *RedisJobStore) update(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error) {
	job, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}

	data, err := marshalJob(job)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, jobKey(id), data, 0).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// marshalJob encodes the record without logs; those live in their own list.
func marshalJob(job *model.Job) ([]byte, error) {
	record := *job
	record.Logs = nil
	data, err := json.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return data, nil
}

func completedAfter(a, b *model.Job) bool {
	switch {
	case a.CompletedAt == nil:
		return false
	case b.CompletedAt == nil:
		return true
	default:
		return a.CompletedAt.After(*b.CompletedAt)
	}
}
