package storesync

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/airsenalops/api/internal/config"
)

// Op names the direction of a database copy.
type Op string

const (
	OpHydrate Op = "hydrate"
	OpPersist Op = "persist"
)

// SyncError wraps a failed copy between the durable and scratch
// database paths. Both directions are fatal to the running job.
type SyncError struct {
	Op  Op
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to %s database: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Synchronizer moves the AIrsenal SQLite file between durable storage
// and the fast local scratch path jobs actually run against. The file
// is treated as an opaque byte payload.
type Synchronizer struct {
	persistentPath string
	localPath      string
	home           string
	logger         *slog.Logger
}

func New(cfg config.StorageConfig, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		persistentPath: cfg.PersistentDBPath,
		localPath:      cfg.LocalDBPath,
		home:           cfg.AirsenalHome,
		logger:         logger,
	}
}

// Hydrate copies the durable database to the scratch path before a run.
// A missing durable file is a normal first run, not an error.
func (s *Synchronizer) Hydrate(jobID string) error {
	if _, err := os.Stat(s.persistentPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no persisted database found, starting fresh", "job_id", jobID)
			return nil
		}
		return &SyncError{Op: OpHydrate, Err: err}
	}

	if err := copyFile(s.persistentPath, s.localPath); err != nil {
		return &SyncError{Op: OpHydrate, Err: err}
	}
	s.logger.Info("hydrated local database from persistent storage",
		"job_id", jobID, "source", s.persistentPath)
	return nil
}

// Persist copies the scratch database back to durable storage after a
// successful run. The copy lands in a temp file that is fsynced and
// renamed over the target, so a concurrent reader never sees a torn
// file and a crash mid-copy leaves the previous version intact.
func (s *Synchronizer) Persist(jobID string) error {
	if _, err := os.Stat(s.localPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("no local database to persist, skipping", "job_id", jobID)
			return nil
		}
		return &SyncError{Op: OpPersist, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.persistentPath), 0o755); err != nil {
		return &SyncError{Op: OpPersist, Err: err}
	}

	tmpPath := s.persistentPath + ".tmp"
	if err := copyFileSync(s.localPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return &SyncError{Op: OpPersist, Err: err}
	}
	if err := os.Rename(tmpPath, s.persistentPath); err != nil {
		os.Remove(tmpPath)
		return &SyncError{Op: OpPersist, Err: err}
	}

	s.logger.Info("persisted database to storage", "job_id", jobID, "target", s.persistentPath)
	return nil
}

// LocalPath is the scratch location handed to the CLI via its
// environment.
func (s *Synchronizer) LocalPath() string { return s.localPath }

// Home is the CLI working directory used when the environment does not
// supply one.
func (s *Synchronizer) Home() string { return s.home }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFileSync(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
