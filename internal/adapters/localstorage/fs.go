package localstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"bookgen/internal/core/domain"
)

const stateFile = "state.json"

// LocalStorage implements ports.StateStore on the local filesystem.
// Each job gets <BaseDir>/jobs/<job id>/state.json.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// Save writes the record atomically.
func (s *LocalStorage) Save(ctx context.Context, rec domain.JobRecord) error {
	if err := domain.ValidateJobID(rec.JobID); err != nil {
		return err
	}
	dir := s.GetJobPath(rec.JobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write job record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close job record: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, stateFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save %s: %w", stateFile, err)
	}
	return nil
}

// Load reads the record of a job.
func (s *LocalStorage) Load(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.GetJobPath(jobID), stateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to read %s: %w", stateFile, err)
	}
	var rec domain.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s for job %s: %w", stateFile, jobID, err)
	}
	return &rec, nil
}

// Delete removes the job directory.
func (s *LocalStorage) Delete(ctx context.Context, jobID string) error {
	if err := domain.ValidateJobID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.GetJobPath(jobID)); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// List returns every stored record, most recently updated first.
func (s *LocalStorage) List(ctx context.Context) ([]domain.JobRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.BaseDir, "jobs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var records []domain.JobRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Load(ctx, entry.Name())
		if err != nil {
			// A directory without state.json is a job that never got saved.
			if errors.Is(err, domain.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// GetJobPath returns the path for a job directory. Callers validate jobID
// first; see domain.ValidateJobID.
func (s *LocalStorage) GetJobPath(jobID string) string {
	return filepath.Join(s.BaseDir, "jobs", jobID)
}
