package ports

import (
	"context"

	"bookgen/internal/core/domain"
)

// GenerationAPI defines the contract for the remote book generation service.
type GenerationAPI interface {
	// StartGeneration asks the service to generate all pending books.
	// An empty token sends no Authorization header.
	StartGeneration(ctx context.Context, token string) (*domain.StartResponse, error)

	// GetProgress fetches the current state of a generation job.
	// Non-2xx answers are returned as *domain.APIError.
	GetProgress(ctx context.Context, jobID, token string) (*domain.GenerationJob, error)
}

// Prober checks that the generation service is reachable before work starts.
type Prober interface {
	// Probe returns the path that answered, or an error when none did.
	Probe(ctx context.Context) (string, error)
}

// StateStore defines the contract for persisting tracked jobs.
type StateStore interface {
	// Save creates or replaces the record for rec.JobID.
	Save(ctx context.Context, rec domain.JobRecord) error

	// Load returns domain.ErrRecordNotFound for unknown job ids.
	Load(ctx context.Context, jobID string) (*domain.JobRecord, error)

	// Delete removes a record. Deleting an unknown job id is not an error.
	Delete(ctx context.Context, jobID string) error

	// List returns all records, most recently updated first.
	List(ctx context.Context) ([]domain.JobRecord, error)
}
