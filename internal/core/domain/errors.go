package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrAlreadyRunning is returned when a poller is asked to track a second job.
	ErrAlreadyRunning = errors.New("generation already running")
	// ErrMalformedResponse marks a response that does not match the service schema.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRecordNotFound is returned by state stores for unknown job ids.
	ErrRecordNotFound = errors.New("job record not found")
	// ErrInvalidJobID marks a job id that cannot name a job.
	ErrInvalidJobID = errors.New("invalid job id")
)

// APIError is a non-2xx answer from the generation service.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body == "" {
		return "api error " + status
	}
	return fmt.Sprintf("api error %s: %s", status, e.Body)
}

// FailureKind classifies failures surfaced to poller listeners.
type FailureKind string

const (
	FailureAlreadyRunning FailureKind = "already_running"
	FailureConnectivity   FailureKind = "connectivity"
	FailureAuth           FailureKind = "auth"
	FailurePermission     FailureKind = "permission"
	FailureNothingToDo    FailureKind = "nothing_to_do"
	FailureNotFound       FailureKind = "not_found"
	FailureServer         FailureKind = "server"
	FailureNetwork        FailureKind = "network"
	FailureMalformed      FailureKind = "malformed"
	FailureTimeout        FailureKind = "timeout"
	FailureConnectionLost FailureKind = "connection_lost"
	FailureJobFailed      FailureKind = "job_failed"
	FailureCancelled      FailureKind = "cancelled"
	FailureUnknown        FailureKind = "unknown"
)

// Failure is a classified error. Message is safe to show to a user; Err keeps
// the underlying cause for logs.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Fatal   bool        `json:"fatal"`
	Err     error       `json:"-"`
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ValidateJobID rejects ids that are empty, dot segments or contain a path
// separator. Job ids end up in URL paths and directory names.
func ValidateJobID(jobID string) error {
	switch {
	case strings.TrimSpace(jobID) == "", jobID == ".", jobID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	case strings.ContainsAny(jobID, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidJobID, jobID)
	}
	return nil
}
