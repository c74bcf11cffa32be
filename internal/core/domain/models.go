package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the remote status of a generation job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusError     JobStatus = "error"
)

// Valid reports whether s is one of the statuses the generation service emits.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition can happen from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s.Failed()
}

// Failed reports whether s is a failing terminal status.
func (s JobStatus) Failed() bool {
	return s == StatusFailed || s == StatusError
}

// BookID accepts both string and numeric ids from the generation service.
type BookID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *BookID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = BookID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("book id must be a string or number: %w", err)
	}
	*id = BookID(n.String())
	return nil
}

// BookOutcome is the per-book result reported inside a GenerationJob.
type BookOutcome struct {
	ID     BookID `json:"id,omitempty"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the book did not generate.
func (b BookOutcome) Failed() bool {
	if b.Error != "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(b.Status)) {
	case "failed", "error":
		return true
	}
	return false
}

// StartResponse is returned by POST /generate-pending-books.
type StartResponse struct {
	JobID      string    `json:"job_id"`
	Message    string    `json:"message"`
	TotalBooks int       `json:"total_books"`
	Status     JobStatus `json:"status"`
}

// GenerationJob is the remote job as returned by GET /generation-progress/{job_id}.
// It is owned by the generation service and never mutated locally.
type GenerationJob struct {
	JobID              string        `json:"job_id"`
	Status             JobStatus     `json:"status"`
	TotalBooks         int           `json:"total_books"`
	ProcessedBooks     int           `json:"processed_books"`
	CurrentBook        string        `json:"current_book"`
	Message            string        `json:"message"`
	Books              []BookOutcome `json:"books"`
	StartTime          string        `json:"start_time,omitempty"`
	EndTime            string        `json:"end_time,omitempty"`
	ProgressPercentage *float64      `json:"progress_percentage,omitempty"`
}

// StartedAt parses StartTime. The service emits RFC 3339 timestamps, with or
// without a zone, or unix seconds.
func (j *GenerationJob) StartedAt() (time.Time, bool) {
	return parseServiceTime(j.StartTime)
}

// AllProcessed reports whether every book of the job has been processed.
func (j *GenerationJob) AllProcessed() bool {
	return j.TotalBooks > 0 && j.ProcessedBooks >= j.TotalBooks
}

func parseServiceTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Unix(0, int64(secs*float64(time.Second))), true
	}
	return time.Time{}, false
}

// CompletionSummary tallies per-book outcomes of a completed job.
type CompletionSummary struct {
	TotalBooks      int `json:"total_books"`
	SuccessfulBooks int `json:"successful_books"`
	FailedBooks     int `json:"failed_books"`
}

// PollerState is the transient, in-memory state of a poller.
type PollerState struct {
	IsRunning bool   `json:"isRunning"`
	Progress  int    `json:"progress"`
	JobID     string `json:"jobId,omitempty"`
}

// TrackingState is the local view of whether a job is still being observed.
type TrackingState string

const (
	TrackingActive    TrackingState = "active"
	TrackingCompleted TrackingState = "completed"
	TrackingFailed    TrackingState = "failed"
	TrackingStopped   TrackingState = "stopped"
)

// JobRecord is the persisted form of a tracked job, keyed by JobID.
type JobRecord struct {
	JobID          string        `json:"job_id"`
	RunID          string        `json:"run_id"`
	Tracking       TrackingState `json:"tracking"`
	Status         JobStatus     `json:"status"`
	Progress       int           `json:"progress"`
	TotalBooks     int           `json:"total_books"`
	ProcessedBooks int           `json:"processed_books"`
	Message        string        `json:"message"`
	StartedAt      time.Time     `json:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// JobResult holds the outcome of a tracked job.
type JobResult struct {
	JobID        string
	Success      bool
	Stopped      bool
	Summary      *CompletionSummary
	ErrorMessage string
	CompletedAt  time.Time
}
