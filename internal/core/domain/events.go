package domain

import "time"

// EventType identifies the kind of event a poller emits.
type EventType string

const (
	EventProgress     EventType = "PROGRESS"
	EventComplete     EventType = "COMPLETE"
	EventError        EventType = "ERROR"
	EventStatusUpdate EventType = "STATUS_UPDATE"
)

// Event is delivered to poller listeners. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType `json:"type"`
	JobID    string    `json:"job_id,omitempty"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`

	// Job is the raw payload of the poll that produced the event.
	Job                    *GenerationJob `json:"data,omitempty"`
	EstimatedTimeRemaining string         `json:"estimated_time_remaining,omitempty"`
	CurrentStep            string         `json:"current_step,omitempty"`

	Summary *CompletionSummary `json:"summary,omitempty"`
	Failure *Failure           `json:"failure,omitempty"`
	Status  *PollerState       `json:"status,omitempty"`

	// Stopped marks the COMPLETE event of a user stop, which carries no summary.
	Stopped bool `json:"stopped,omitempty"`
}

// Terminal reports whether the event ends tracking of its job. A rejected
// second start does not end the job already being tracked.
func (e Event) Terminal() bool {
	if e.Failure != nil && e.Failure.Kind == FailureAlreadyRunning {
		return false
	}
	return e.Type == EventComplete || e.Type == EventError
}
