package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"bookgen/internal/core/domain"
	"bookgen/internal/service"
)

// eventPrinter writes poller events to w, as text or JSON lines.
type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
}

func newEventPrinter(w io.Writer, asJSON bool) *eventPrinter {
	return &eventPrinter{w: w, asJSON: asJSON}
}

func (p *eventPrinter) listener() service.Listener {
	return p.print
}

func (p *eventPrinter) print(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintln(p.w, string(data))
		return
	}

	prefix := ""
	if e.JobID != "" {
		prefix = fmt.Sprintf("[JOB %s] ", e.JobID)
	}
	switch e.Type {
	case domain.EventProgress:
		line := fmt.Sprintf("%s%3d%% %s", prefix, e.Progress, e.Message)
		if e.EstimatedTimeRemaining != "" {
			line += fmt.Sprintf(" (remaining: %s)", e.EstimatedTimeRemaining)
		}
		fmt.Fprintln(p.w, line)
	case domain.EventComplete:
		fmt.Fprintf(p.w, "%sDONE %s\n", prefix, e.Message)
	case domain.EventError:
		fmt.Fprintf(p.w, "%sERROR %s\n", prefix, e.Message)
	}
}

func printResult(w io.Writer, res *domain.JobResult) {
	fmt.Fprintln(w, "\n=== Job Summary ===")
	fmt.Fprintf(w, "Job ID:       %s\n", res.JobID)
	fmt.Fprintf(w, "Success:      %t\n", res.Success)
	if res.Summary != nil {
		fmt.Fprintf(w, "Generated:    %d\n", res.Summary.SuccessfulBooks)
		fmt.Fprintf(w, "Failed:       %d\n", res.Summary.FailedBooks)
	}
	if res.ErrorMessage != "" {
		fmt.Fprintf(w, "Message:      %s\n", res.ErrorMessage)
	}
	fmt.Fprintf(w, "Completed At: %s\n", res.CompletedAt.Format(time.RFC3339))
}
