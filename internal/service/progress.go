package service

import (
	"fmt"
	"math"
	"time"

	"bookgen/internal/core/domain"
)

// percentComplete prefers the server-supplied percentage, then
// processed/total, then 0. The result is clamped to 0..100.
func percentComplete(job *domain.GenerationJob) int {
	var pct float64
	switch {
	case job.ProgressPercentage != nil:
		pct = *job.ProgressPercentage
	case job.TotalBooks > 0:
		pct = float64(job.ProcessedBooks) / float64(job.TotalBooks) * 100
	}
	if math.IsNaN(pct) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, pct))))
}

// estimateRemaining extrapolates the time left from the average time spent per
// processed book.
func estimateRemaining(job *domain.GenerationJob, startedAt, now time.Time) string {
	if job.Status.Terminal() {
		return ""
	}
	if job.ProcessedBooks <= 0 || job.TotalBooks <= 0 {
		return "calculating..."
	}
	remaining := job.TotalBooks - job.ProcessedBooks
	if remaining <= 0 {
		return "almost done"
	}
	elapsed := now.Sub(startedAt)
	if elapsed <= 0 {
		return "calculating..."
	}
	perBook := elapsed / time.Duration(job.ProcessedBooks)
	return formatRemaining(perBook * time.Duration(remaining))
}

func formatRemaining(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	switch {
	case secs < 60:
		return fmt.Sprintf("%d seconds", secs)
	case secs < 3600:
		return fmt.Sprintf("%d minutes", int(math.Ceil(float64(secs)/60)))
	default:
		hours := secs / 3600
		mins := (secs % 3600) / 60
		if mins == 0 {
			return fmt.Sprintf("%d hours", hours)
		}
		return fmt.Sprintf("%d hours %d minutes", hours, mins)
	}
}

// currentStep is a short human-readable label for the job's current stage.
func currentStep(job *domain.GenerationJob) string {
	switch job.Status {
	case domain.StatusQueued:
		return "Waiting in queue"
	case domain.StatusCompleted:
		return "Completed"
	case domain.StatusFailed, domain.StatusError:
		return "Failed"
	}

	position := job.ProcessedBooks + 1
	if job.TotalBooks > 0 && position > job.TotalBooks {
		position = job.TotalBooks
	}
	switch {
	case job.CurrentBook != "" && job.TotalBooks > 0:
		return fmt.Sprintf("Generating %q (%d of %d)", job.CurrentBook, position, job.TotalBooks)
	case job.CurrentBook != "":
		return fmt.Sprintf("Generating %q", job.CurrentBook)
	case job.TotalBooks > 0:
		return fmt.Sprintf("Processing books (%d of %d)", job.ProcessedBooks, job.TotalBooks)
	default:
		return "Processing books"
	}
}

func summarize(job *domain.GenerationJob) *domain.CompletionSummary {
	s := &domain.CompletionSummary{TotalBooks: job.TotalBooks}
	for _, book := range job.Books {
		if book.Failed() {
			s.FailedBooks++
		} else {
			s.SuccessfulBooks++
		}
	}
	if s.TotalBooks == 0 {
		s.TotalBooks = len(job.Books)
	}
	return s
}

func completionMessage(s *domain.CompletionSummary) string {
	if s.FailedBooks == 0 {
		return fmt.Sprintf("Book generation completed: %d books generated", s.SuccessfulBooks)
	}
	return fmt.Sprintf("Book generation completed: %d books generated, %d failed", s.SuccessfulBooks, s.FailedBooks)
}
