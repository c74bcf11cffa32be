package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bookgen/internal/core/domain"
)

func pct(v float64) *float64 { return &v }

func TestPercentComplete(t *testing.T) {
	tests := []struct {
		name string
		job  domain.GenerationJob
		want int
	}{
		{name: "server percentage wins", job: domain.GenerationJob{ProgressPercentage: pct(42.4), ProcessedBooks: 1, TotalBooks: 10}, want: 42},
		{name: "derived from counts", job: domain.GenerationJob{ProcessedBooks: 2, TotalBooks: 10}, want: 20},
		{name: "rounds half up", job: domain.GenerationJob{ProcessedBooks: 1, TotalBooks: 8}, want: 13},
		{name: "no totals", job: domain.GenerationJob{ProcessedBooks: 3}, want: 0},
		{name: "clamped above", job: domain.GenerationJob{ProgressPercentage: pct(140)}, want: 100},
		{name: "clamped below", job: domain.GenerationJob{ProgressPercentage: pct(-3)}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, percentComplete(&tt.job))
		})
	}
}

func TestEstimateRemaining(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		job  domain.GenerationJob
		now  time.Time
		want string
	}{
		{name: "terminal", job: domain.GenerationJob{Status: domain.StatusCompleted, ProcessedBooks: 2, TotalBooks: 2}, now: start.Add(time.Minute), want: ""},
		{name: "nothing processed", job: domain.GenerationJob{Status: domain.StatusRunning, TotalBooks: 4}, now: start.Add(time.Minute), want: "calculating..."},
		{name: "no elapsed time", job: domain.GenerationJob{Status: domain.StatusRunning, ProcessedBooks: 1, TotalBooks: 4}, now: start, want: "calculating..."},
		{name: "all processed", job: domain.GenerationJob{Status: domain.StatusRunning, ProcessedBooks: 4, TotalBooks: 4}, now: start.Add(time.Minute), want: "almost done"},
		{name: "seconds", job: domain.GenerationJob{Status: domain.StatusRunning, ProcessedBooks: 2, TotalBooks: 3}, now: start.Add(40 * time.Second), want: "20 seconds"},
		{name: "minutes", job: domain.GenerationJob{Status: domain.StatusRunning, ProcessedBooks: 1, TotalBooks: 4}, now: start.Add(2 * time.Minute), want: "6 minutes"},
		{name: "hours", job: domain.GenerationJob{Status: domain.StatusRunning, ProcessedBooks: 1, TotalBooks: 6}, now: start.Add(18 * time.Minute), want: "1 hours 30 minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateRemaining(&tt.job, start, tt.now))
		})
	}
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "1 seconds", formatRemaining(300*time.Millisecond))
	assert.Equal(t, "59 seconds", formatRemaining(59*time.Second))
	assert.Equal(t, "2 minutes", formatRemaining(61*time.Second))
	assert.Equal(t, "2 hours", formatRemaining(2*time.Hour))
}

func TestCurrentStep(t *testing.T) {
	assert.Equal(t, "Waiting in queue", currentStep(&domain.GenerationJob{Status: domain.StatusQueued}))
	assert.Equal(t, "Completed", currentStep(&domain.GenerationJob{Status: domain.StatusCompleted}))
	assert.Equal(t, "Failed", currentStep(&domain.GenerationJob{Status: domain.StatusError}))
	assert.Equal(t, `Generating "Dune" (3 of 5)`,
		currentStep(&domain.GenerationJob{Status: domain.StatusRunning, CurrentBook: "Dune", ProcessedBooks: 2, TotalBooks: 5}))
	assert.Equal(t, `Generating "Dune" (5 of 5)`,
		currentStep(&domain.GenerationJob{Status: domain.StatusRunning, CurrentBook: "Dune", ProcessedBooks: 5, TotalBooks: 5}))
	assert.Equal(t, "Processing books (2 of 5)",
		currentStep(&domain.GenerationJob{Status: domain.StatusRunning, ProcessedBooks: 2, TotalBooks: 5}))
	assert.Equal(t, "Processing books", currentStep(&domain.GenerationJob{Status: domain.StatusRunning}))
}

func TestSummarize(t *testing.T) {
	job := &domain.GenerationJob{
		Status: domain.StatusCompleted,
		Books: []domain.BookOutcome{
			{Title: "A", Status: "Review"},
			{Title: "B", Status: "Review"},
			{Title: "C", Status: "Failed"},
			{Title: "D", Status: "Review", Error: "cover upload failed"},
		},
	}

	s := summarize(job)
	assert.Equal(t, &domain.CompletionSummary{TotalBooks: 4, SuccessfulBooks: 2, FailedBooks: 2}, s)
	assert.Equal(t, "Book generation completed: 2 books generated, 2 failed", completionMessage(s))

	job.TotalBooks = 7
	assert.Equal(t, 7, summarize(job).TotalBooks)
	assert.Equal(t, "Book generation completed: 3 books generated",
		completionMessage(&domain.CompletionSummary{SuccessfulBooks: 3}))
}
