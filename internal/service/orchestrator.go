package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"bookgen/internal/core/domain"
	"bookgen/internal/core/ports"
)

// stopGrace is how long track waits for a cancelled poller to end its
// session before stopping it.
const stopGrace = 5 * time.Second

// PollerFactory builds a fresh Poller for one tracking session.
type PollerFactory func() *Poller

// Orchestrator coordinates tracking sessions for the CLI: it runs a poller to
// a terminal event and turns that event into a JobResult.
type Orchestrator struct {
	newPoller PollerFactory
	store     ports.StateStore
	logger    *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(newPoller PollerFactory, store ports.StateStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		newPoller: newPoller,
		store:     store,
		logger:    logger,
	}
}

// RunJob starts generation of all pending books and blocks until the job
// reaches a terminal state or ctx is cancelled.
func (o *Orchestrator) RunJob(ctx context.Context, token string, onEvent Listener) (*domain.JobResult, error) {
	return o.track(ctx, onEvent, func(p *Poller) (string, error) {
		return p.Start(ctx, token)
	})
}

// ResumeJob resumes tracking of a previously started job and blocks until it
// reaches a terminal state or ctx is cancelled.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID, token string, onEvent Listener) (*domain.JobResult, error) {
	return o.track(ctx, onEvent, func(p *Poller) (string, error) {
		return jobID, p.Resume(ctx, jobID, token)
	})
}

// ResumeAll resumes every job whose record is still active, tracking them
// concurrently with at most limit sessions at a time.
func (o *Orchestrator) ResumeAll(ctx context.Context, token string, limit int, onEvent Listener) ([]*domain.JobResult, error) {
	records, err := o.TrackedJobs(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	results := make([]*domain.JobResult, len(records))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			res, err := o.ResumeJob(gctx, rec.JobID, token, onEvent)
			if err != nil {
				o.logger.Warn("resumed job did not complete", "job_id", rec.JobID, "error", err)
			}
			results[i] = res
			return nil
		})
	}
	err = g.Wait()
	return results, err
}

// TrackedJobs lists persisted job records, optionally only the active ones.
func (o *Orchestrator) TrackedJobs(ctx context.Context, activeOnly bool) ([]domain.JobRecord, error) {
	records, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked jobs: %w", err)
	}
	if !activeOnly {
		return records, nil
	}
	active := records[:0]
	for _, rec := range records {
		if rec.Tracking == domain.TrackingActive {
			active = append(active, rec)
		}
	}
	return active, nil
}

// PruneJobs deletes the records of jobs that finished or were stopped and
// returns how many were removed. Active and failed records are kept so they
// can still be resumed.
func (o *Orchestrator) PruneJobs(ctx context.Context) (int, error) {
	records, err := o.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracked jobs: %w", err)
	}
	pruned := 0
	for _, rec := range records {
		if rec.Tracking != domain.TrackingCompleted && rec.Tracking != domain.TrackingStopped {
			continue
		}
		if err := o.store.Delete(ctx, rec.JobID); err != nil {
			return pruned, fmt.Errorf("prune job %s: %w", rec.JobID, err)
		}
		o.logger.Info("pruned job record", "job_id", rec.JobID, "tracking", rec.Tracking)
		pruned++
	}
	return pruned, nil
}

func (o *Orchestrator) track(ctx context.Context, onEvent Listener, begin func(*Poller) (string, error)) (*domain.JobResult, error) {
	p := o.newPoller()

	terminal := make(chan domain.Event, 1)
	unsubscribe := p.Subscribe(func(e domain.Event) {
		if onEvent != nil {
			onEvent(e)
		}
		if e.Terminal() {
			select {
			case terminal <- e:
			default:
			}
		}
	})
	defer unsubscribe()

	jobID, err := begin(p)
	if err != nil {
		res := &domain.JobResult{JobID: jobID, ErrorMessage: err.Error(), CompletedAt: time.Now().UTC()}
		var f *domain.Failure
		if errors.As(err, &f) {
			res.ErrorMessage = f.Message
		}
		return res, err
	}
	o.logger.Info("tracking generation job", "job_id", jobID)

	var e domain.Event
	select {
	case e = <-terminal:
	case <-ctx.Done():
		// The poller's context derives from ctx, so its loop reports the
		// cancellation itself. Stop only if that never arrives.
		grace := time.NewTimer(stopGrace)
		select {
		case e = <-terminal:
		case <-grace.C:
			o.logger.Warn("poller ignored cancellation, stopping it", "job_id", jobID)
			p.Stop()
			e = <-terminal
		}
		grace.Stop()
	}
	if err := p.Wait(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("poller did not shut down cleanly", "job_id", jobID, "error", err)
	}

	return resultFromEvent(jobID, e)
}

func resultFromEvent(jobID string, e domain.Event) (*domain.JobResult, error) {
	res := &domain.JobResult{
		JobID:       jobID,
		CompletedAt: e.At.UTC(),
	}
	switch e.Type {
	case domain.EventComplete:
		res.Summary = e.Summary
		res.Stopped = e.Stopped
		res.Success = !e.Stopped && e.Summary != nil
		if res.Stopped {
			res.ErrorMessage = e.Message
		}
		return res, nil
	default:
		res.ErrorMessage = e.Message
		if e.Failure != nil {
			return res, e.Failure
		}
		return res, errors.New(e.Message)
	}
}
