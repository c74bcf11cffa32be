package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"bookgen/internal/core/domain"
	"bookgen/internal/core/ports"
)

// Listener receives poller events. It runs on the goroutine that produced the
// event (the caller of Start/Stop, or the polling goroutine) and must not block.
type Listener func(domain.Event)

// PollerOptions tunes the polling loop. Zero values fall back to defaults.
type PollerOptions struct {
	Interval     time.Duration // time between status requests, default 5s
	MaxPolls     int           // ticks before giving up, default 360
	ErrorCeiling int           // consecutive failures before recovery, default 20
	WarnEvery    int           // consecutive failures between warnings, default 5
	StaleAfter   time.Duration // no-success window required for recovery, default 5m

	// MaxBackoff enables exponential backoff with jitter after failed polls,
	// capped at MaxBackoff. Ticks inside the backoff window send no request.
	// Zero keeps the fixed cadence.
	MaxBackoff time.Duration
}

func (o PollerOptions) withDefaults() PollerOptions {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = 360
	}
	if o.ErrorCeiling <= 0 {
		o.ErrorCeiling = 20
	}
	if o.WarnEvery <= 0 {
		o.WarnEvery = 5
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	return o
}

// Poller starts a generation job and tracks it until it reaches a terminal
// status. A Poller tracks at most one job at a time.
type Poller struct {
	api    ports.GenerationAPI
	prober ports.Prober
	store  ports.StateStore
	logger *slog.Logger
	opts   PollerOptions

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu        sync.Mutex
	state     domain.PollerState
	run       *pollRun
	latest    *pollRun
	listeners []subscription
	nextSubID int
}

type subscription struct {
	id int
	fn Listener
}

// pollRun is one tracking session. Fields below the first block are owned by
// the polling goroutine.
type pollRun struct {
	id      string
	jobID   string
	token   string
	cancel  context.CancelFunc
	done    chan struct{}
	looping bool

	startedAt         time.Time
	lastSuccess       time.Time
	polls             int
	consecutiveErrors int
	last              *domain.GenerationJob
	backoff           *backoff.ExponentialBackOff
	retryAt           time.Time

	persistMu sync.Mutex
	record    domain.JobRecord
	sealed    bool
}

// NewPoller creates a new Poller. A nil store disables persistence.
func NewPoller(api ports.GenerationAPI, prober ports.Prober, store ports.StateStore, logger *slog.Logger, opts PollerOptions) *Poller {
	if store == nil {
		store = noopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		api:       api,
		prober:    prober,
		store:     store,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
		newTicker: realTicker,
	}
}

// newBackOff returns nil when backoff is disabled.
func (p *Poller) newBackOff() *backoff.ExponentialBackOff {
	if p.opts.MaxBackoff <= 0 {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.Interval
	b.MaxInterval = p.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Subscribe registers l and returns a function that removes it.
func (p *Poller) Subscribe(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSubID++
	id := p.nextSubID
	p.listeners = append(p.listeners, subscription{id: id, fn: l})

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, sub := range p.listeners {
			if sub.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

// CheckStatus returns the current state without any I/O.
func (p *Poller) CheckStatus() domain.PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start probes the service, starts generation of all pending books and begins
// polling the new job. Polling continues until a terminal status, Stop, or the
// cancellation of ctx.
func (p *Poller) Start(ctx context.Context, token string) (string, error) {
	r, runCtx, err := p.reserve(ctx, token)
	if err != nil {
		return "", err
	}

	p.announce(r, 0, "Testing connection to the generation service...")
	path, err := p.prober.Probe(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			return "", p.abort(r, cancelledFailure(err))
		}
		return "", p.abort(r, connectivityFailure(err))
	}
	p.logger.Debug("connectivity probe succeeded", "run_id", r.id, "path", path)

	p.announce(r, 5, "Starting book generation...")
	resp, err := p.api.StartGeneration(runCtx, token)
	if err != nil {
		if runCtx.Err() != nil {
			return "", p.abort(r, cancelledFailure(err))
		}
		return "", p.abort(r, classify(err, phaseStart))
	}

	p.logger.Info("book generation started",
		"run_id", r.id, "job_id", resp.JobID, "total_books", resp.TotalBooks)

	now := p.now()
	seed := domain.JobRecord{
		JobID:      resp.JobID,
		Status:     resp.Status,
		Progress:   5,
		TotalBooks: resp.TotalBooks,
		Message:    resp.Message,
		StartedAt:  now,
	}
	if seed.Status == "" {
		seed.Status = domain.StatusQueued
	}
	if err := p.begin(runCtx, r, seed); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Resume begins polling a job that was started earlier, without a new start
// request. Progress and start time are restored from the state store when a
// record exists.
func (p *Poller) Resume(ctx context.Context, jobID, token string) error {
	if err := domain.ValidateJobID(jobID); err != nil {
		return err
	}
	r, runCtx, err := p.reserve(ctx, token)
	if err != nil {
		return err
	}

	seed := domain.JobRecord{JobID: jobID, Status: domain.StatusRunning, StartedAt: p.now()}
	rec, err := p.store.Load(ctx, jobID)
	switch {
	case err == nil:
		seed = *rec
		if rec.Tracking != domain.TrackingActive {
			p.logger.Info("resuming job that was no longer tracked",
				"job_id", jobID, "tracking", rec.Tracking)
		}
	case errors.Is(err, domain.ErrRecordNotFound):
	default:
		p.logger.Warn("failed to load job record", "job_id", jobID, "error", err)
	}

	p.announce(r, seed.Progress, "Resuming tracking of book generation...")
	return p.begin(runCtx, r, seed)
}

// Stop cancels polling, clears all state and emits COMPLETE with progress
// 100, Stopped set and a "stopped by user" message. Calling Stop while idle
// does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()
	if r == nil {
		return
	}

	prev, ok := p.finish(r)
	if !ok {
		return
	}
	p.logger.Info("tracking stopped by user", "run_id", r.id, "job_id", prev.JobID)

	if prev.JobID != "" {
		p.seal(r, func(rec *domain.JobRecord) {
			rec.Tracking = domain.TrackingStopped
			rec.Message = "stopped by user"
		})
	}
	p.emit(domain.Event{
		Type:     domain.EventComplete,
		JobID:    prev.JobID,
		Progress: 100,
		Message:  "Book generation tracking stopped by user",
		Stopped:  true,
	})
	p.emitStatus()
}

// Wait blocks until the most recent tracking session, if any, has fully
// ended and its polling goroutine has exited.
func (p *Poller) Wait(ctx context.Context) error {
	p.mu.Lock()
	r := p.latest
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims the poller for a new run, or rejects the call without I/O.
func (p *Poller) reserve(ctx context.Context, token string) (*pollRun, context.Context, error) {
	p.mu.Lock()
	if p.run != nil {
		jobID := p.state.JobID
		progress := p.state.Progress
		p.mu.Unlock()

		f := &domain.Failure{
			Kind:    domain.FailureAlreadyRunning,
			Message: "Book generation is already running.",
			Err:     domain.ErrAlreadyRunning,
		}
		p.emit(domain.Event{Type: domain.EventError, JobID: jobID, Progress: progress, Message: f.Message, Failure: f})
		return nil, nil, f
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &pollRun{
		id:     uuid.NewString(),
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.run = r
	p.latest = r
	p.state = domain.PollerState{IsRunning: true}
	p.mu.Unlock()
	return r, runCtx, nil
}

// begin records the job id and launches the polling goroutine.
func (p *Poller) begin(ctx context.Context, r *pollRun, seed domain.JobRecord) error {
	now := p.now()

	p.mu.Lock()
	if p.run != r {
		p.mu.Unlock()
		p.logger.Warn("job started but tracking was stopped before polling began", "job_id", seed.JobID)
		return fmt.Errorf("tracking of job %s stopped: %w", seed.JobID, context.Canceled)
	}
	r.jobID = seed.JobID
	r.looping = true
	r.startedAt = seed.StartedAt
	r.lastSuccess = now
	r.backoff = p.newBackOff()
	p.state = domain.PollerState{IsRunning: true, Progress: seed.Progress, JobID: seed.JobID}
	p.mu.Unlock()

	seed.RunID = r.id
	seed.Tracking = domain.TrackingActive
	p.persist(r, func(rec *domain.JobRecord) { *rec = seed })
	p.emitStatus()

	ticks, stopTicks := p.newTicker(p.opts.Interval)
	go p.loop(ctx, r, ticks, stopTicks)
	return nil
}

func (p *Poller) loop(ctx context.Context, r *pollRun, ticks <-chan time.Time, stopTicks func()) {
	defer close(r.done)
	defer stopTicks()

	for {
		select {
		case <-ctx.Done():
			p.fail(r, cancelledFailure(ctx.Err()), nil)
			return
		case <-ticks:
			if p.tick(ctx, r) {
				return
			}
		}
	}
}

// tick performs one status request. It reports whether polling is over.
// The MaxPolls-th tick is the last one: if its request leaves the job
// unfinished, tracking times out.
func (p *Poller) tick(ctx context.Context, r *pollRun) bool {
	if ctx.Err() != nil {
		return false
	}
	r.polls++
	if p.request(ctx, r) {
		return true
	}
	if ctx.Err() != nil || r.polls < p.opts.MaxPolls {
		return false
	}
	p.fail(r, &domain.Failure{
		Kind:    domain.FailureTimeout,
		Message: "Book generation is taking too long. Tracking has stopped; the job may still finish on the server.",
		Fatal:   true,
	}, nil)
	return true
}

func (p *Poller) request(ctx context.Context, r *pollRun) bool {
	// Skip unless the retry point is less than half a tick away.
	if p.now().Add(p.opts.Interval / 2).Before(r.retryAt) {
		p.logger.Debug("backing off", "job_id", r.jobID, "poll", r.polls, "retry_at", r.retryAt)
		return false
	}

	job, err := p.api.GetProgress(ctx, r.jobID, r.token)
	if err != nil {
		if ctx.Err() != nil {
			// The loop observes the cancellation on its next select.
			return false
		}
		return p.handleError(ctx, r, err)
	}
	return p.handleSuccess(r, job)
}

func (p *Poller) handleSuccess(r *pollRun, job *domain.GenerationJob) bool {
	r.consecutiveErrors = 0
	r.lastSuccess = p.now()
	r.retryAt = time.Time{}
	if r.backoff != nil {
		r.backoff.Reset()
	}
	if started, ok := job.StartedAt(); ok {
		r.startedAt = started
	}

	switch {
	case job.Status == domain.StatusCompleted:
		p.complete(r, job, "")
		return true
	case job.Status.Failed():
		msg := job.Message
		if msg == "" {
			msg = "Book generation failed."
		}
		p.fail(r, &domain.Failure{Kind: domain.FailureJobFailed, Message: msg, Fatal: true}, job)
		return true
	}

	r.last = job
	pct, ok := p.setProgress(r, percentComplete(job))
	if !ok {
		return true
	}
	p.persist(r, func(rec *domain.JobRecord) {
		rec.Status = job.Status
		rec.Progress = pct
		rec.TotalBooks = job.TotalBooks
		rec.ProcessedBooks = job.ProcessedBooks
		rec.Message = job.Message
		rec.StartedAt = r.startedAt
	})

	step := currentStep(job)
	msg := job.Message
	if msg == "" {
		msg = step
	}
	p.logger.Debug("generation progress",
		"job_id", r.jobID, "poll", r.polls, "status", job.Status, "progress", pct)
	p.emit(domain.Event{
		Type:                   domain.EventProgress,
		JobID:                  r.jobID,
		Progress:               pct,
		Message:                msg,
		Job:                    job,
		EstimatedTimeRemaining: estimateRemaining(job, r.startedAt, p.now()),
		CurrentStep:            step,
	})
	return false
}

func (p *Poller) handleError(ctx context.Context, r *pollRun, err error) bool {
	r.consecutiveErrors++
	f := classify(err, phasePoll)
	p.logger.Warn("status request failed",
		"job_id", r.jobID, "poll", r.polls, "errors", r.consecutiveErrors, "kind", f.Kind, "error", err)

	// A 404 after every book was processed means the job finished and was
	// collected by the server before we saw the final status.
	if f.Kind == domain.FailureNotFound && r.last != nil && r.last.AllProcessed() {
		p.complete(r, r.last, "Book generation finished; the job has since expired on the server")
		return true
	}
	if f.Fatal {
		p.fail(r, f, nil)
		return true
	}

	if r.consecutiveErrors%p.opts.WarnEvery == 0 {
		p.emit(domain.Event{
			Type:     domain.EventProgress,
			JobID:    r.jobID,
			Progress: p.CheckStatus().Progress,
			Message:  fmt.Sprintf("%s (%d failed attempts)", f.Message, r.consecutiveErrors),
			Failure:  f,
		})
	}

	if r.backoff != nil {
		r.retryAt = p.now().Add(max(r.backoff.NextBackOff(), p.opts.Interval))
	}

	if r.consecutiveErrors >= p.opts.ErrorCeiling && p.now().Sub(r.lastSuccess) > p.opts.StaleAfter {
		return p.recover(ctx, r)
	}
	return false
}

// recover makes one extra status request after the error ceiling is hit.
func (p *Poller) recover(ctx context.Context, r *pollRun) bool {
	p.logger.Warn("error ceiling reached, attempting recovery",
		"job_id", r.jobID, "errors", r.consecutiveErrors, "last_success", r.lastSuccess)

	job, err := p.api.GetProgress(ctx, r.jobID, r.token)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.fail(r, &domain.Failure{
			Kind:    domain.FailureConnectionLost,
			Message: "Lost connection to the generation service. The job may still be running; resume tracking later.",
			Fatal:   true,
			Err:     err,
		}, nil)
		return true
	}

	p.logger.Info("recovered connection to generation service", "job_id", r.jobID, "status", job.Status)
	return p.handleSuccess(r, job)
}

func (p *Poller) complete(r *pollRun, job *domain.GenerationJob, message string) {
	summary := summarize(job)
	if message == "" {
		message = completionMessage(summary)
	}
	prev, ok := p.finish(r)
	if !ok {
		return
	}

	p.logger.Info("book generation completed",
		"job_id", prev.JobID, "successful_books", summary.SuccessfulBooks, "failed_books", summary.FailedBooks)
	p.seal(r, func(rec *domain.JobRecord) {
		rec.Tracking = domain.TrackingCompleted
		rec.Status = domain.StatusCompleted
		rec.Progress = 100
		rec.ProcessedBooks = job.ProcessedBooks
		if summary.TotalBooks > rec.TotalBooks {
			rec.TotalBooks = summary.TotalBooks
		}
		rec.Message = message
	})
	p.emit(domain.Event{
		Type:     domain.EventComplete,
		JobID:    prev.JobID,
		Progress: 100,
		Message:  message,
		Job:      job,
		Summary:  summary,
	})
	p.emitStatus()
}

func (p *Poller) fail(r *pollRun, f *domain.Failure, job *domain.GenerationJob) {
	prev, ok := p.finish(r)
	if !ok {
		return
	}

	p.logger.Error("generation tracking failed",
		"run_id", r.id, "job_id", prev.JobID, "kind", f.Kind, "error", f)
	if prev.JobID != "" {
		p.seal(r, func(rec *domain.JobRecord) {
			rec.Tracking = domain.TrackingFailed
			if job != nil {
				rec.Status = job.Status
			}
			rec.Message = f.Message
		})
	}
	p.emit(domain.Event{
		Type:     domain.EventError,
		JobID:    prev.JobID,
		Progress: prev.Progress,
		Message:  f.Message,
		Job:      job,
		Failure:  f,
	})
	p.emitStatus()
}

// abort ends a run that failed before polling began.
func (p *Poller) abort(r *pollRun, f *domain.Failure) error {
	p.fail(r, f, nil)
	return f
}

// finish releases the poller if r is still its current run. It returns the
// state as it was, and false when another path already finished r.
func (p *Poller) finish(r *pollRun) (domain.PollerState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != r {
		return domain.PollerState{}, false
	}
	prev := p.state
	p.run = nil
	p.state = domain.PollerState{}
	r.cancel()
	if !r.looping {
		close(r.done)
	}
	return prev, true
}

// announce emits a start-phase progress event.
func (p *Poller) announce(r *pollRun, progress int, message string) {
	progress, ok := p.setProgress(r, progress)
	if !ok {
		return
	}
	p.emit(domain.Event{Type: domain.EventProgress, Progress: progress, Message: message})
}

// setProgress raises the run's progress to at least progress and returns the
// value to report. Reported progress never goes down within a run.
func (p *Poller) setProgress(r *pollRun, progress int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != r {
		return 0, false
	}
	p.state.Progress = max(p.state.Progress, progress)
	return p.state.Progress, true
}

// persist applies mutate to the run's record and saves it. Writes after the
// final one are dropped.
func (p *Poller) persist(r *pollRun, mutate func(*domain.JobRecord)) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if r.sealed {
		return
	}
	p.save(r, mutate)
}

// seal writes the final record of a run.
func (p *Poller) seal(r *pollRun, mutate func(*domain.JobRecord)) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if r.sealed {
		return
	}
	r.sealed = true
	p.save(r, mutate)
}

func (p *Poller) save(r *pollRun, mutate func(*domain.JobRecord)) {
	if mutate != nil {
		mutate(&r.record)
	}
	if r.record.JobID == "" {
		return
	}
	r.record.UpdatedAt = p.now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, r.record); err != nil {
		p.logger.Warn("failed to persist job record", "job_id", r.record.JobID, "error", err)
	}
}

func (p *Poller) emitStatus() {
	status := p.CheckStatus()
	p.emit(domain.Event{
		Type:     domain.EventStatusUpdate,
		JobID:    status.JobID,
		Progress: status.Progress,
		Status:   &status,
	})
}

func (p *Poller) emit(e domain.Event) {
	if e.At.IsZero() {
		e.At = p.now()
	}
	p.mu.Lock()
	subs := make([]subscription, len(p.listeners))
	copy(subs, p.listeners)
	p.mu.Unlock()

	for _, sub := range subs {
		sub.fn(e)
	}
}

func cancelledFailure(err error) *domain.Failure {
	return &domain.Failure{
		Kind:    domain.FailureCancelled,
		Message: "Book generation tracking was cancelled.",
		Fatal:   true,
		Err:     err,
	}
}

// noopStore is used when no state store is configured.
type noopStore struct{}

func (noopStore) Save(context.Context, domain.JobRecord) error { return nil }

func (noopStore) Load(_ context.Context, jobID string) (*domain.JobRecord, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, jobID)
}

func (noopStore) Delete(context.Context, string) error { return nil }

func (noopStore) List(context.Context) ([]domain.JobRecord, error) { return nil, nil }
