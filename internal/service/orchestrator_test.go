package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookgen/internal/core/domain"
	"bookgen/internal/platform/logger"
)

func newTestOrchestrator(api *fakeAPI, prober *fakeProber, store *memStore) *Orchestrator {
	factory := func() *Poller {
		return NewPoller(api, prober, store, logger.Discard(), PollerOptions{Interval: time.Millisecond})
	}
	return NewOrchestrator(factory, store, logger.Discard())
}

func completedJob(processed int) pollResult {
	return pollResult{job: &domain.GenerationJob{
		Status:         domain.StatusCompleted,
		ProcessedBooks: processed,
		TotalBooks:     processed,
	}}
}

func TestOrchestrator_RunJob(t *testing.T) {
	api := &fakeAPI{script: []pollResult{running(1, 2), completedJob(2)}}
	store := newMemStore()
	o := newTestOrchestrator(api, &fakeProber{}, store)

	var (
		mu    sync.Mutex
		types []domain.EventType
	)
	res, err := o.RunJob(context.Background(), "tok", func(e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", res.JobID)
	assert.True(t, res.Success)
	assert.False(t, res.Stopped)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 2, res.Summary.TotalBooks)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.EventProgress, types[0])
	assert.Contains(t, types, domain.EventComplete)

	rec, ok := store.get("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.TrackingCompleted, rec.Tracking)
}

func TestOrchestrator_RunJobStartFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("unreachable")}
	o := newTestOrchestrator(&fakeAPI{}, prober, newMemStore())

	res, err := o.RunJob(context.Background(), "", nil)
	require.Error(t, err)

	var f *domain.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, domain.FailureConnectivity, f.Kind)
	assert.False(t, res.Success)
	assert.Equal(t, f.Message, res.ErrorMessage)
}

func TestOrchestrator_RunJobFailedStatus(t *testing.T) {
	api := &fakeAPI{script: []pollResult{{job: &domain.GenerationJob{Status: domain.StatusFailed, Message: "model unavailable"}}}}
	o := newTestOrchestrator(api, &fakeProber{}, newMemStore())

	res, err := o.RunJob(context.Background(), "", nil)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "model unavailable", res.ErrorMessage)
}

func TestOrchestrator_RunJobCancelled(t *testing.T) {
	api := &fakeAPI{script: []pollResult{running(0, 5)}}
	store := newMemStore()
	o := newTestOrchestrator(api, &fakeProber{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	polled := make(chan struct{})
	var once sync.Once

	done := make(chan struct{})
	var (
		res *domain.JobResult
		err error
	)
	go func() {
		defer close(done)
		res, err = o.RunJob(ctx, "", func(e domain.Event) {
			if e.Job != nil {
				once.Do(func() { close(polled) })
			}
		})
	}()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never polled")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunJob did not return after cancellation")
	}
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.False(t, res.Stopped)

	var f *domain.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, domain.FailureCancelled, f.Kind)
	assert.Equal(t, f.Message, res.ErrorMessage)

	rec, ok := store.get("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.TrackingFailed, rec.Tracking)
}

func TestResultFromEvent(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := resultFromEvent("j", domain.Event{Type: domain.EventComplete, Progress: 100, Stopped: true, Message: "stopped", At: at})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.False(t, res.Success)
	assert.Equal(t, "stopped", res.ErrorMessage)

	summary := &domain.CompletionSummary{TotalBooks: 2, SuccessfulBooks: 2}
	res, err = resultFromEvent("j", domain.Event{Type: domain.EventComplete, Progress: 100, Summary: summary, At: at})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Stopped)
	assert.Equal(t, summary, res.Summary)
	assert.Equal(t, at, res.CompletedAt)
}

func TestOrchestrator_ResumeAll(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	now := time.Now()
	for _, rec := range []domain.JobRecord{
		{JobID: "job-a", Tracking: domain.TrackingActive, Status: domain.StatusRunning, UpdatedAt: now},
		{JobID: "job-b", Tracking: domain.TrackingActive, Status: domain.StatusQueued, UpdatedAt: now},
		{JobID: "job-c", Tracking: domain.TrackingCompleted, Status: domain.StatusCompleted, UpdatedAt: now},
	} {
		require.NoError(t, store.Save(ctx, rec))
	}

	api := &fakeAPI{script: []pollResult{completedJob(3)}}
	prober := &fakeProber{}
	o := newTestOrchestrator(api, prober, store)

	results, err := o.ResumeAll(ctx, "", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var ids []string
	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Success)
		ids = append(ids, res.JobID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"job-a", "job-b"}, ids)

	starts, _ := api.calls()
	assert.Zero(t, starts)
	assert.Zero(t, prober.calls)

	active, err := o.TrackedJobs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestOrchestrator_ResumeAllNothingActive(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), domain.JobRecord{JobID: "job-x", Tracking: domain.TrackingStopped}))
	o := newTestOrchestrator(&fakeAPI{}, &fakeProber{}, store)

	results, err := o.ResumeAll(context.Background(), "", 4, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOrchestrator_TrackedJobs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.JobRecord{JobID: "one", Tracking: domain.TrackingActive}))
	require.NoError(t, store.Save(ctx, domain.JobRecord{JobID: "two", Tracking: domain.TrackingFailed}))
	o := newTestOrchestrator(&fakeAPI{}, &fakeProber{}, store)

	all, err := o.TrackedJobs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := o.TrackedJobs(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "one", active[0].JobID)
}

func TestOrchestrator_PruneJobs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	for _, rec := range []domain.JobRecord{
		{JobID: "active", Tracking: domain.TrackingActive},
		{JobID: "done", Tracking: domain.TrackingCompleted},
		{JobID: "stopped", Tracking: domain.TrackingStopped},
		{JobID: "failed", Tracking: domain.TrackingFailed},
	} {
		require.NoError(t, store.Save(ctx, rec))
	}
	o := newTestOrchestrator(&fakeAPI{}, &fakeProber{}, store)

	n, err := o.PruneJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := o.TrackedJobs(ctx, false)
	require.NoError(t, err)
	var ids []string
	for _, rec := range left {
		ids = append(ids, rec.JobID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"active", "failed"}, ids)
}
