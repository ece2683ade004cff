package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seobot/internal/eventbus"
	"seobot/internal/schedule"
	logx "seobot/pkg/logx"
)

type fakeEngine struct {
	mu      sync.Mutex
	loc     *time.Location
	nextID  cron.EntryID
	entries map[cron.EntryID]cron.Entry
	order   []cron.EntryID
	started bool
	stopped bool
}

func (f *fakeEngine) Schedule(s cron.Schedule, j cron.Job) cron.EntryID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.entries[f.nextID] = cron.Entry{ID: f.nextID, Schedule: s, Job: j}
	f.order = append(f.order, f.nextID)
	return f.nextID
}

func (f *fakeEngine) Entry(id cron.EntryID) cron.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[id]
	if e.Schedule != nil {
		e.Next = e.Schedule.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, f.loc))
	}
	return e
}

func (f *fakeEngine) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeEngine) Stop() context.Context {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (f *fakeEngine) jobs() []cron.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cron.Job, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.entries[id].Job)
	}
	return out
}

func (f *fakeEngine) fireAll() {
	for _, j := range f.jobs() {
		j.Run()
	}
}

type harness struct {
	svc *Service

	mu      sync.Mutex
	engines []*fakeEngine
}

func (h *harness) factory(loc *time.Location) Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &fakeEngine{loc: loc, entries: map[cron.EntryID]cron.Entry{}}
	h.engines = append(h.engines, e)
	return e
}

func (h *harness) last() *fakeEngine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engines[len(h.engines)-1]
}

func newHarness(t *testing.T, cfg Config, job Job, opts ...Option) *harness {
	t.Helper()
	h := &harness{}
	opts = append([]Option{WithEngineFactory(h.factory)}, opts...)
	h.svc = New(cfg, job, logx.Nop(), eventbus.New(), opts...)
	return h
}

var testRecords = []schedule.Record{
	{ID: "a", Target: "a.com", Recurrence: "0 9 * * *", Destination: "C1"},
	{ID: "b", Target: "b.com", Recurrence: "30 14 * * 1", Destination: "C2"},
	{ID: "bad", Target: "c.com", Recurrence: "99 99 * * *", Destination: "C3"},
	{ID: "nodest", Target: "d.com", Recurrence: "0 9 * * *"},
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) job(ctx context.Context, target, destination string) error {
	c.mu.Lock()
	c.calls = append(c.calls, target+"@"+destination)
	c.mu.Unlock()
	return nil
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestReconcileTwiceKeepsOneTimerPerRecord(t *testing.T) {
	t.Parallel()
	calls := &callLog{}
	h := newHarness(t, Config{}, calls.job)

	res := h.svc.Start(context.Background(), testRecords)
	assert.Equal(t, 2, res.Registered)
	assert.Equal(t, 2, res.Skipped)
	first := h.last()

	res = h.svc.Reconcile(testRecords)
	assert.Equal(t, 2, res.Registered)
	second := h.last()
	require.NotSame(t, first, second)

	assert.True(t, first.stopped)
	assert.True(t, second.started)
	assert.Len(t, second.jobs(), 2)

	// Timers of the replaced set never reach the job.
	first.fireAll()
	assert.Empty(t, calls.snapshot())

	second.fireAll()
	assert.ElementsMatch(t, []string{"a.com@C1", "b.com@C2"}, calls.snapshot())

	snap := h.svc.Snapshot()
	require.Len(t, snap.Timers, 2)
	assert.Equal(t, "a", snap.Timers[0].ID)
	assert.False(t, snap.Timers[0].Next.IsZero())
	assert.Equal(t, uint64(1), snap.Timers[0].Runs)
}

func TestFailingOccurrenceKeepsTimer(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	job := func(ctx context.Context, target, destination string) error {
		if n.Add(1) == 1 {
			return errors.New("provider down")
		}
		return nil
	}
	var notified []string
	var nmu sync.Mutex
	onErr := func(ctx context.Context, rec schedule.Record, err error) {
		nmu.Lock()
		notified = append(notified, rec.ID+": "+err.Error())
		nmu.Unlock()
	}

	h := newHarness(t, Config{}, job, WithErrorHandler(onErr))
	h.svc.Start(context.Background(), testRecords[:1])
	eng := h.last()

	eng.fireAll()
	eng.fireAll()

	assert.Equal(t, int32(2), n.Load())
	nmu.Lock()
	assert.Equal(t, []string{"a: provider down"}, notified)
	nmu.Unlock()

	snap := h.svc.Snapshot()
	require.Len(t, snap.Timers, 1)
	assert.Equal(t, uint64(2), snap.Timers[0].Runs)
	assert.Equal(t, uint64(1), snap.Timers[0].Failures)
	assert.Empty(t, snap.Timers[0].LastError)
	require.Len(t, snap.History, 2)
	assert.Equal(t, "provider down", snap.History[0].Error)
}

func TestPanickingOccurrenceIsContained(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	job := func(ctx context.Context, target, destination string) error {
		if n.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}
	var gotErr atomic.Value
	h := newHarness(t, Config{}, job, WithErrorHandler(func(ctx context.Context, rec schedule.Record, err error) {
		gotErr.Store(err.Error())
	}))
	h.svc.Start(context.Background(), testRecords[:1])

	require.NotPanics(t, h.last().fireAll)
	h.last().fireAll()
	assert.Equal(t, int32(2), n.Load())
	assert.Equal(t, "panic: boom", gotErr.Load())
}

func TestOccurrencesDoNotOverlap(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	var n atomic.Int32
	job := func(ctx context.Context, target, destination string) error {
		if n.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}
	h := newHarness(t, Config{}, job)
	h.svc.Start(context.Background(), testRecords[:1])
	j := h.last().jobs()[0]

	done := make(chan struct{})
	go func() {
		j.Run()
		close(done)
	}()
	<-started

	j.Run() // skipped: the first run is still in flight
	assert.Equal(t, int32(1), n.Load())
	snap := h.svc.Snapshot()
	assert.True(t, snap.Timers[0].Running)
	assert.Equal(t, uint64(1), snap.Timers[0].Skipped)

	close(release)
	<-done
	j.Run()
	assert.Equal(t, int32(2), n.Load())
}

func TestReconcileDoesNotOverlapRunningRecord(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	var runsA, inflightA, maxInflightA atomic.Int32
	job := func(ctx context.Context, target, destination string) error {
		if target != "a.com" {
			return nil
		}
		cur := inflightA.Add(1)
		defer inflightA.Add(-1)
		if cur > maxInflightA.Load() {
			maxInflightA.Store(cur)
		}
		if runsA.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}
	h := newHarness(t, Config{}, job)
	h.svc.Start(context.Background(), testRecords[:1])
	old := h.last().jobs()[0]

	done := make(chan struct{})
	go func() {
		old.Run()
		close(done)
	}()
	<-started

	// Adding b rebuilds every timer, a included.
	h.svc.Reconcile(testRecords[:2])
	fresh := h.last().jobs()[0]
	fresh.Run()
	assert.Equal(t, int32(1), runsA.Load())

	snap := h.svc.Snapshot()
	require.Len(t, snap.Timers, 2)
	assert.Equal(t, "a", snap.Timers[0].ID)
	assert.True(t, snap.Timers[0].Running)
	assert.Equal(t, uint64(1), snap.Timers[0].Skipped)

	close(release)
	<-done
	fresh.Run()
	assert.Equal(t, int32(2), runsA.Load())
	assert.Equal(t, int32(1), maxInflightA.Load())

	h.svc.Reconcile(testRecords[:2])
	snap = h.svc.Snapshot()
	assert.Equal(t, uint64(2), snap.Timers[0].Runs, "counters survive a rebuild")
	assert.Equal(t, uint64(1), snap.Timers[0].Skipped)
}

func TestRunTimeoutBoundsOccurrence(t *testing.T) {
	t.Parallel()
	job := func(ctx context.Context, target, destination string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := newHarness(t, Config{RunTimeout: 20 * time.Millisecond}, job)
	h.svc.Start(context.Background(), testRecords[:1])
	h.last().fireAll()

	snap := h.svc.Snapshot()
	assert.Contains(t, snap.Timers[0].LastError, "deadline exceeded")
}

func TestStopDropsLaterOccurrences(t *testing.T) {
	t.Parallel()
	calls := &callLog{}
	h := newHarness(t, Config{}, calls.job)
	h.svc.Start(context.Background(), testRecords[:2])
	eng := h.last()

	h.svc.Stop(context.Background())
	assert.True(t, eng.stopped)
	eng.fireAll()
	assert.Empty(t, calls.snapshot())
	assert.False(t, h.svc.Snapshot().Running)
}

func TestReconcileBeforeStartDoesNotStartEngine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, (&callLog{}).job)
	h.svc.Reconcile(testRecords[:1])
	assert.False(t, h.last().started)
}

func TestApplyTimezoneRebuilds(t *testing.T) {
	t.Parallel()
	calls := &callLog{}
	h := newHarness(t, Config{}, calls.job)
	h.svc.Start(context.Background(), testRecords[:2])
	before := len(h.engines)

	h.svc.Apply(Config{})
	assert.Equal(t, before, len(h.engines))

	h.svc.Apply(Config{Timezone: "UTC"})
	require.Equal(t, before+1, len(h.engines))
	assert.Equal(t, "UTC", h.last().loc.String())
	assert.Len(t, h.last().jobs(), 2)
	assert.Equal(t, "UTC", h.svc.Snapshot().Timezone)

	h.svc.Apply(Config{Timezone: "Not/AZone"})
	assert.Equal(t, time.Local, h.last().loc)
}

func TestReconcilePublishesEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	h := &harness{}
	svc := New(Config{}, (&callLog{}).job, logx.Nop(), bus, WithEngineFactory(h.factory))
	svc.Reconcile(testRecords)

	select {
	case e := <-ch:
		require.Equal(t, eventbus.TypeScheduleReconciled, e.Type)
		d := e.Data.(eventbus.ReconcileData)
		assert.Equal(t, 2, d.Registered)
		assert.Equal(t, 2, d.Skipped)
	case <-time.After(time.Second):
		t.Fatal("no reconcile event")
	}
}

func TestRealCronEngineWiring(t *testing.T) {
	t.Parallel()
	svc := New(Config{Timezone: "UTC"}, (&callLog{}).job, logx.Nop(), nil)
	svc.Start(context.Background(), testRecords[:1])
	defer svc.Stop(context.Background())

	snap := svc.Snapshot()
	require.Len(t, snap.Timers, 1)
	next := snap.Timers[0].Next
	require.False(t, next.IsZero())
	assert.Equal(t, 9, next.In(time.UTC).Hour())
	assert.Equal(t, 0, next.Minute())
}
