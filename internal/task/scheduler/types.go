package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"seobot/internal/schedule"
)

type Config struct {
	Timezone    string        // IANA TZ; empty means the process local zone
	RunTimeout  time.Duration // per occurrence; 0 means defaultRunTimeout
	HistorySize int
}

const (
	defaultRunTimeout  = 2 * time.Minute
	defaultHistorySize = 100
	onErrorTimeout     = 30 * time.Second
)

// Job produces and posts the report for one occurrence.
type Job func(ctx context.Context, target, destination string) error

// ErrorHandler is told about every failed occurrence. It runs on the
// occurrence goroutine, after the timer slot was released.
type ErrorHandler func(ctx context.Context, rec schedule.Record, err error)

// Engine is the subset of *cron.Cron the scheduler drives. Tests swap in a
// fake to fire occurrences by hand.
type Engine interface {
	Schedule(s cron.Schedule, j cron.Job) cron.EntryID
	Entry(id cron.EntryID) cron.Entry
	Start()
	Stop() context.Context
}

type EngineFactory func(loc *time.Location) Engine

// timerState belongs to a schedule key and outlives reconciles, so a record
// still running from an older generation blocks its successor timer and the
// counters survive a rebuild.
type timerState struct {
	mu       sync.Mutex
	inflight bool
	runs     uint64
	failures uint64
	skipped  uint64
	lastRun  time.Time
	lastErr  string
}

func (s *timerState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *timerState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

func (s *timerState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *timerState) skip() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

// finish records a completed run and releases the slot.
func (s *timerState) finish(start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	s.runs++
	s.lastRun = start
	s.lastErr = ""
	if err != nil {
		s.failures++
		s.lastErr = err.Error()
	}
}

func (s *timerState) fill(it *TimerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it.Running = s.inflight
	it.Runs, it.Failures, it.Skipped = s.runs, s.failures, s.skipped
	it.LastRun, it.LastError = s.lastRun, s.lastErr
}

type liveTimer struct {
	rec     schedule.Record
	entryID cron.EntryID
	state   *timerState
}

type TimerInfo struct {
	ID          string
	Target      string
	Destination string
	Recurrence  string
	Next        time.Time
	Prev        time.Time
	Running     bool
	Runs        uint64
	Failures    uint64
	Skipped     uint64
	LastRun     time.Time
	LastError   string
}

type HistoryItem struct {
	ScheduleID string
	Target     string
	Started    time.Time
	Duration   time.Duration
	Error      string
}

type Snapshot struct {
	Running    bool
	Timezone   string
	Generation uint64
	Timers     []TimerInfo
	History    []HistoryItem
}

// ReconcileResult counts what one Reconcile registered and skipped.
type ReconcileResult struct {
	Generation uint64
	Registered int
	Skipped    int
}
