package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"seobot/internal/eventbus"
	"seobot/internal/schedule"
	logx "seobot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	job       Job
	onError   ErrorHandler
	newEngine EngineFactory
	now       func() time.Time

	parser cron.Parser
	c      Engine
	timers []*liveTimer
	// states by Record.Key(), carried across reconciles.
	states map[string]*timerState

	// records from the last Reconcile, replayed on timezone changes.
	records []schedule.Record

	started bool
	baseCtx context.Context

	// gen is bumped before the previous timer set is stopped; an occurrence
	// carrying an older generation is dropped.
	gen atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithEngineFactory(f EngineFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.newEngine = f
		}
	}
}

func WithErrorHandler(h ErrorHandler) Option { return func(s *Service) { s.onError = h } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, job Job, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		job:     job,
		now:     time.Now,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		baseCtx: context.Background(),
		states:  map[string]*timerState{},
		newEngine: func(loc *time.Location) Engine {
			return cron.New(cron.WithLocation(loc))
		},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Start begins firing timers and registers records. ctx only carries values
// into occurrences; cancel it and in-flight runs still finish or time out.
func (s *Service) Start(ctx context.Context, records []schedule.Record) ReconcileResult {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.started = true
	res := s.reconcileLocked(records)
	s.log.Info("service started",
		logx.String("tz", s.loc.String()),
		logx.Int("schedules", res.Registered),
		logx.Int("skipped", res.Skipped))
	return res
}

// Reconcile replaces every live timer with one timer per valid record.
// Invalid records are logged and skipped.
func (s *Service) Reconcile(records []schedule.Record) ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(records)
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil || oldTZ == newTZ {
		return
	}
	res := s.reconcileLocked(s.records)
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", res.Registered))
}

// Stop halts all timers. It waits for in-flight occurrences until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := s.now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.timers = nil
	s.started = false
	s.gen.Add(1)
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) reconcileLocked(records []schedule.Record) ReconcileResult {
	start := s.now()

	// Old timers stop before anything new is built.
	gen := s.gen.Add(1)
	if s.c != nil {
		// Stop returns once the old run loop has exited; jobs it already
		// dispatched see the stale generation and return.
		s.c.Stop()
		s.c = nil
	}
	s.timers = nil
	s.records = append([]schedule.Record(nil), records...)

	s.loc = s.loadLocationLocked()
	eng := s.newEngine(s.loc)

	res := ReconcileResult{Generation: gen}
	seen := make(map[string]struct{}, len(records))
	states := make(map[string]*timerState, len(records))
	for _, rec := range records {
		sched, err := s.parseLocked(rec)
		if err != nil {
			res.Skipped++
			s.log.Warn("schedule skipped",
				logx.String("id", rec.ID),
				logx.String("target", rec.Target),
				logx.String("cron", rec.Recurrence),
				logx.Err(err))
			continue
		}
		if _, dup := seen[rec.Key()]; dup {
			s.log.Warn("duplicate schedule id", logx.String("id", rec.Key()))
		}
		seen[rec.Key()] = struct{}{}

		st := s.states[rec.Key()]
		if st == nil {
			st = &timerState{}
		}
		states[rec.Key()] = st

		t := &liveTimer{rec: rec, state: st}
		t.entryID = eng.Schedule(sched, cron.FuncJob(func() { s.fire(gen, t) }))
		s.timers = append(s.timers, t)
		res.Registered++

		if s.log.Enabled(logx.LevelDebug) {
			s.log.Debug("schedule registered",
				logx.String("id", rec.ID),
				logx.String("target", rec.Target),
				logx.String("cron", rec.Recurrence),
				logx.String("next", previewNext(sched, s.now().In(s.loc), 3)))
		}
	}

	// A dropped key that is still running keeps its state until it finishes
	// so re-adding it cannot overlap the old run.
	for k, st := range s.states {
		if _, kept := states[k]; !kept && st.running() {
			states[k] = st
		}
	}
	s.states = states

	s.c = eng
	if s.started {
		eng.Start()
	}

	took := time.Since(start)
	s.log.Info("schedules reconciled",
		logx.Int("registered", res.Registered),
		logx.Int("skipped", res.Skipped),
		logx.Duration("took", took))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleReconciled, Data: eventbus.ReconcileData{
			Generation: gen, Registered: res.Registered, Skipped: res.Skipped, Took: took,
		}})
	}
	return res
}

func (s *Service) parseLocked(rec schedule.Record) (cron.Schedule, error) {
	if strings.TrimSpace(rec.Target) == "" || strings.TrimSpace(rec.Destination) == "" {
		return nil, schedule.ErrInvalidRecord
	}
	if err := schedule.ValidateCanonical(rec.Recurrence); err != nil {
		return nil, err
	}
	return s.parser.Parse(strings.TrimSpace(rec.Recurrence))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func previewNext(sched cron.Schedule, from time.Time, n int) string {
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04"))
	}
	return b.String()
}
