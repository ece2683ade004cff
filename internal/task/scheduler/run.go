package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"seobot/internal/eventbus"
	logx "seobot/pkg/logx"
)

// fire runs one occurrence of t. It never panics and never returns an error
// to the cron engine.
func (s *Service) fire(gen uint64, t *liveTimer) {
	if s.gen.Load() != gen {
		return
	}
	if !t.state.tryAcquire() {
		t.state.skip()
		s.log.Debug("occurrence skipped; previous run still in flight", logx.String("id", t.rec.ID))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleSkipped, Data: eventbus.RunData{
				ScheduleID: t.rec.ID, Target: t.rec.Target, Destination: t.rec.Destination,
			}})
		}
		return
	}

	// Reconcile holds s.mu for its whole rebuild, so this second check cannot
	// interleave with one.
	s.mu.Lock()
	stale := s.gen.Load() != gen
	base := s.baseCtx
	timeout := s.cfg.RunTimeout
	onError := s.onError
	s.mu.Unlock()
	if stale {
		t.state.release()
		return
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	start := s.now()
	s.log.Debug("occurrence started", logx.String("id", t.rec.ID), logx.String("target", t.rec.Target))

	ctx, cancel := context.WithTimeout(base, timeout)
	err := s.safeRun(ctx, t)
	cancel()
	t.state.finish(start, err)

	took := time.Since(start)

	item := HistoryItem{ScheduleID: t.rec.ID, Target: t.rec.Target, Started: start, Duration: took}
	if err != nil {
		item.Error = err.Error()
	}
	s.appendHistory(item)

	if err != nil {
		s.log.Warn("occurrence failed",
			logx.String("id", t.rec.ID),
			logx.String("target", t.rec.Target),
			logx.Duration("took", took),
			logx.Err(err))
		if onError != nil {
			s.notify(base, onError, t, err)
		}
	} else {
		s.log.Info("occurrence finished", logx.String("id", t.rec.ID), logx.String("target", t.rec.Target), logx.Duration("took", took))
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleRun, Time: start, Data: eventbus.RunData{
			ScheduleID:  t.rec.ID,
			Target:      t.rec.Target,
			Destination: t.rec.Destination,
			Started:     start,
			Took:        took,
			Error:       item.Error,
		}})
	}
}

func (s *Service) safeRun(ctx context.Context, t *liveTimer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
			s.log.Error("occurrence panic", logx.String("id", t.rec.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if s.job == nil {
		return errors.New("no job configured")
	}
	return s.job(ctx, t.rec.Target, t.rec.Destination)
}

func (s *Service) notify(base context.Context, h ErrorHandler, t *liveTimer, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("error handler panic", logx.String("id", t.rec.ID), logx.String("panic", fmt.Sprint(r)))
		}
	}()
	ctx, cancel := context.WithTimeout(base, onErrorTimeout)
	defer cancel()
	h(ctx, t.rec, err)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = defaultHistorySize
	}

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
