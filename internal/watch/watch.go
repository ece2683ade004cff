// Package watch reports changes to a single file, through fsnotify when it
// works and by polling the file's stat when it does not.
package watch

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "seobot/pkg/logx"
)

const (
	ModeNotify = "notify"
	ModePoll   = "poll"

	defaultDebounce      = 250 * time.Millisecond
	defaultPollInterval  = 2 * time.Second
	defaultNotifyRetries = 3

	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

type Options struct {
	// Debounce coalesces bursts of events (editors write in several steps).
	Debounce time.Duration
	// PollInterval is used in poll mode.
	PollInterval time.Duration
	// ForcePoll skips fsnotify entirely.
	ForcePoll bool
	// NotifyRetries is how many consecutive fsnotify setup failures are
	// tolerated before falling back to polling.
	NotifyRetries int

	Log logx.Logger
	// OnDegraded is called once when the watcher falls back to polling.
	OnDegraded func(path, reason string)
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = defaultDebounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.NotifyRetries <= 0 {
		o.NotifyRetries = defaultNotifyRetries
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

// File calls onChange after path is written, created, renamed or removed,
// until ctx is done. Calls to onChange never run concurrently. It returns
// nil when ctx ends.
func File(ctx context.Context, path string, opt Options, onChange func()) error {
	opt = opt.withDefaults()
	w := &watcher{
		path:     path,
		dir:      filepath.Dir(path),
		file:     filepath.Base(path),
		opt:      opt,
		log:      opt.Log.With(logx.String("comp", "watch"), logx.String("path", path)),
		onChange: onChange,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	defer w.stopTimer()

	if opt.ForcePoll {
		return w.poll(ctx)
	}
	return w.notify(ctx)
}

type watcher struct {
	path, dir, file string
	opt             Options
	log             logx.Logger
	onChange        func()
	rng             *rand.Rand

	timerMu sync.Mutex
	timer   *time.Timer
	stopped bool

	callMu sync.Mutex
}

func (w *watcher) debounce() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.log.Debug("change detected; scheduling reload")
	w.timer = time.AfterFunc(w.opt.Debounce, w.fire)
}

func (w *watcher) fire() {
	w.timerMu.Lock()
	stopped := w.stopped
	w.timerMu.Unlock()
	if stopped || w.onChange == nil {
		return
	}
	w.callMu.Lock()
	defer w.callMu.Unlock()
	w.onChange()
}

func (w *watcher) stopTimer() {
	w.timerMu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
}

// notify runs the fsnotify loop and recreates the watcher with jittered
// backoff when it breaks.
func (w *watcher) notify(ctx context.Context) error {
	backoff := restartBackoffBase
	failures := 0

	wait := func() bool {
		d := backoff + time.Duration(w.rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if failures >= w.opt.NotifyRetries {
			reason := "fsnotify unavailable"
			w.log.Warn("file watch degraded; polling", logx.Int("failures", failures), logx.Duration("interval", w.opt.PollInterval))
			if w.opt.OnDegraded != nil {
				w.opt.OnDegraded(w.path, reason)
			}
			return w.poll(ctx)
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			failures++
			w.log.Warn("watch init failed", logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}
		if err := fw.Add(w.dir); err != nil {
			_ = fw.Close()
			failures++
			w.log.Warn("watch add failed", logx.Err(err), logx.String("dir", w.dir))
			if !wait() {
				return nil
			}
			continue
		}

		failures = 0
		backoff = restartBackoffBase
		w.log.Debug("watcher started", logx.String("dir", w.dir))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename; absolute vs relative paths differ across backends.
				if strings.EqualFold(filepath.Base(ev.Name), w.file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					w.debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events were lost; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					w.log.Warn("watch overflow; forcing reload", logx.Err(err))
					w.debounce()
					continue
				}
				w.log.Warn("watch error", logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = fw.Close()
		w.log.Warn("watcher stopped; restarting", logx.Duration("backoff", backoff))
		if !wait() {
			return nil
		}
	}
}

type fingerprint struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stat(path string) fingerprint {
	fi, err := os.Stat(path)
	if err != nil {
		return fingerprint{}
	}
	return fingerprint{exists: true, size: fi.Size(), modTime: fi.ModTime()}
}

func (w *watcher) poll(ctx context.Context) error {
	last := stat(w.path)
	t := time.NewTicker(w.opt.PollInterval)
	defer t.Stop()
	w.log.Debug("polling started", logx.Duration("interval", w.opt.PollInterval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			cur := stat(w.path)
			if cur != last {
				last = cur
				w.debounce()
			}
		}
	}
}
