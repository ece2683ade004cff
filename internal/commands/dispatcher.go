package commands

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"seobot/internal/eventbus"
	"seobot/internal/schedule"
	"seobot/internal/storage"
	"seobot/internal/task/scheduler"
	"seobot/internal/transport"
	logx "seobot/pkg/logx"
)

const (
	cmdCheck      = "check"
	cmdSchedule   = "schedule"
	cmdList       = "list"
	cmdUnschedule = "unschedule"
	cmdStatus     = "status"
	cmdHelp       = "help"

	// ActionDeleteSchedule is the button action of list entries; value is the schedule id.
	ActionDeleteSchedule = "delete_schedule"

	defaultMaxConcurrent = 4
	handlerTimeout       = 3 * time.Minute
)

// Checker runs reports on demand.
type Checker interface {
	Run(ctx context.Context, target string, to transport.ChatTarget) error
	ShowMore(ctx context.Context, id string, to transport.ChatTarget) error
}

// Schedules is the persisted schedule list.
type Schedules interface {
	List() []schedule.Record
	Get(id string) (schedule.Record, bool)
	Add(r schedule.Record) (schedule.Record, error)
	Remove(id string) (bool, error)
}

// Scheduler is the live timer set rebuilt after every schedule mutation.
type Scheduler interface {
	Reconcile(records []schedule.Record) scheduler.ReconcileResult
	Snapshot() scheduler.Snapshot
}

// Sink sends replies and knows the registered adapters.
type Sink interface {
	transport.Sender
	FormatChannel(t transport.ChatTarget) string
	Adapter(name string) (transport.Adapter, bool)
	Default() string
}

type Config struct {
	// AllowedUsers, when not empty, restricts who may talk to the bot (user
	// ids or usernames).
	AllowedUsers  []string
	MaxConcurrent int
}

type Deps struct {
	Checker   Checker
	Schedules Schedules
	Scheduler Scheduler
	Sink      Sink
	Audit     storage.Store // optional
	Bus       eventbus.Bus  // optional
	Log       logx.Logger
}

type Request struct {
	Kind     transport.UpdateKind
	Platform string
	Chat     transport.ChatTarget
	UserID   string
	Username string
	Command  string
	Args     []string
	Action   *transport.Action
	ReqID    string
	Log      logx.Logger

	// slash replies are ephemeral on platforms supporting it.
	slash bool
}

type Dispatcher struct {
	d   Deps
	log logx.Logger

	allowed  atomic.Value // map[string]bool
	sem      *semaphore.Weighted
	inflight sync.WaitGroup

	handlers map[string]HandlerFunc
}

func New(cfg Config, d Deps) *Dispatcher {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	r := &Dispatcher{
		d:   d,
		log: d.Log.With(logx.String("comp", "commands")),
		sem: semaphore.NewWeighted(int64(n)),
	}
	r.SetAllowedUsers(cfg.AllowedUsers)
	r.handlers = map[string]HandlerFunc{
		cmdCheck:      r.handleCheck,
		cmdSchedule:   r.handleSchedule,
		cmdList:       r.handleList,
		cmdUnschedule: r.handleUnschedule,
		cmdStatus:     r.handleStatus,
		cmdHelp:       r.handleHelp,
	}
	return r
}

// SetAllowedUsers swaps the allowlist; safe during hot reload.
func (r *Dispatcher) SetAllowedUsers(users []string) {
	m := make(map[string]bool, len(users))
	for _, u := range users {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			m[u] = true
		}
	}
	r.allowed.Store(m)
}

// isAllowed matches the bare user id or name, or either qualified with the
// platform ("telegram:12345").
func (r *Dispatcher) isAllowed(platform, userID, username string) bool {
	m, _ := r.allowed.Load().(map[string]bool)
	if len(m) == 0 {
		return true
	}
	p := strings.ToLower(platform)
	for _, k := range []string{userID, username} {
		if k = strings.ToLower(k); k == "" {
			continue
		}
		if m[k] || m[p+":"+k] {
			return true
		}
	}
	return false
}

// Loop consumes updates until ctx is done or updates is closed, then waits
// (bounded) for in-flight handlers.
func (r *Dispatcher) Loop(ctx context.Context, updates <-chan transport.Update) error {
	r.log.Info("command dispatcher started")
	defer func() {
		done := make(chan struct{})
		go func() {
			r.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			r.log.Warn("command handlers still running at shutdown")
		}
		r.log.Info("command dispatcher stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.dispatch(ctx, up)
		}
	}
}

// dispatch runs Handle on its own goroutine, bounded by the semaphore.
func (r *Dispatcher) dispatch(ctx context.Context, up transport.Update) {
	if !r.sem.TryAcquire(1) {
		r.log.Warn("dispatcher busy, update rejected", logx.String("platform", up.Platform))
		if req := r.request(up); req != nil {
			r.reply(ctx, req, ":hourglass: Occupé, réessayez dans un instant.")
		}
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer r.sem.Release(1)
		r.Handle(ctx, up)
	}()
}

// Handle processes one update synchronously.
func (r *Dispatcher) Handle(ctx context.Context, up transport.Update) {
	req := r.request(up)
	if req == nil {
		return
	}
	if !r.isAllowed(req.Platform, req.UserID, req.Username) {
		req.Log.Warn("update from user not in allowlist ignored")
		r.answer(ctx, req, "")
		return
	}

	var h HandlerFunc
	switch req.Kind {
	case transport.UpdateAction:
		h = r.handleAction
	case transport.UpdateCommand:
		h = r.handlers[req.Command]
		if h == nil {
			h = r.handleUnknown
		}
	default:
		h = r.handleConversation
	}

	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(handlerTimeout))
	err := final(ctx, req)
	r.answer(ctx, req, "")
	if r.d.Bus != nil {
		r.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeCommandHandled, Data: eventbus.CommandData{
			Platform: req.Platform,
			Command:  req.Command,
			OK:       err == nil,
		}})
	}
}

func (r *Dispatcher) request(up transport.Update) *Request {
	req := &Request{Kind: up.Kind, Platform: up.Platform, ReqID: uuid.NewString()[:8]}
	switch {
	case up.Kind == transport.UpdateAction && up.Action != nil:
		a := up.Action
		req.Chat = transport.ChatTarget{Platform: up.Platform, Channel: a.Channel, Thread: a.Thread}
		req.UserID, req.Username = a.UserID, a.Username
		req.Command = "action:" + a.Name
		req.Action = a
	case up.Message != nil:
		m := up.Message
		if up.Kind == transport.UpdateMessage && !m.IsDirect {
			return nil
		}
		req.Chat = transport.ChatTarget{Platform: up.Platform, Channel: m.Channel, Thread: m.Thread}
		req.UserID, req.Username = m.UserID, m.Username
		req.Args = Tokenize(m.Text)
		if up.Kind == transport.UpdateCommand {
			req.slash = true
			if len(req.Args) > 0 {
				req.Command = normalizeCommand(req.Args[0])
				req.Args = req.Args[1:]
			}
		} else {
			req.Command = "conversation"
		}
	default:
		return nil
	}
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.String("platform", req.Platform),
		logx.String("channel", req.Chat.Channel),
		logx.String("user", req.UserID),
	)
	return req
}

// reply answers in the request's channel; slash command replies are
// ephemeral where the platform supports it.
func (r *Dispatcher) reply(ctx context.Context, req *Request, text string, buttons ...transport.Button) {
	opt := &transport.SendOptions{DisablePreview: true, Buttons: buttons}
	if req.slash || req.Kind == transport.UpdateAction {
		opt.Ephemeral = true
		opt.UserID = req.UserID
	}
	if _, err := r.d.Sink.SendText(ctx, req.Chat, text, opt); err != nil {
		req.Log.Warn("reply not delivered", logx.Err(err))
	}
}

// answer acknowledges a button press on platforms that expect it.
func (r *Dispatcher) answer(ctx context.Context, req *Request, text string) {
	if req.Action == nil {
		return
	}
	a, ok := r.d.Sink.Adapter(req.Platform)
	if !ok {
		return
	}
	if ack, ok := a.(transport.Acknowledger); ok {
		if err := ack.AnswerAction(ctx, req.Action, text); err != nil {
			req.Log.Debug("answer action failed", logx.Err(err))
		}
	}
}

func (r *Dispatcher) audit(ctx context.Context, req *Request, action, target string, start time.Time, err error, meta map[string]string) {
	if r.d.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:        start,
		Platform:  req.Platform,
		ActorID:   req.UserID,
		ActorName: req.Username,
		Channel:   req.Chat.Channel,
		Action:    action,
		Target:    target,
		OK:        err == nil,
		TookMS:    time.Since(start).Milliseconds(),
		Meta:      meta,
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := r.d.Audit.AppendAudit(actx, e); aerr != nil {
		req.Log.Warn("audit append failed", logx.Err(aerr))
	}
}

// reconcile rebuilds the live timers from the store.
func (r *Dispatcher) reconcile(req *Request) {
	res := r.d.Scheduler.Reconcile(r.d.Schedules.List())
	req.Log.Debug("schedules reconciled",
		logx.Int("registered", res.Registered),
		logx.Int("skipped", res.Skipped),
		logx.Uint64("generation", res.Generation))
}
