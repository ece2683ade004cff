package commands

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seobot/internal/eventbus"
	"seobot/internal/report"
	"seobot/internal/schedule"
	"seobot/internal/storage"
	"seobot/internal/task/scheduler"
	"seobot/internal/transport"
	logx "seobot/pkg/logx"
)

type sentMsg struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type chatAdapter struct {
	name string

	mu       sync.Mutex
	sent     []sentMsg
	answered int
}

func (a *chatAdapter) Name() string { return a.name }

func (a *chatAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }

func (a *chatAdapter) Stop(ctx context.Context) error { return nil }

func (a *chatAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{to: to, text: text, opt: opt})
	return transport.MessageRef{Channel: to.Channel, ID: "m1"}, nil
}

func (a *chatAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}

func (a *chatAdapter) AnswerAction(ctx context.Context, act *transport.Action, text string) error {
	a.mu.Lock()
	a.answered++
	a.mu.Unlock()
	return nil
}

func (a *chatAdapter) last(t *testing.T) sentMsg {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.sent)
	return a.sent[len(a.sent)-1]
}

func (a *chatAdapter) FormatChannel(channel string) string { return "<#" + channel + ">" }

type checkCall struct {
	target string
	to     transport.ChatTarget
}

type fakeChecker struct {
	mu     sync.Mutex
	runs   []checkCall
	more   []string
	runErr error
}

func (c *fakeChecker) Run(ctx context.Context, target string, to transport.ChatTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, checkCall{target, to})
	return c.runErr
}

func (c *fakeChecker) ShowMore(ctx context.Context, id string, to transport.ChatTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.more = append(c.more, id)
	return nil
}

type fakeScheduler struct {
	mu         sync.Mutex
	reconciled [][]schedule.Record
	snap       scheduler.Snapshot
}

func (s *fakeScheduler) Reconcile(records []schedule.Record) scheduler.ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciled = append(s.reconciled, records)
	return scheduler.ReconcileResult{Generation: uint64(len(s.reconciled)), Registered: len(records)}
}

func (s *fakeScheduler) Snapshot() scheduler.Snapshot { return s.snap }

type fixture struct {
	d     *Dispatcher
	slack *chatAdapter
	tg    *chatAdapter
	check *fakeChecker
	sched *fakeScheduler
	store *schedule.Store
	audit storage.Store
	bus   eventbus.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		slack: &chatAdapter{name: "slack"},
		tg:    &chatAdapter{name: "telegram"},
		check: &fakeChecker{},
		sched: &fakeScheduler{},
		store: schedule.NewStore(filepath.Join(dir, "schedules.json"), logx.Nop()),
		bus:   eventbus.New(),
	}
	audit, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "seobot")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })
	f.audit = audit
	f.d = New(cfg, Deps{
		Checker:   f.check,
		Schedules: f.store,
		Scheduler: f.sched,
		Sink:      transport.NewMux("slack", f.slack, f.tg),
		Audit:     audit,
		Bus:       f.bus,
	})
	return f
}

func slash(text string) transport.Update {
	return transport.Update{Platform: "slack", Kind: transport.UpdateCommand, Message: &transport.Message{
		Channel: "C1", UserID: "U1", Username: "alice", Text: text,
	}}
}

func mention(text string) transport.Update {
	return transport.Update{Platform: "slack", Kind: transport.UpdateMention, Message: &transport.Message{
		Channel: "C1", Thread: "170.1", UserID: "U1", Text: text,
	}}
}

func TestCheckCommand(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-check https://Example.com/page"))

	require.Len(t, f.check.runs, 1)
	assert.Equal(t, "example.com", f.check.runs[0].target)
	assert.Equal(t, transport.ChatTarget{Platform: "slack", Channel: "C1"}, f.check.runs[0].to)

	entries, err := f.audit.RecentAudit(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "check", entries[0].Action)
	assert.Equal(t, "example.com", entries[0].Target)
	assert.True(t, entries[0].OK)
}

func TestCheckUsageAndInvalidDomain(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-check"))
	msg := f.slack.last(t)
	assert.Equal(t, checkUsage, msg.text)
	assert.True(t, msg.opt.Ephemeral)
	assert.Equal(t, "U1", msg.opt.UserID)

	f.d.Handle(context.Background(), slash("/ahrefs-check not_a_domain"))
	assert.Contains(t, f.slack.last(t).text, "Domaine invalide")
	assert.Empty(t, f.check.runs)
}

func TestScheduleAddsAndReconciles(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash(`/ahrefs-schedule example.com "weekly 14h30 lundi" <#C9|seo>`))

	recs := f.store.List()
	require.Len(t, recs, 1)
	assert.Equal(t, "example.com", recs[0].Target)
	assert.Equal(t, "30 14 * * 1", recs[0].Recurrence)
	assert.Equal(t, "C9", recs[0].Destination)
	require.Len(t, f.sched.reconciled, 1)
	assert.Len(t, f.sched.reconciled[0], 1)

	msg := f.slack.last(t).text
	assert.Contains(t, msg, ":white_check_mark: Rapport programmé pour *example.com*")
	assert.Contains(t, msg, "dans <#C9>.")
}

func TestScheduleDefaultsToCurrentChannel(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-schedule example.com daily 9h"))

	recs := f.store.List()
	require.Len(t, recs, 1)
	assert.Equal(t, "0 9 * * *", recs[0].Recurrence)
	assert.Equal(t, "C1", recs[0].Destination)
}

func TestScheduleFromTelegramKeepsPlatform(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), transport.Update{Platform: "telegram", Kind: transport.UpdateCommand, Message: &transport.Message{
		Channel: "-100", UserID: "7", Text: `/schedule@seo_bot example.com "monthly 9h 1"`,
	}})

	recs := f.store.List()
	require.Len(t, recs, 1)
	assert.Equal(t, "telegram:-100", recs[0].Destination)
	assert.Equal(t, "0 9 1 * *", recs[0].Recurrence)
	assert.Contains(t, f.tg.last(t).text, "Rapport programmé")
}

func TestScheduleErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-schedule example.com"))
	assert.Equal(t, scheduleUsage, f.slack.last(t).text)

	f.d.Handle(context.Background(), slash(`/ahrefs-schedule example.com "daily 25h"`))
	msg := f.slack.last(t).text
	assert.Contains(t, msg, "Erreur: ")
	assert.Contains(t, msg, "Formats acceptés")
	assert.Empty(t, f.store.List())
	assert.Empty(t, f.sched.reconciled)
}

func TestListAndDeleteAction(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-list"))
	assert.Equal(t, noSchedulesText, f.slack.last(t).text)

	rec, err := f.store.Add(schedule.Record{Target: "example.com", Recurrence: "daily 9h", Destination: "C2"})
	require.NoError(t, err)

	f.d.Handle(context.Background(), slash("/ahrefs-list"))
	msg := f.slack.last(t)
	assert.Contains(t, msg.text, "*example.com*")
	assert.Contains(t, msg.text, "Canal: <#C2>")
	require.Len(t, msg.opt.Buttons, 1)
	assert.Equal(t, ActionDeleteSchedule, msg.opt.Buttons[0].Action)
	assert.Equal(t, rec.ID, msg.opt.Buttons[0].Value)
	assert.Equal(t, transport.StyleDanger, msg.opt.Buttons[0].Style)

	f.d.Handle(context.Background(), transport.Update{Platform: "slack", Kind: transport.UpdateAction, Action: &transport.Action{
		Channel: "C1", UserID: "U1", Name: ActionDeleteSchedule, Value: rec.ID,
	}})
	assert.Equal(t, removedText, f.slack.last(t).text)
	assert.Empty(t, f.store.List())
	require.Len(t, f.sched.reconciled, 1)
	assert.Empty(t, f.sched.reconciled[0])
	assert.Equal(t, 1, f.slack.answered)
}

func TestUnscheduleUnknownID(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-unschedule nope"))
	assert.Equal(t, notRemovedText, f.slack.last(t).text)
	assert.Empty(t, f.sched.reconciled)
}

func TestShowMoreAction(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), transport.Update{Platform: "telegram", Kind: transport.UpdateAction, Action: &transport.Action{
		ID: "cb1", Channel: "-5", UserID: "7", Name: report.ActionShowMore, Value: "rep-1",
	}})
	assert.Equal(t, []string{"rep-1"}, f.check.more)
	assert.Equal(t, 1, f.tg.answered)
}

func TestMentions(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), mention("peux-tu check <http://example.com|example.com> stp"))
	require.Len(t, f.check.runs, 1)
	assert.Equal(t, "example.com", f.check.runs[0].target)
	assert.Equal(t, "170.1", f.check.runs[0].to.Thread)

	f.d.Handle(context.Background(), mention("aide"))
	assert.Contains(t, f.slack.last(t).text, "Aide AhrefsBot")
	assert.False(t, f.slack.last(t).opt.Ephemeral)

	f.d.Handle(context.Background(), mention("bonjour"))
	assert.Equal(t, notUnderstood, f.slack.last(t).text)
}

func TestGroupChatterIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), transport.Update{Platform: "telegram", Kind: transport.UpdateMessage, Message: &transport.Message{
		Channel: "-100", UserID: "7", Text: "check example.com",
	}})
	assert.Empty(t, f.check.runs)
	assert.Empty(t, f.tg.sent)
}

func TestAllowlist(t *testing.T) {
	f := newFixture(t, Config{AllowedUsers: []string{"Bob"}})
	f.d.Handle(context.Background(), slash("/ahrefs-check example.com"))
	assert.Empty(t, f.check.runs)
	assert.Empty(t, f.slack.sent)

	f.d.SetAllowedUsers([]string{"alice"})
	f.d.Handle(context.Background(), slash("/ahrefs-check example.com"))
	assert.Len(t, f.check.runs, 1)

	f.d.SetAllowedUsers([]string{"telegram:alice"})
	f.d.Handle(context.Background(), slash("/ahrefs-check example.com"))
	assert.Len(t, f.check.runs, 1)

	f.d.SetAllowedUsers([]string{"Slack:Alice"})
	f.d.Handle(context.Background(), slash("/ahrefs-check example.com"))
	assert.Len(t, f.check.runs, 2)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{})
	f.sched.snap = scheduler.Snapshot{Running: true, Timezone: "Europe/Paris", Generation: 3, Timers: []scheduler.TimerInfo{
		{ID: "a", Target: "example.com", Recurrence: "0 9 * * *", Runs: 2, Failures: 1, LastError: "boom"},
	}}
	f.d.Handle(context.Background(), slash("/ahrefs-status"))
	msg := f.slack.last(t).text
	assert.Contains(t, msg, "Planificateur actif")
	assert.Contains(t, msg, "Europe/Paris")
	assert.Contains(t, msg, "*example.com* tous les jours")
	assert.Contains(t, msg, "Exécutions: 2, échecs: 1")
	assert.Contains(t, msg, "Dernière erreur: boom")
}

func TestCommandEventAndFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ch, unsub := f.bus.Subscribe(4)
	defer unsub()

	f.check.runErr = errors.Mark(errors.New("quota"), report.ErrNotified)
	f.d.Handle(context.Background(), slash("/ahrefs-check example.com"))

	e := <-ch
	assert.Equal(t, eventbus.TypeCommandHandled, e.Type)
	data, ok := e.Data.(eventbus.CommandData)
	require.True(t, ok)
	assert.Equal(t, "check", data.Command)
	assert.True(t, data.OK)

	entries, err := f.audit.RecentAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)
	assert.Equal(t, "quota", entries[0].Error)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.Handle(context.Background(), slash("/ahrefs-frobnicate"))
	assert.Equal(t, notUnderstood, f.slack.last(t).text)
}

func TestLoopDrainsOnClose(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 2})
	updates := make(chan transport.Update, 2)
	updates <- slash("/ahrefs-check a.com")
	updates <- slash("/ahrefs-check b.com")
	close(updates)

	require.NoError(t, f.d.Loop(context.Background(), updates))
	assert.Len(t, f.check.runs, 2)
}

func TestMenu(t *testing.T) {
	m := Menu()
	require.Len(t, m, 6)
	assert.Equal(t, "check", m[0].Command)
	m[0].Command = "x"
	assert.Equal(t, "check", Menu()[0].Command)
}
