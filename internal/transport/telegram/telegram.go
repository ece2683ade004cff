// Package telegram is the Telegram chat adapter (long polling via telebot).
package telegram

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	rtsup "seobot/internal/runtime/supervisor"
	kit "seobot/internal/transport"
	logx "seobot/pkg/logx"
)

const (
	Name      = "telegram"
	textLimit = 4000
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// BotCommand is an entry of the Telegram command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var (
	_ kit.Adapter      = (*Adapter)(nil)
	_ kit.Acknowledger = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Sender.IsBot {
			return nil
		}
		a.emit(a.messageUpdate(m))
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		name, value := splitCallbackData(cb.Data)
		act := &kit.Action{
			ID:        cb.ID,
			Channel:   chatID(m.Chat),
			MessageID: strconv.Itoa(m.ID),
			Name:      name,
			Value:     value,
		}
		if m.ThreadID != 0 {
			act.Thread = strconv.Itoa(m.ThreadID)
		}
		if cb.Sender != nil {
			act.UserID = strconv.FormatInt(cb.Sender.ID, 10)
			act.Username = cb.Sender.Username
		}
		a.emit(kit.Update{Platform: Name, Kind: kit.UpdateAction, Action: act})
		return nil
	})
}

func (a *Adapter) messageUpdate(m *tele.Message) kit.Update {
	msg := &kit.Message{
		ID:       strconv.Itoa(m.ID),
		Channel:  chatID(m.Chat),
		UserID:   strconv.FormatInt(m.Sender.ID, 10),
		Username: m.Sender.Username,
		Text:     m.Text,
		IsDirect: m.Private(),
	}
	if m.ThreadID != 0 {
		msg.Thread = strconv.Itoa(m.ThreadID)
	}
	kind := kit.UpdateMessage
	switch {
	case strings.HasPrefix(m.Text, "/"):
		kind = kit.UpdateCommand
	case !msg.IsDirect && a.bot.Me != nil && strings.Contains(m.Text, "@"+a.bot.Me.Username):
		kind = kit.UpdateMention
		msg.Text = strings.TrimSpace(strings.ReplaceAll(m.Text, "@"+a.bot.Me.Username, ""))
	}
	return kit.Update{Platform: Name, Kind: kind, Message: msg}
}

func (a *Adapter) emit(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.flushDropped(cap(out))
				return
			case <-t.C:
				a.flushDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// telebot's Start can return on its own; restart it while the context lives.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartOnCleanExit(true),
	)
	return nil
}

func (a *Adapter) flushDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	was := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !was || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Long polls may still be pending; do not hold shutdown for them.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

// Health reports the poll loop supervisor state.
func (a *Adapter) Health() rtsup.Snapshot {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup.Snapshot()
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	id, err := parseChatID(to.Channel)
	if err != nil {
		return kit.MessageRef{}, err
	}
	thread := atoiOrZero(to.Thread)
	chat := &tele.Chat{ID: id}

	var first kit.MessageRef
	for i, chunk := range SplitText(Plain(text), textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview, ThreadID: thread}
		if i == 0 {
			so.ReplyMarkup = markup(opt.Buttons)
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, errors.Wrap(err, "telegram send")
		}
		if i == 0 {
			first = kit.MessageRef{Platform: Name, Channel: to.Channel, Thread: to.Thread, ID: strconv.Itoa(msg.ID)}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	id, err := parseChatID(ref.Channel)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(ref.ID)
	if err != nil {
		return errors.Wrapf(err, "telegram message id %q", ref.ID)
	}
	chunks := SplitText(Plain(text), textLimit)
	m := &tele.Message{ID: msgID, Chat: &tele.Chat{ID: id}}
	if _, err := a.bot.Edit(m, chunks[0], &tele.SendOptions{
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           markup(opt.Buttons),
	}); err != nil {
		return errors.Wrap(err, "telegram edit")
	}
	// The overflow of a long edit goes out as new messages.
	thread := atoiOrZero(ref.Thread)
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: id}, chunk, &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview, ThreadID: thread}); err != nil {
			return errors.Wrap(err, "telegram send")
		}
	}
	return nil
}

func (a *Adapter) AnswerAction(ctx context.Context, act *kit.Action, text string) error {
	if act == nil || act.ID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: act.ID}, &tele.CallbackResponse{Text: text})
}

// SetCommands updates the bot command menu. It is a no-op when the list is unchanged.
func (a *Adapter) SetCommands(cmds []BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := SanitizeCommand(c.Command)
		if name == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = name
		}
		if len(d) > 256 {
			d = d[:256]
		}
		_, _ = h.Write([]byte(name + "\x00" + d + "\x00"))
		list = append(list, tele.Command{Text: name, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return errors.Wrap(err, "telegram setMyCommands")
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func markup(buttons []kit.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	row := make([]tele.InlineButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tele.InlineButton{Text: b.Label, Data: CallbackData(b.Action, b.Value)})
	}
	rm.InlineKeyboard = [][]tele.InlineButton{row}
	return rm
}

func chatID(c *tele.Chat) string {
	if c == nil {
		return ""
	}
	return strconv.FormatInt(c.ID, 10)
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Newf("telegram chat id %q is not numeric", s)
	}
	return id, nil
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
