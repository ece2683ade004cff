package report

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"seobot/internal/eventbus"
	"seobot/internal/provider"
	"seobot/internal/reportcache"
	"seobot/internal/schedule"
	"seobot/internal/transport"
	logx "seobot/pkg/logx"
)

type Runner struct {
	prov  provider.Provider
	sink  transport.Sender
	cache *reportcache.Cache[Report]
	bus   eventbus.Bus
	log   logx.Logger

	topN  atomic.Int64
	now   func() time.Time
	newID func() string
}

type Option func(*Runner)

// WithIDs overrides report id generation.
func WithIDs(f func() string) Option { return func(r *Runner) { r.newID = f } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func New(cfg Config, prov provider.Provider, sink transport.Sender, cache *reportcache.Cache[Report], log logx.Logger, bus eventbus.Bus, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cache == nil {
		cache = reportcache.New[Report]()
	}
	r := &Runner{
		prov:  prov,
		sink:  sink,
		cache: cache,
		bus:   bus,
		log:   log.With(logx.String("comp", "report")),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	r.Apply(cfg)
	return r
}

func (r *Runner) Apply(cfg Config) {
	n := cfg.TopN
	if n <= 0 {
		n = defaultTopN
	}
	r.topN.Store(int64(n))
}

// Run checks target now and reports into to (and to.Thread when set).
func (r *Runner) Run(ctx context.Context, target string, to transport.ChatTarget) error {
	return r.run(ctx, target, to, false)
}

// RunScheduled is the scheduler job: destination is a stored schedule destination.
func (r *Runner) RunScheduled(ctx context.Context, target, destination string) error {
	return r.run(ctx, target, transport.ParseDestination(destination), true)
}

// NotifyFailure posts a scheduled failure that was not already reported.
// Sink failures are only logged since posting would fail the same way.
func (r *Runner) NotifyFailure(ctx context.Context, rec schedule.Record, err error) {
	if err == nil || errors.Is(err, ErrNotified) {
		return
	}
	if errors.Is(err, transport.ErrSinkUnavailable) {
		r.log.Warn("scheduled report not delivered",
			logx.String("schedule", rec.Key()),
			logx.String("destination", rec.Destination),
			logx.Err(err))
		return
	}
	to := transport.ParseDestination(rec.Destination)
	if _, serr := r.sink.SendText(ctx, to, failureText(rec.Target, true, err), nil); serr != nil {
		r.log.Warn("failure notice not delivered", logx.String("schedule", rec.Key()), logx.Err(serr))
	}
}

// ShowMore posts the links of a cached report past the first page.
func (r *Runner) ShowMore(ctx context.Context, id string, to transport.ChatTarget) error {
	rep, err := r.cache.Get(id)
	if err != nil {
		if errors.Is(err, reportcache.ErrNotFound) {
			_, serr := r.sink.SendText(ctx, to, ExpiredText(), nil)
			return serr
		}
		return err
	}
	for _, page := range RenderMore(rep, int(r.topN.Load()), showMorePage) {
		if _, err := r.sink.SendText(ctx, to, page, &transport.SendOptions{DisablePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns a cached report.
func (r *Runner) Lookup(id string) (Report, error) { return r.cache.Get(id) }

// Fetch runs both provider calls concurrently.
func (r *Runner) Fetch(ctx context.Context, target string) (provider.DomainMetrics, []provider.BrokenLink, error) {
	var (
		metrics provider.DomainMetrics
		broken  []provider.BrokenLink
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		broken, err = r.prov.FetchBrokenLinks(gctx, target)
		return err
	})
	g.Go(func() error {
		var err error
		metrics, err = r.prov.FetchDomainMetrics(gctx, target)
		return err
	})
	if err := g.Wait(); err != nil {
		return provider.DomainMetrics{}, nil, err
	}
	return metrics, broken, nil
}

func (r *Runner) run(ctx context.Context, target string, to transport.ChatTarget, scheduled bool) error {
	target = strings.TrimSpace(target)
	start := r.now()
	log := r.log.With(logx.String("target", target), logx.Bool("scheduled", scheduled))

	loading, err := r.sink.SendText(ctx, to, loadingText(target), nil)
	if err != nil {
		err = markSink(err)
		r.publish(target, scheduled, 0, start, "sink", err)
		return errors.Wrap(err, "post loading message")
	}

	metrics, broken, err := r.Fetch(ctx, target)
	if err != nil {
		log.Warn("check failed", logx.String("kind", provider.Kind(err)), logx.Err(err))
		r.publish(target, scheduled, 0, start, "provider", err)
		if perr := r.replace(ctx, to, loading, failureText(target, scheduled, err), nil); perr != nil {
			log.Warn("error notice not delivered", logx.Err(perr))
			return err
		}
		return errors.Mark(err, ErrNotified)
	}

	rep := Report{
		ID:        r.newID(),
		Target:    target,
		Metrics:   metrics,
		Broken:    broken,
		Generated: r.now(),
	}
	rep.Took = rep.Generated.Sub(start)

	var (
		text string
		opt  = &transport.SendOptions{DisablePreview: true}
	)
	topN := int(r.topN.Load())
	if len(broken) == 0 {
		text = cleanText(target, metrics)
	} else {
		text = Render(rep, topN)
		if len(broken) > topN {
			r.cache.Put(rep.ID, rep)
			opt.Buttons = []transport.Button{{Label: "Voir plus", Action: ActionShowMore, Value: rep.ID, Style: transport.StylePrimary}}
		}
	}

	if err := r.replace(ctx, to, loading, text, opt); err != nil {
		err = markSink(err)
		r.publish(target, scheduled, len(broken), start, "sink", err)
		return errors.Wrap(err, "deliver report")
	}
	log.Info("check done", logx.Int("broken", len(broken)), logx.Duration("took", r.now().Sub(start)))
	r.publish(target, scheduled, len(broken), start, "ok", nil)
	return nil
}

// replace edits the loading message, posting a new one if the edit fails.
func (r *Runner) replace(ctx context.Context, to transport.ChatTarget, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if ref.ID != "" {
		err := r.sink.EditText(ctx, ref, text, opt)
		if err == nil {
			return nil
		}
		r.log.Debug("edit failed, posting instead", logx.Err(err))
	}
	_, err := r.sink.SendText(ctx, to, text, opt)
	return err
}

func (r *Runner) publish(target string, scheduled bool, broken int, start time.Time, kind string, err error) {
	if r.bus == nil {
		return
	}
	d := eventbus.CheckData{
		Target:    target,
		Scheduled: scheduled,
		Broken:    broken,
		Took:      r.now().Sub(start),
		Kind:      kind,
	}
	if err != nil {
		d.Error = err.Error()
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeCheckFinished, Data: d})
}

func markSink(err error) error {
	if err == nil || errors.Is(err, transport.ErrSinkUnavailable) {
		return err
	}
	return errors.Mark(err, transport.ErrSinkUnavailable)
}
