// Package metrics turns event bus traffic into Prometheus series on a
// private registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seobot/internal/eventbus"
)

const Namespace = "seobot"

type Metrics struct {
	reg *prometheus.Registry

	reconciles    prometheus.Counter
	timers        prometheus.Gauge
	invalid       prometheus.Gauge
	runs          *prometheus.CounterVec
	skipped       prometheus.Counter
	runDuration   prometheus.Histogram
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	brokenLinks   *prometheus.GaugeVec
	commands      *prometheus.CounterVec
	watchDegraded prometheus.Counter
}

// New builds the collectors. Runtime and process collectors are included
// when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "schedule_reconciles_total",
			Help:      "Number of scheduler reconciliations",
		}),
		timers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "schedule_timers",
			Help:      "Live timers after the last reconciliation",
		}),
		invalid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "schedule_invalid_records",
			Help:      "Records skipped by the last reconciliation",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "schedule_runs_total",
			Help:      "Scheduled occurrences by result",
		}, []string{"result"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "schedule_overlaps_total",
			Help:      "Occurrences skipped because the previous one was still running",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "schedule_run_duration_seconds",
			Help:      "Duration of scheduled occurrences",
			Buckets:   []float64{.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "checks_total",
			Help:      "Backlink checks by trigger and outcome",
		}, []string{"trigger", "kind"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of backlink checks",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"trigger"}),
		brokenLinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "broken_backlinks",
			Help:      "Broken backlinks found by the last successful check",
		}, []string{"target"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Chat commands handled",
		}, []string{"platform", "command", "result"}),
		watchDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "watch_degraded_total",
			Help:      "Times file watching fell back to polling or stopped",
		}),
	}
	m.reg.MustRegister(
		m.reconciles,
		m.timers,
		m.invalid,
		m.runs,
		m.skipped,
		m.runDuration,
		m.checks,
		m.checkDuration,
		m.brokenLinks,
		m.commands,
		m.watchDegraded,
	)
	if withRuntime {
		m.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.ReconcileData:
		m.reconciles.Inc()
		m.timers.Set(float64(d.Registered))
		m.invalid.Set(float64(d.Skipped))
	case eventbus.RunData:
		if e.Type == eventbus.TypeScheduleSkipped {
			m.skipped.Inc()
			return
		}
		result := "ok"
		if d.Error != "" {
			result = "error"
		}
		m.runs.WithLabelValues(result).Inc()
		m.runDuration.Observe(d.Took.Seconds())
	case eventbus.CheckData:
		trigger := "command"
		if d.Scheduled {
			trigger = "schedule"
		}
		m.checks.WithLabelValues(trigger, d.Kind).Inc()
		m.checkDuration.WithLabelValues(trigger).Observe(d.Took.Seconds())
		if d.Kind == "ok" {
			m.brokenLinks.WithLabelValues(d.Target).Set(float64(d.Broken))
		}
	case eventbus.CommandData:
		result := "ok"
		if !d.OK {
			result = "error"
		}
		m.commands.WithLabelValues(d.Platform, d.Command, result).Inc()
	case eventbus.WatchData:
		m.watchDegraded.Inc()
	}
}
