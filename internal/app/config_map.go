package app

import (
	"strings"
	"time"

	"seobot/internal/config"
	"seobot/internal/observability/debughttp"
	"seobot/internal/provider/ahrefs"
	"seobot/internal/report"
	"seobot/internal/storage"
	"seobot/internal/task/scheduler"
	"seobot/internal/transport"
	"seobot/internal/transport/slack"
	"seobot/internal/transport/telegram"
	"seobot/internal/watch"
	logx "seobot/pkg/logx"
)

const (
	defaultSchedulesPath = "./schedules.json"
	defaultCacheTTL      = time.Hour
	defaultPollTimeout   = 10 * time.Second
)

// Every mapper assumes cfg passed config.Validate; duration parse errors are
// still returned so a bad hot reload keeps the previous settings.

func schedulesPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Schedules.Path); p != "" {
		return p
	}
	return defaultSchedulesPath
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func logTarget(cfg *config.Config) transport.ChatTarget {
	return transport.ParseDestination(cfg.Logging.Chat.Target)
}

func mapSlackConfig(cfg *config.Config) slack.Config {
	return slack.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Debug:    cfg.Slack.Debug,
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, nil
}

// defaultPlatform is chat.default_platform, else the first enabled adapter
// (slack first).
func defaultPlatform(cfg *config.Config) string {
	if p := strings.ToLower(strings.TrimSpace(cfg.Chat.DefaultPlatform)); p != "" {
		return p
	}
	switch {
	case cfg.Slack.Enabled:
		return slack.Name
	case cfg.Telegram.Enabled:
		return telegram.Name
	}
	return ""
}

func mapAhrefsConfig(cfg *config.Config) (ahrefs.Config, error) {
	timeout, err := config.ParseDurationField("ahrefs.timeout", cfg.Ahrefs.Timeout)
	if err != nil {
		return ahrefs.Config{}, err
	}
	return ahrefs.Config{
		Token:      cfg.Ahrefs.Token,
		BaseURL:    cfg.Ahrefs.BaseURL,
		Timeout:    timeout,
		RatePerSec: cfg.Ahrefs.RatePerSec,
		Limit:      cfg.Ahrefs.Limit,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	rt, err := config.ParseDurationField("schedules.run_timeout", cfg.Schedules.RunTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Schedules.Timezone),
		RunTimeout:  rt,
		HistorySize: cfg.Schedules.HistorySize,
	}, nil
}

func mapWatchOptions(cfg *config.Config, log logx.Logger) (watch.Options, error) {
	poll, err := config.ParseDurationField("schedules.poll_interval", cfg.Schedules.PollInterval)
	if err != nil {
		return watch.Options{}, err
	}
	deb, err := config.ParseDurationField("schedules.debounce", cfg.Schedules.Debounce)
	if err != nil {
		return watch.Options{}, err
	}
	return watch.Options{
		Debounce:     deb,
		PollInterval: poll,
		ForcePoll:    cfg.Schedules.ForcePoll,
		Log:          log,
	}, nil
}

func mapReportConfig(cfg *config.Config) (report.Config, time.Duration, error) {
	ttl, err := config.ParseDurationOrDefault("reports.cache_ttl", cfg.Reports.CacheTTL, defaultCacheTTL)
	if err != nil {
		return report.Config{}, 0, err
	}
	return report.Config{TopN: cfg.Reports.TopN}, ttl, nil
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	d := cfg.Debug
	out := debughttp.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		PprofPrefix:   d.PprofPrefix,
		MetricsPath:   d.MetricsPath,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("debug.read_timeout", d.ReadTimeout); err != nil {
		return debughttp.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return debughttp.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("debug.idle_timeout", d.IdleTimeout); err != nil {
		return debughttp.Config{}, err
	}
	return out, nil
}

// mapStorageConfig returns enabled=false for a missing section or driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" && driver == "file" {
		path = schedulesPath(cfg)
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}
