package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate reports every problem in cfg at once. requireChat asks for at
// least one enabled chat adapter (serve mode).
func Validate(cfg *Config, requireChat bool) error {
	if cfg == nil {
		return fmt.Errorf("invalid config: config is nil")
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if cfg.Slack.Enabled {
		if strings.TrimSpace(cfg.Slack.BotToken) == "" {
			add("slack.bot_token is required (or %s)", EnvSlackBotToken)
		}
		if strings.TrimSpace(cfg.Slack.AppToken) == "" {
			add("slack.app_token is required (or %s)", EnvSlackAppToken)
		}
	}
	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or %s)", EnvTelegramToken)
	}
	if requireChat && !cfg.Slack.Enabled && !cfg.Telegram.Enabled {
		add("enable slack or telegram")
	}

	switch p := strings.ToLower(strings.TrimSpace(cfg.Chat.DefaultPlatform)); p {
	case "":
	case "slack":
		if !cfg.Slack.Enabled {
			add("chat.default_platform=slack but slack is disabled")
		}
	case "telegram":
		if !cfg.Telegram.Enabled {
			add("chat.default_platform=telegram but telegram is disabled")
		}
	default:
		add("chat.default_platform: unknown platform %q", p)
	}
	if cfg.Chat.MaxConcurrentChecks < 0 {
		add("chat.max_concurrent_checks must be >= 0")
	}

	if cfg.Ahrefs.RatePerSec < 0 || cfg.Ahrefs.Limit < 0 {
		add("ahrefs.rate_per_sec and ahrefs.limit must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Schedules.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("schedules.timezone: %v", err)
		}
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.Target) == "" {
		add("logging.chat.target is required when logging.chat.enabled")
	}

	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"ahrefs.timeout", cfg.Ahrefs.Timeout},
		{"schedules.run_timeout", cfg.Schedules.RunTimeout},
		{"schedules.poll_interval", cfg.Schedules.PollInterval},
		{"schedules.debounce", cfg.Schedules.Debounce},
		{"reports.cache_ttl", cfg.Reports.CacheTTL},
		{"debug.read_timeout", cfg.Debug.ReadTimeout},
		{"debug.write_timeout", cfg.Debug.WriteTimeout},
		{"debug.idle_timeout", cfg.Debug.IdleTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			add("%v", err)
		}
	}

	if cfg.Debug.Enabled {
		addr := strings.TrimSpace(cfg.Debug.Addr)
		if addr == "" {
			addr = "127.0.0.1:6060"
		}
		host, _, err := net.SplitHostPort(addr)
		switch {
		case err != nil:
			add("debug.addr: %v", err)
		case !isLoopbackHost(host) && strings.TrimSpace(cfg.Debug.Token) == "" && !cfg.Debug.AllowInsecure:
			add("debug.addr %q is not loopback: set debug.token or debug.allow_insecure", addr)
		}
	}

	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			add("%v", err)
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				add("storage.path is required when storage.driver=sqlite")
			}
		default:
			add("unknown storage.driver: %s", cfg.Storage.Driver)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
