package config

import (
	"reflect"
	"sort"
	"strings"

	logx "seobot/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets are only ever reported as "_set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	// Slack (never log tokens)
	if oldCfg.Slack.Enabled != newCfg.Slack.Enabled ||
		oldCfg.Slack.Debug != newCfg.Slack.Debug ||
		oldCfg.Slack.BotToken != newCfg.Slack.BotToken ||
		oldCfg.Slack.AppToken != newCfg.Slack.AppToken {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.Bool("slack.enabled", newCfg.Slack.Enabled),
			logx.Bool("slack.bot_token_set", set(newCfg.Slack.BotToken)),
			logx.Bool("slack.app_token_set", set(newCfg.Slack.AppToken)),
		)
	}

	// Telegram (never log token)
	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.token_set", set(newCfg.Telegram.Token)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Chat, newCfg.Chat) {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.String("chat.default_platform", newCfg.Chat.DefaultPlatform),
			logx.Int("chat.allowed_users", len(newCfg.Chat.AllowedUsers)),
			logx.Int("chat.max_concurrent_checks", newCfg.Chat.MaxConcurrentChecks),
		)
	}

	oa, na := oldCfg.Ahrefs, newCfg.Ahrefs
	if oa.Token != na.Token || oa.BaseURL != na.BaseURL || oa.Timeout != na.Timeout ||
		oa.RatePerSec != na.RatePerSec || oa.Limit != na.Limit {
		changed = append(changed, "ahrefs")
		attrs = append(attrs,
			logx.Bool("ahrefs.token_set", set(na.Token)),
			logx.String("ahrefs.base_url", strings.TrimSpace(na.BaseURL)),
			logx.String("ahrefs.timeout", strings.TrimSpace(na.Timeout)),
			logx.Int("ahrefs.rate_per_sec", na.RatePerSec),
			logx.Int("ahrefs.limit", na.Limit),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.String("schedules.path", strings.TrimSpace(newCfg.Schedules.Path)),
			logx.String("schedules.timezone", strings.TrimSpace(newCfg.Schedules.Timezone)),
			logx.String("schedules.run_timeout", strings.TrimSpace(newCfg.Schedules.RunTimeout)),
			logx.Bool("schedules.watch", newCfg.Schedules.WatchEnabled()),
		)
	}

	if oldCfg.Reports != newCfg.Reports {
		changed = append(changed, "reports")
		attrs = append(attrs,
			logx.String("reports.cache_ttl", strings.TrimSpace(newCfg.Reports.CacheTTL)),
			logx.Int("reports.top_n", newCfg.Reports.TopN),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// Debug server (never log token)
	od, nd := oldCfg.Debug, newCfg.Debug
	if od.Enabled != nd.Enabled ||
		strings.TrimSpace(od.Addr) != strings.TrimSpace(nd.Addr) ||
		strings.TrimSpace(od.PprofPrefix) != strings.TrimSpace(nd.PprofPrefix) ||
		strings.TrimSpace(od.MetricsPath) != strings.TrimSpace(nd.MetricsPath) ||
		od.AllowInsecure != nd.AllowInsecure ||
		od.ReadTimeout != nd.ReadTimeout || od.WriteTimeout != nd.WriteTimeout || od.IdleTimeout != nd.IdleTimeout ||
		od.Token != nd.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", set(nd.Token)),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", set(nS.Path)),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
