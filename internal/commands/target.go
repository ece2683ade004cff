package commands

import (
	"regexp"
	"strings"
)

var (
	// Slack auto-links: <http://a.com|a.com>, <http://a.com>.
	reSlackLink = regexp.MustCompile(`^<([^|>]+)(?:\|([^>]*))?>$`)
	// Slack channel refs: <#C0123|general>, <#C0123>.
	reSlackChannel = regexp.MustCompile(`^<#([A-Z0-9]+)(?:\|[^>]*)?>$`)
	reDomain       = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}(?:\.[a-zA-Z0-9-]{1,63})*\.[a-zA-Z]{2,}$`)
	reMentionCheck = regexp.MustCompile(`(?i)\bcheck\s+(\S+)`)
	reMentionHelp  = regexp.MustCompile(`(?i)\b(help|aide)\b`)
)

// NormalizeTarget strips chat link markup, a URL scheme and any path, then
// lowercases. It returns "" when what is left is not a domain.
func NormalizeTarget(s string) string {
	s = strings.TrimSpace(s)
	if m := reSlackLink.FindStringSubmatch(s); m != nil {
		s = m[1]
		if m[2] != "" {
			s = m[2]
		}
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "http://"), "https://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if !reDomain.MatchString(s) {
		return ""
	}
	return s
}

// ParseChannel extracts a channel id from "<#C0123|name>", "#name" or a raw id.
func ParseChannel(s string) string {
	s = strings.TrimSpace(s)
	if m := reSlackChannel.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimPrefix(s, "#")
}

// normalizeCommand maps "/ahrefs-check@bot", "ahrefs_check" and "check" to "check".
func normalizeCommand(word string) string {
	w := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(word), "/"))
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	for _, p := range []string{"ahrefs-", "ahrefs_"} {
		w = strings.TrimPrefix(w, p)
	}
	if c, ok := aliases[w]; ok {
		return c
	}
	return w
}

var aliases = map[string]string{
	"ls":       cmdList,
	"remove":   cmdUnschedule,
	"delete":   cmdUnschedule,
	"rm":       cmdUnschedule,
	"start":    cmdHelp,
	"h":        cmdHelp,
	"aide":     cmdHelp,
	"schedule": cmdSchedule,
	"add":      cmdSchedule,
}
