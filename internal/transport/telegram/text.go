package telegram

import (
	"strings"
	"unicode"
)

const callbackLimit = 64

// CallbackData encodes a button as "action:value", cut to Telegram's 64 bytes.
func CallbackData(action, value string) string {
	d := action + ":" + value
	if len(d) > callbackLimit {
		d = d[:callbackLimit]
	}
	return d
}

func splitCallbackData(d string) (action, value string) {
	d = strings.TrimPrefix(d, "\f")
	if i := strings.IndexByte(d, ':'); i >= 0 {
		return d[:i], d[i+1:]
	}
	return d, ""
}

var emoji = strings.NewReplacer(
	":hourglass_flowing_sand:", "⏳",
	":hourglass:", "⌛",
	":white_check_mark:", "✅",
	":warning:", "⚠️",
	":x:", "❌",
	":calendar:", "📅",
	":wastebasket:", "🗑",
	":mag:", "🔍",
)

// Plain turns Slack-flavoured text into something readable on Telegram:
// emoji shortcodes become unicode and channel links lose their markup.
func Plain(s string) string {
	s = emoji.Replace(s)
	var b strings.Builder
	for {
		i := strings.Index(s, "<#")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			break
		}
		ref := s[i+2 : i+j]
		if k := strings.IndexByte(ref, '|'); k >= 0 {
			ref = ref[k+1:]
		}
		b.WriteString(s[:i])
		b.WriteString("#" + ref)
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}

// SplitText cuts s into chunks of at most limit runes, preferring newlines.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			end = len(rs)
		} else {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SanitizeCommand maps a name to Telegram's [a-z0-9_]{1,32} command syntax.
func SanitizeCommand(s string) string {
	var b strings.Builder
	under := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !under {
				b.WriteRune('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}
