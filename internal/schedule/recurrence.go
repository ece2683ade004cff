package schedule

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrInvalidScheduleFormat matches every parse failure, including the
	// ErrInvalidWeekday and ErrInvalidDayOfMonth ones.
	ErrInvalidScheduleFormat = errors.New("invalid schedule format")
	ErrInvalidWeekday        = errors.New("invalid weekday")
	ErrInvalidDayOfMonth     = errors.New("invalid day of month")
)

// FormatHint lists the accepted frequency formats.
const FormatHint = `Formats acceptés: "daily 9h", "daily 14h30", "weekly 9h lundi", "monthly 9h 1" ou une expression cron à 5 champs ("0 9 * * 1").`

var weekdayNames = []struct {
	name string
	idx  int
}{
	{"dimanche", 0}, {"lundi", 1}, {"mardi", 2}, {"mercredi", 3},
	{"jeudi", 4}, {"vendredi", 5}, {"samedi", 6},
	{"sunday", 0}, {"monday", 1}, {"tuesday", 2}, {"wednesday", 3},
	{"thursday", 4}, {"friday", 5}, {"saturday", 6},
}

var weekdayText = [7]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

var (
	reCanonical = regexp.MustCompile(`^(\d+|\*)\s+(\d+|\*)\s+(\d+|\*)\s+(\d+|\*)\s+(\d+|\*)$`)
	reDaily     = regexp.MustCompile(`^daily\s+(\d{1,2})h(\d{2})?$`)
	reWeekly    = regexp.MustCompile(`^weekly\s+(\d{1,2})h(\d{2})?\s+(\S+)$`)
	reMonthly   = regexp.MustCompile(`^monthly\s+(\d{1,2})h(\d{2})?\s+(\d{1,2})$`)
)

// ParseSimplified turns a shorthand phrase ("daily 9h", "weekly 14h30 lundi",
// "monthly 10h 1") or a five-field cron expression into a canonical
// expression. Canonical input is returned unchanged once its ranges check out.
func ParseSimplified(input string) (string, error) {
	// A Caser is stateful; never share one across goroutines.
	s := cases.Lower(language.Und).String(strings.TrimSpace(input))

	if reCanonical.MatchString(s) {
		if err := ValidateCanonical(s); err != nil {
			return "", err
		}
		return s, nil
	}

	if m := reDaily.FindStringSubmatch(s); m != nil {
		hour, minute, err := clock(input, m[1], m[2])
		if err != nil {
			return "", err
		}
		return minute + " " + hour + " * * *", nil
	}

	if m := reWeekly.FindStringSubmatch(s); m != nil {
		hour, minute, err := clock(input, m[1], m[2])
		if err != nil {
			return "", err
		}
		day, ok := weekdayIndex(m[3])
		if !ok {
			names := make([]string, 0, len(weekdayNames))
			for _, w := range weekdayNames {
				names = append(names, w.name)
			}
			return "", formatError(ErrInvalidWeekday, "Jour de semaine invalide: %s. Utilisez un de: %s", m[3], strings.Join(names, ", "))
		}
		return minute + " " + hour + " * * " + strconv.Itoa(day), nil
	}

	if m := reMonthly.FindStringSubmatch(s); m != nil {
		hour, minute, err := clock(input, m[1], m[2])
		if err != nil {
			return "", err
		}
		day, _ := strconv.Atoi(m[3])
		if day < 1 || day > 31 {
			return "", formatError(ErrInvalidDayOfMonth, "Jour du mois invalide: %s. Utilisez un nombre entre 1 et 31.", m[3])
		}
		return minute + " " + hour + " " + strconv.Itoa(day) + " * *", nil
	}

	return "", unrecognized(input)
}

// ValidateCanonical checks that expr is five integer-or-star fields within cron ranges.
func ValidateCanonical(expr string) error {
	expr = strings.TrimSpace(expr)
	if !reCanonical.MatchString(expr) {
		return unrecognized(expr)
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return formatError(nil, "Expression cron invalide: %s (%v)", expr, err)
	}
	return nil
}

// ToText describes a canonical expression in French. Shapes it cannot
// describe are echoed back.
func ToText(expr string) string {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return "selon l'expression cron: " + expr
	}
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]
	if minute == "*" || hour == "*" || month != "*" {
		return "selon l'expression cron: " + expr
	}
	at := hourText(hour, minute)

	switch {
	case dom == "*" && dow == "*":
		return "tous les jours à " + at
	case dom == "*":
		d, err := strconv.Atoi(dow)
		if err != nil || d < 0 || d > 6 {
			return "selon l'expression cron: " + expr
		}
		return "tous les " + weekdayText[d] + " à " + at
	case dow == "*":
		return "le " + dom + " de chaque mois à " + at
	default:
		return "selon l'expression cron: " + expr
	}
}

func hourText(hour, minute string) string {
	h, err1 := strconv.Atoi(hour)
	m, err2 := strconv.Atoi(minute)
	if err1 != nil || err2 != nil {
		return hour + "h" + minute
	}
	if m == 0 {
		return strconv.Itoa(h) + "h"
	}
	return strconv.Itoa(h) + "h" + leftPad2(m)
}

func leftPad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// clock validates the hour/minute captures and returns them without leading zeros.
func clock(input, hs, ms string) (string, string, error) {
	h, _ := strconv.Atoi(hs)
	m := 0
	if ms != "" {
		m, _ = strconv.Atoi(ms)
	}
	if h > 23 || m > 59 {
		return "", "", unrecognized(input)
	}
	return strconv.Itoa(h), strconv.Itoa(m), nil
}

func weekdayIndex(name string) (int, bool) {
	for _, w := range weekdayNames {
		if w.name == name {
			return w.idx, true
		}
	}
	return 0, false
}

func unrecognized(input string) error {
	return formatError(nil, `Format d'horaire non reconnu: %s. Utilisez "daily 9h", "weekly 9h lundi", ou "monthly 9h 1".`,
		strings.TrimSpace(input))
}

// formatError builds a user-facing parse error marked with ErrInvalidScheduleFormat
// and, when set, the narrower kind.
func formatError(kind error, format string, args ...any) error {
	err := errors.Newf(format, args...)
	if kind != nil {
		err = errors.Mark(err, kind)
	}
	return errors.WithHint(errors.Mark(err, ErrInvalidScheduleFormat), FormatHint)
}
