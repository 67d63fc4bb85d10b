package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"02/01/2006 15:04",
}

// ParseAt resolves a requested reminder time relative to now.
//
// Supported forms:
//   - Absolute: RFC3339 ("2026-10-18T15:00:00Z") or local "2026-10-18 15:00", "18/10/2026 15:00"
//   - Wall clock: "HH:MM" (next occurrence, today or tomorrow)
//   - Relative: Go duration ("90s", "10m", "1h30m")
//   - Cron: "0 9 * * *", "@daily", "@every 2h" (next occurrence); "cron:" forces cron
func ParseAt(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("reminder time required")
	}
	now = now.In(loc)

	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		return nextCron(strings.TrimSpace(s[len("cron:"):]), now)
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	if m := reClock.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h > 23 || mm > 59 {
			return time.Time{}, fmt.Errorf("invalid clock time %q", s)
		}
		t := time.Date(now.Year(), now.Month(), now.Day(), h, mm, 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("relative time must be > 0")
		}
		return now.Add(d), nil
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return nextCron(s, now)
	}

	return time.Time{}, fmt.Errorf(
		"invalid reminder time %q (use '2026-10-18 15:00', 'HH:MM', a duration like '10m', or cron like '0 9 * * *')",
		raw,
	)
}

// RelativeDelay reports the delay of a relative form such as "10m". Callers
// that own a clock add it themselves instead of going through ParseAt.
func RelativeDelay(raw string) (time.Duration, bool) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	return d, err == nil && d > 0
}

func nextCron(expr string, now time.Time) (time.Time, error) {
	if expr == "" {
		return time.Time{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron %q never fires", expr)
	}
	return next, nil
}
