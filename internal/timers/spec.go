package timers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes the normalized kind of a timer spec.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
	KindOnce
)

func (k Kind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindInterval:
		return "interval"
	case KindOnce:
		return "once"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrInvalid is wrapped by every parse error.
var ErrInvalid = errors.New("invalid timer spec")

// Spec is a parsed timer specification.
type Spec struct {
	Kind   Kind
	Cron   string
	Every  time.Duration
	At     time.Time
	Source string // "cron" | "duration" | "hhmm" | "rfc3339"

	sched cron.Schedule
}

// Recurring reports whether the spec yields more than one deadline.
func (s Spec) Recurring() bool { return s.Kind != KindOnce }

// Next returns the first deadline strictly after from. A one-shot spec
// returns its timestamp regardless of from, so an overdue timer still fires
// once; ok is false only for a zero Spec.
func (s Spec) Next(from time.Time) (next time.Time, ok bool) {
	if s.Kind == KindOnce {
		return s.At, !s.At.IsZero()
	}
	if s.sched == nil {
		return time.Time{}, false
	}
	next = s.sched.Next(from)
	return next, !next.IsZero()
}

func (s Spec) String() string {
	switch s.Kind {
	case KindCron:
		return "cron:" + s.Cron
	case KindInterval:
		return "every:" + s.Every.String()
	case KindOnce:
		return "at:" + s.At.Format(time.RFC3339)
	}
	return ""
}

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Parse parses raw in the local time zone.
func Parse(raw string) (Spec, error) {
	return ParseIn(raw, time.Local)
}

// ParseIn parses raw; cron expressions are evaluated in loc unless they
// carry their own CRON_TZ= prefix.
func ParseIn(raw string, loc *time.Location) (Spec, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: schedule required", ErrInvalid)
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("%w: cron expression required after 'cron:'", ErrInvalid)
		}
		return parseCron(expr, loc)
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSpec(s[len("every:"):])
	case strings.HasPrefix(low, "at:"):
		return parseAt(s[len("at:"):])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s, loc)
	}
	if sp, err := parseIntervalSpec(s); err == nil {
		return sp, nil
	}
	return Spec{}, fmt.Errorf(
		"%w: %q (use cron like '*/5 * * * *', HH:MM like '02:30', duration like '55m' or at:<RFC3339>)",
		ErrInvalid, raw,
	)
}

// After returns a one-shot spec firing d after now.
func After(now time.Time, d time.Duration) (Spec, error) {
	if d < 0 {
		return Spec{}, fmt.Errorf("%w: negative delay %v", ErrInvalid, d)
	}
	return Spec{Kind: KindOnce, At: now.Add(d), Source: "duration"}, nil
}

func parseCron(expr string, loc *time.Location) (Spec, error) {
	full := expr
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") && loc != time.Local {
		full = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := parser.Parse(full)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: cron %q: %v", ErrInvalid, expr, err)
	}
	return Spec{Kind: KindCron, Cron: expr, Source: "cron", sched: sched}, nil
}

func parseIntervalSpec(v string) (Spec, error) {
	d, src, err := parseInterval(v)
	if err != nil {
		return Spec{}, err
	}
	// cron.Every rounds to whole seconds, with a one second minimum.
	return Spec{Kind: KindInterval, Every: d, Source: src, sched: cron.Every(d)}, nil
}

func parseAt(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: timestamp %q (use RFC 3339 like 2006-01-02T15:04:05Z)", ErrInvalid, v)
	}
	return Spec{Kind: KindOnce, At: at, Source: "rfc3339"}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("%w: interval required", ErrInvalid)
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("%w: interval %q (use HH:MM or Go duration like '55m'/'2h30m')", ErrInvalid, v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("%w: interval must be > 0", ErrInvalid)
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, string, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, "", fmt.Errorf("%w: HH:MM %q", ErrInvalid, v)
	}
	// hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, "", fmt.Errorf("%w: minutes in %q", ErrInvalid, v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, "", fmt.Errorf("%w: interval must be > 0", ErrInvalid)
	}
	return d, "hhmm", nil
}
