package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"deadlined/internal/timers"
	logx "deadlined/pkg/logx"
)

const (
	StoreSorted    = "sorted"
	StoreInsertion = "insertion"

	DefaultRetryBase     = 100 * time.Millisecond
	DefaultRetryMaxDelay = 5 * time.Second
	DefaultRetryJitter   = 0.2
	DefaultMaxSleep      = 60 * time.Second
	DefaultHistorySize   = 200
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault treats empty and zero as def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// parseDurationUnlessEmpty treats only empty as def; an explicit "0s" stays zero.
func parseDurationUnlessEmpty(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDurationField(path, raw)
}

// SchedulerSettings is SchedulerConfig with defaults applied and values parsed.
type SchedulerSettings struct {
	Store         string
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
	MaxSleep      time.Duration
	HistorySize   int
	Location      *time.Location
}

// Resolve applies defaults and parses durations.
func (c SchedulerConfig) Resolve() (SchedulerSettings, error) {
	s := SchedulerSettings{
		Store:       strings.ToLower(strings.TrimSpace(c.Store)),
		RetryJitter: DefaultRetryJitter,
		HistorySize: DefaultHistorySize,
		Location:    time.Local,
	}
	switch s.Store {
	case "":
		s.Store = StoreSorted
	case StoreSorted, StoreInsertion:
	default:
		return SchedulerSettings{}, fmt.Errorf("scheduler.store: unknown store %q (use %q or %q)", c.Store, StoreSorted, StoreInsertion)
	}

	var err error
	if s.RetryBase, err = parseDurationUnlessEmpty("scheduler.retry_base", c.RetryBase, DefaultRetryBase); err != nil {
		return SchedulerSettings{}, err
	}
	maxDef := DefaultRetryMaxDelay
	if s.RetryBase == 0 {
		maxDef = 0
	}
	if s.RetryMaxDelay, err = parseDurationUnlessEmpty("scheduler.retry_max_delay", c.RetryMaxDelay, maxDef); err != nil {
		return SchedulerSettings{}, err
	}
	if s.RetryMaxDelay < s.RetryBase {
		return SchedulerSettings{}, fmt.Errorf("scheduler.retry_max_delay: %v is below retry_base %v", s.RetryMaxDelay, s.RetryBase)
	}
	if c.RetryJitter != nil {
		j := *c.RetryJitter
		if j < 0 || j > 1 {
			return SchedulerSettings{}, fmt.Errorf("scheduler.retry_jitter: %v must be within [0, 1]", j)
		}
		s.RetryJitter = j
	}
	if s.MaxSleep, err = ParseDurationOrDefault("scheduler.max_sleep", c.MaxSleep, DefaultMaxSleep); err != nil {
		return SchedulerSettings{}, err
	}
	if c.HistorySize != nil {
		if *c.HistorySize < 0 {
			return SchedulerSettings{}, errors.New("scheduler.history_size: must be >= 0")
		}
		s.HistorySize = *c.HistorySize
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return SchedulerSettings{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
		s.Location = loc
	}
	return s, nil
}

// Spec resolves the timer into a timer spec. now anchors "after" timers.
func (t TimerConfig) Spec(now time.Time, loc *time.Location) (timers.Spec, error) {
	set := 0
	for _, v := range []string{t.At, t.After, t.Schedule} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return timers.Spec{}, errors.New("exactly one of at, after or schedule is required")
	}
	switch {
	case strings.TrimSpace(t.At) != "":
		return timers.ParseIn("at:"+t.At, loc)
	case strings.TrimSpace(t.After) != "":
		d, err := ParseDurationField("after", t.After)
		if err != nil {
			return timers.Spec{}, err
		}
		return timers.After(now, d)
	default:
		return timers.ParseIn(t.Schedule, loc)
	}
}

// Validate checks the whole config and reports the first problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return errors.New("logging.file.path: required when file logging is enabled")
	}

	sched, err := cfg.Scheduler.Resolve()
	if err != nil {
		return err
	}

	if h := cfg.History; h != nil {
		switch strings.ToLower(strings.TrimSpace(h.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(h.Path) == "" {
				return fmt.Errorf("history.path: required for driver %q", h.Driver)
			}
		default:
			return fmt.Errorf("history.driver: unknown driver %q", h.Driver)
		}
		if _, err := ParseDurationField("history.busy_timeout", h.BusyTimeout); err != nil {
			return err
		}
		if h.Keep < 0 {
			return errors.New("history.keep: must be >= 0")
		}
	}

	if d := cfg.Debug; d != nil && d.Enabled {
		if addr := strings.TrimSpace(d.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("debug.addr: %w", err)
			}
		}
	}

	seen := make(map[string]struct{}, len(cfg.Timers))
	now := time.Now()
	for i, t := range cfg.Timers {
		key := strings.TrimSpace(t.Key)
		if key == "" {
			return fmt.Errorf("timers[%d].key: required", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("timers[%d].key: duplicate key %q", i, key)
		}
		seen[key] = struct{}{}
		if _, err := t.Spec(now, sched.Location); err != nil {
			return fmt.Errorf("timers[%d] (%s): %w", i, key, err)
		}
	}
	return nil
}
