package deadline

import (
	"time"

	"deadlined/internal/eventbus"
	logx "deadlined/pkg/logx"
)

const (
	defaultRetryBase     = 100 * time.Millisecond
	defaultRetryMaxDelay = 5 * time.Second
	defaultRetryJitter   = 0.2
	// defaultMaxSleep bounds a single wait so wall-clock steps (NTP, DST,
	// host suspend) are noticed within a minute.
	defaultMaxSleep    = 60 * time.Second
	defaultHistorySize = 200
)

// Options holds configuration for a [Scheduler].
type Options struct {
	Name string
	Log  logx.Logger
	Bus  eventbus.Bus

	// RetryBase is the delay before the first retry of a failed task; it
	// doubles per attempt up to RetryMaxDelay. Zero retries immediately.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = ±20%

	MaxSleep    time.Duration
	HistorySize int
}

// Option configures [Options].
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Name:          "deadline",
		RetryBase:     defaultRetryBase,
		RetryMaxDelay: defaultRetryMaxDelay,
		RetryJitter:   defaultRetryJitter,
		MaxSleep:      defaultMaxSleep,
		HistorySize:   defaultHistorySize,
	}
}

// WithName labels logs and events of this scheduler.
func WithName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Name = name
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *Options) { o.Log = log }
}

// WithBus publishes lifecycle events (see the Topic constants) on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *Options) { o.Bus = bus }
}

// WithRetryBackoff sets the retry delay window. WithRetryBackoff(0, 0)
// retries a failed task immediately. Entries run in store order, so keys
// behind a retrying entry wait for it.
func WithRetryBackoff(base, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.RetryBase = max(base, 0)
		o.RetryMaxDelay = max(maxDelay, o.RetryBase)
	}
}

// WithRetryJitter sets the relative jitter applied to retry delays. Zero disables jitter.
func WithRetryJitter(j float64) Option {
	return func(o *Options) { o.RetryJitter = min(max(j, 0), 1) }
}

// WithMaxSleep caps how long the worker waits before re-reading the clock.
func WithMaxSleep(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.MaxSleep = d
		}
	}
}

// WithHistorySize bounds the run history kept for Snapshot. Zero disables it.
func WithHistorySize(n int) Option {
	return func(o *Options) { o.HistorySize = max(n, 0) }
}
