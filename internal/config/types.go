package config

// Config is the daemon configuration (JSON, or YAML by file extension).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	History   *HistoryConfig  `json:"history,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
	Timers    []TimerConfig   `json:"timers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the deadline scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted):
//   - store: "sorted"
//   - retry_base: "100ms" ("0s" retries immediately)
//   - retry_max_delay: "5s"
//   - retry_jitter: 0.2
//   - max_sleep: "60s"
//   - history_size: 200
type SchedulerConfig struct {
	// Store selects the entry ordering: "sorted" (by deadline) or
	// "insertion" (first scheduled fires first).
	Store string `json:"store,omitempty"`

	RetryBase     string   `json:"retry_base,omitempty"`
	RetryMaxDelay string   `json:"retry_max_delay,omitempty"`
	RetryJitter   *float64 `json:"retry_jitter,omitempty"`
	MaxSleep      string   `json:"max_sleep,omitempty"`
	HistorySize   *int     `json:"history_size,omitempty"`

	// Timezone for cron timers (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// HistoryConfig controls the optional run-history store.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./deadlined.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Keep        int    `json:"keep,omitempty"`
}

// DebugConfig controls the diagnostics HTTP server. Changes apply on reload.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6062
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// TimerConfig arms one key. Exactly one of At, After or Schedule is set:
//   - at: RFC 3339 timestamp, fires once
//   - after: Go duration from daemon start (or from the reload that added it), fires once
//   - schedule: cron / interval spec (see package timers), fires repeatedly
type TimerConfig struct {
	Key      string `json:"key"`
	At       string `json:"at,omitempty"`
	After    string `json:"after,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}
