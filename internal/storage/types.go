package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, compacted to the newest Keep records
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep bounds how many records survive compaction; 0 means defaultKeep.
	Keep int
}

const defaultKeep = 10000

func (c Config) keep() int {
	if c.Keep > 0 {
		return c.Keep
	}
	return defaultKeep
}

// RunRecord is one finished task invocation.
// Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time `json:"at"`
	Scheduler  string    `json:"scheduler"`
	Key        string    `json:"key"`
	Deadline   time.Time `json:"deadline"`
	Outcome    string    `json:"outcome"`
	Attempt    int       `json:"attempt"`
	TookMS     int64     `json:"took_ms"`
	LatenessMS int64     `json:"lateness_ms"`
	Stale      bool      `json:"stale,omitempty"`
}
