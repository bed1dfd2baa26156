package deadline

import (
	"time"

	rtsup "deadlined/internal/runtime/supervisor"
)

type counters struct {
	scheduled uint64
	cancelled uint64
	fired     uint64
	failures  uint64
	panics    uint64
	retries   uint64
}

// HistoryItem is one finished task invocation.
type HistoryItem struct {
	Key      string        `json:"key"`
	Deadline time.Time     `json:"deadline"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempt  int           `json:"attempt"`
	Outcome  Outcome       `json:"outcome"`
	Stale    bool          `json:"stale,omitempty"`
}

// Snapshot is a point-in-time view of a scheduler.
type Snapshot struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Pending  int       `json:"pending"`
	InFlight bool      `json:"in_flight"`
	Next     time.Time `json:"next,omitzero"`
	Retrying int       `json:"retrying"`

	Scheduled uint64 `json:"scheduled"`
	Cancelled uint64 `json:"cancelled"`
	Fired     uint64 `json:"fired"`
	Failures  uint64 `json:"failures"`
	Panics    uint64 `json:"panics"`
	Retries   uint64 `json:"retries"`

	// History is newest last.
	History []HistoryItem  `json:"history,omitempty"`
	Worker  rtsup.Counters `json:"worker"`
}

// recordLocked appends ev to the bounded history. Caller holds s.mu.
func (s *Scheduler[K]) recordLocked(ev Event) {
	n := s.opt.HistorySize
	if n <= 0 {
		return
	}
	s.history = append(s.history, HistoryItem{
		Key:      ev.Key,
		Deadline: ev.Deadline,
		Started:  ev.Started,
		Duration: ev.Duration,
		Attempt:  ev.Attempt,
		Outcome:  ev.Outcome,
		Stale:    ev.Stale,
	})
	if over := len(s.history) - n; over > 0 {
		// Shift in place so the backing array does not grow without bound.
		copy(s.history, s.history[over:])
		s.history = s.history[:n]
	}
}

// Snapshot returns the current state, counters and recent history.
func (s *Scheduler[K]) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Name:      s.opt.Name,
		State:     s.state.String(),
		Pending:   s.store.Len(),
		InFlight:  s.inflight != nil,
		Retrying:  len(s.retries),
		Scheduled: s.stats.scheduled,
		Cancelled: s.stats.cancelled,
		Fired:     s.stats.fired,
		Failures:  s.stats.failures,
		Panics:    s.stats.panics,
		Retries:   s.stats.retries,
		History:   append([]HistoryItem(nil), s.history...),
		Worker:    s.sup.Counters(),
	}
	if head, ok := s.store.Peek(); ok {
		snap.Next = head.Value
	}
	return snap
}
