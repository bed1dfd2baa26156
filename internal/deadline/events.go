package deadline

import "time"

// Topics published on the event bus.
const (
	TopicScheduled = "deadline.scheduled"
	TopicCancelled = "deadline.cancelled"
	TopicFired     = "deadline.fired"
	TopicFailed    = "deadline.failed"
	TopicPanicked  = "deadline.panicked"
)

// Outcome of one task invocation.
type Outcome string

const (
	OutcomeDone  Outcome = "done"
	OutcomeRetry Outcome = "retry"
	OutcomePanic Outcome = "panic"
)

// Event is the payload of every bus event published by a Scheduler.
type Event struct {
	Scheduler string        `json:"scheduler"`
	Key       string        `json:"key"`
	Deadline  time.Time     `json:"deadline"`
	Started   time.Time     `json:"started,omitzero"`
	Lateness  time.Duration `json:"lateness,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	// Stale is set when the entry was cancelled or rescheduled while its task ran.
	Stale bool `json:"stale,omitempty"`
}
