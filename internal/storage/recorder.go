package storage

import (
	"context"
	"time"

	"deadlined/internal/deadline"
	"deadlined/internal/eventbus"
	logx "deadlined/pkg/logx"
)

const writeTimeout = 2 * time.Second

// Recorder persists deadline outcome events from a bus into a Store.
type Recorder struct {
	store Store
	log   logx.Logger
	ch    <-chan eventbus.Event
	unsub func()
}

// NewRecorder subscribes to outcome topics immediately, so events published
// before Run starts are buffered (up to buffer).
func NewRecorder(store Store, bus eventbus.Bus, buffer int, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(buffer, deadline.TopicFired, deadline.TopicFailed, deadline.TopicPanicked)
	return &Recorder{store: store, log: log.With(logx.String("comp", "recorder")), ch: ch, unsub: unsub}
}

// Run writes events until ctx is done, then drains what is already buffered.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case ev, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-r.ch:
					if !ok {
						return nil
					}
					r.write(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(ev eventbus.Event) {
	data, ok := ev.Data.(deadline.Event)
	if !ok {
		return
	}
	at := data.Started
	if at.IsZero() {
		at = ev.Time
	}
	rec := RunRecord{
		At:         at,
		Scheduler:  data.Scheduler,
		Key:        data.Key,
		Deadline:   data.Deadline,
		Outcome:    string(data.Outcome),
		Attempt:    data.Attempt,
		TookMS:     data.Duration.Milliseconds(),
		LatenessMS: data.Lateness.Milliseconds(),
		Stale:      data.Stale,
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.log.Warn("history write failed", logx.String("key", rec.Key), logx.Err(err))
	}
}
