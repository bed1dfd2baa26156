package deadline

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"deadlined/internal/entries"
	logx "deadlined/pkg/logx"
)

// run is the worker loop. It returns true when the scheduler is closing.
func (s *Scheduler[K]) run(ctx context.Context) bool {
	for {
		e, wait, open := s.next()
		if !open {
			return true
		}
		if e == nil {
			if !s.sleep(ctx, wait) {
				return true
			}
			continue
		}

		started := time.Now()
		done, panicked := s.invoke(ctx, e)
		s.complete(e, started, done, panicked)
	}
}

// next selects the due head entry and marks it in-flight. When nothing is
// due it returns the time to wait instead; a negative wait means "until woken".
func (s *Scheduler[K]) next() (e *entries.Entry[K, time.Time], wait time.Duration, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil, 0, false
	}
	head, ok := s.store.Peek()
	if !ok {
		return nil, -1, true
	}
	due := head.Value
	if rs := s.retries[head.Key]; rs != nil && rs.entry == head && rs.notBefore.After(due) {
		due = rs.notBefore
	}
	if d := time.Until(due); d > 0 {
		return nil, min(d, s.opt.MaxSleep), true
	}
	s.inflight = head
	return head, 0, true
}

// sleep blocks for wait (or until woken when wait < 0). It reports false
// once the scheduler is shutting down.
func (s *Scheduler[K]) sleep(ctx context.Context, wait time.Duration) bool {
	if wait < 0 {
		select {
		case <-s.wake:
			return true
		case <-ctx.Done():
			return false
		}
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-s.wake:
	case <-t.C:
	case <-ctx.Done():
		return false
	}
	return true
}

// invoke runs the task without holding the lock. A panic counts as "not done".
func (s *Scheduler[K]) invoke(ctx context.Context, e *entries.Entry[K, time.Time]) (done, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			done, panicked = false, true
			s.log.Error("task panicked", logx.String("key", fmt.Sprint(e.Key)), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return s.task(ctx, e.Key), false
}

// complete applies the task result. The entry is removed only if the store
// still holds this exact entry; a cancel or reschedule during the task wins.
func (s *Scheduler[K]) complete(e *entries.Entry[K, time.Time], started time.Time, done, panicked bool) {
	took := time.Since(started)
	ev := Event{
		Key:      fmt.Sprint(e.Key),
		Deadline: e.Value,
		Started:  started,
		Lateness: max(started.Sub(e.Value), 0),
		Duration: took,
	}

	retryIn := s.settle(e, &ev, done, panicked)

	switch ev.Outcome {
	case OutcomeDone:
		s.log.Debug("task done", logx.String("key", ev.Key), logx.Duration("lateness", ev.Lateness), logx.Duration("dur", took), logx.Int("attempt", ev.Attempt))
		s.publish(TopicFired, ev)
	default:
		if ev.Outcome == OutcomePanic {
			s.publish(TopicPanicked, ev)
		} else {
			s.publish(TopicFailed, ev)
		}
		if ev.Stale {
			s.log.Debug("task failed for a cancelled or rescheduled entry", logx.String("key", ev.Key))
			return
		}
		if s.warn.Allow() {
			s.log.Warn("task failed; entry kept for retry", logx.String("key", ev.Key), logx.Int("attempt", ev.Attempt), logx.Duration("retry_in", retryIn), logx.Bool("panic", panicked))
		} else {
			s.log.Debug("task retry scheduled", logx.String("key", ev.Key), logx.Int("attempt", ev.Attempt), logx.Duration("retry_in", retryIn))
		}
	}
}

// settle updates the store and retry state for a finished invocation.
func (s *Scheduler[K]) settle(e *entries.Entry[K, time.Time], ev *Event, done, panicked bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight = nil
	cur, present := s.store.Get(e.Key)
	current := present && cur == e
	ev.Stale = !current

	rs := s.retries[e.Key]
	if rs != nil && rs.entry != e {
		rs = nil
	}
	ev.Attempt = 1
	if rs != nil {
		ev.Attempt = rs.attempts + 1
	}

	var retryIn time.Duration
	switch {
	case done:
		ev.Outcome = OutcomeDone
		s.stats.fired++
		if current {
			s.store.Remove(e.Key)
		}
		if rs != nil {
			delete(s.retries, e.Key)
		}
	default:
		ev.Outcome = OutcomeRetry
		s.stats.failures++
		if panicked {
			ev.Outcome = OutcomePanic
			s.stats.panics++
		}
		if current {
			if rs == nil {
				rs = &retryState[K]{entry: e}
				s.retries[e.Key] = rs
			}
			rs.attempts++
			retryIn = backoffDelay(s.opt, rs.attempts, s.rng)
			rs.notBefore = time.Now().Add(retryIn)
			s.stats.retries++
		}
	}
	s.recordLocked(*ev)
	return retryIn
}

// backoffDelay returns the wait before retry number attempt (1 = first retry):
// RetryBase doubled per attempt, capped at RetryMaxDelay, with jitter.
func backoffDelay(opt Options, attempt int, rng *rand.Rand) time.Duration {
	base := opt.RetryBase
	if base <= 0 {
		return 0
	}
	maxD := max(opt.RetryMaxDelay, base)

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	if j := opt.RetryJitter; j > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), maxD)
}
