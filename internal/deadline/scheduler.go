package deadline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"deadlined/internal/entries"
	"deadlined/internal/eventbus"
	rtsup "deadlined/internal/runtime/supervisor"
	logx "deadlined/pkg/logx"
)

// warnEvery throttles repeated task-failure warnings.
const warnEvery = 5 * time.Second

// Task is invoked by the worker with a due key. Returning true removes the
// entry; false keeps it scheduled for a retry. ctx is canceled when the
// scheduler closes.
type Task[K comparable] func(ctx context.Context, key K) bool

// State is the scheduler lifecycle state.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type retryState[K comparable] struct {
	entry     *entries.Entry[K, time.Time]
	attempts  int
	notBefore time.Time
}

// Scheduler runs a Task for each key once its deadline passes.
type Scheduler[K comparable] struct {
	opt  Options
	log  logx.Logger
	task Task[K]

	// mu guards everything below it, including every store access.
	mu       sync.Mutex
	store    entries.Store[K, time.Time]
	state    State
	inflight *entries.Entry[K, time.Time]
	retries  map[K]*retryState[K]
	stats    counters
	history  []HistoryItem

	wake chan struct{}
	sup  *rtsup.Supervisor

	rng  *rand.Rand // worker goroutine only
	warn *rate.Limiter
}

// New starts a scheduler over store. The store must be empty and must not be
// used by anything else afterwards.
func New[K comparable](store entries.Store[K, time.Time], task Task[K], opts ...Option) *Scheduler[K] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", o.Name))

	s := &Scheduler[K]{
		opt:     o,
		log:     log,
		task:    task,
		store:   store,
		retries: make(map[K]*retryState[K]),
		wake:    make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		warn:    rate.NewLimiter(rate.Every(warnEvery), 3),
	}
	s.sup = rtsup.New(context.Background(), rtsup.WithLogger(log))
	// The task runs under recover already; a restart here means the worker
	// itself failed (e.g. a panicking comparator).
	s.sup.GoRestart(o.Name+".worker", func(ctx context.Context) error {
		if s.run(ctx) {
			return nil
		}
		return errWorkerExited
	})
	log.Info("scheduler started", logx.Duration("retry_base", o.RetryBase), logx.Duration("max_sleep", o.MaxSleep))
	return s
}

// Schedule arms key to fire at when, replacing any previous deadline for key.
func (s *Scheduler[K]) Schedule(key K, when time.Time) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return fmt.Errorf("schedule %v: %w", key, ErrClosed)
	}
	old, replaced := s.store.Get(key)
	prevHead, _ := s.store.Peek()
	e := s.store.Add(key, when)
	delete(s.retries, key)
	head, _ := s.store.Peek()
	s.stats.scheduled++
	s.mu.Unlock()

	// Wake the worker when its wait target may have moved.
	if head == e || (replaced && old == prevHead) {
		s.notify()
	}
	s.publish(TopicScheduled, Event{Key: fmt.Sprint(key), Deadline: when})
	return nil
}

// Cancel disarms key. Cancelling an absent key is a no-op. A task already
// running for key is not interrupted, but its entry will not be retried.
func (s *Scheduler[K]) Cancel(key K) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return fmt.Errorf("cancel %v: %w", key, ErrClosed)
	}
	head, _ := s.store.Peek()
	removed, ok := s.store.Remove(key)
	delete(s.retries, key)
	wake := ok && (removed == head || removed == s.inflight)
	if ok {
		s.stats.cancelled++
	}
	s.mu.Unlock()

	if wake {
		s.notify()
	}
	if ok {
		s.publish(TopicCancelled, Event{Key: fmt.Sprint(key), Deadline: removed.Value})
	}
	return nil
}

// Lookup returns the deadline currently armed for key.
func (s *Scheduler[K]) Lookup(key K) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.store.Get(key)
	if !ok {
		return time.Time{}, false
	}
	return e.Value, true
}

// Close stops the worker and waits for it to exit, including a task that is
// currently running. It is idempotent.
func (s *Scheduler[K]) Close() error {
	return s.Stop(context.Background())
}

// Stop is Close with a bounded wait. The scheduler rejects new calls as soon
// as Stop is entered, even when ctx expires before the worker exits.
func (s *Scheduler[K]) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateClosing
		s.log.Debug("stop requested", logx.Int("pending", s.store.Len()))
	}
	s.mu.Unlock()

	s.sup.Cancel()
	s.notify()
	if err := s.sup.Wait(ctx); err != nil {
		s.log.Warn("scheduler stop timed out", logx.Err(err))
		return err
	}

	s.mu.Lock()
	first := s.state != StateClosed
	s.state = StateClosed
	pending := s.store.Len()
	s.mu.Unlock()
	if first {
		s.log.Info("scheduler stopped", logx.Int("pending", pending))
	}
	return nil
}

// State reports the lifecycle state.
func (s *Scheduler[K]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler[K]) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler[K]) publish(topic string, ev Event) {
	if s.opt.Bus == nil {
		return
	}
	ev.Scheduler = s.opt.Name
	s.opt.Bus.Publish(eventbus.Event{Type: topic, Data: ev})
}
