package flush

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raulk/clock"
)

// DefaultDelay is the quiet period after the last signal before a flush runs.
const DefaultDelay = 1 * time.Second

// Func performs one flush.
type Func func(ctx context.Context) error

// State is the scheduler's position in its Idle/Armed/Flushing cycle.
type State int

const (
	// StateIdle means no timer is pending and no flush is running
	StateIdle State = iota
	// StateArmed means a deferred flush timer is pending
	StateArmed
	// StateFlushing means the flush function is executing
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Scheduler coalesces bursts of signals into one flush using a trailing-edge
// debounce: the flush runs once the delay has passed without a new signal.
//
// At most one timer is pending and at most one flush runs at any time. A
// signal that arrives while a flush is running is remembered and re-arms the
// timer once that flush returns.
type Scheduler struct {
	mu      sync.Mutex
	state   State
	timer   *clock.Timer
	gen     uint64
	rearm   bool
	stopped bool
	running chan struct{}

	delay  time.Duration
	flush  Func
	clock  clock.Clock
	ctx    context.Context
	logger *slog.Logger

	flushes  atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithContext sets the context passed to timer-driven flushes.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.ctx = ctx }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates an idle scheduler that runs fn delay after the last signal.
func NewScheduler(delay time.Duration, fn Func, opts ...Option) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	s := &Scheduler{
		delay:  delay,
		flush:  fn,
		clock:  clock.New(),
		ctx:    context.Background(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "flush-scheduler")
	return s
}

// Signal reports new work. Idle arms the timer, Armed restarts it, Flushing
// queues a re-arm for when the running flush completes.
func (s *Scheduler) Signal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	switch s.state {
	case StateIdle:
		s.state = StateArmed
		s.armLocked()
	case StateArmed:
		s.timer.Stop()
		s.armLocked()
	case StateFlushing:
		s.rearm = true
	}
}

// armLocked starts a fresh timer. Each timer carries a generation so that a
// timer which fires after being replaced does nothing.
func (s *Scheduler) armLocked() {
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen || s.state != StateArmed {
		s.mu.Unlock()
		return
	}
	s.state = StateFlushing
	s.timer = nil
	done := make(chan struct{})
	s.running = done
	s.mu.Unlock()

	s.run(s.ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.running = nil
	close(done)
	if s.rearm && !s.stopped {
		s.rearm = false
		s.state = StateArmed
		s.armLocked()
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) error {
	start := s.clock.Now()
	err := s.flush(ctx)
	if err != nil {
		s.failures.Add(1)
	}
	s.flushes.Add(1)
	s.logger.Debug("flush finished", "duration", s.clock.Since(start), "failed", err != nil)
	return err
}

// Stop cancels any pending timer, waits for a running flush and then runs one
// last flush so that pending work is not lost on shutdown. Signals after Stop
// are ignored.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.rearm = false
	running := s.running
	if s.state == StateArmed {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if running != nil {
		select {
		case <-running:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.logger.Info("running final flush")
	return s.run(ctx)
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats reports flush counters.
type Stats struct {
	State    string `json:"state"`
	Flushes  uint64 `json:"flushes"`
	Failures uint64 `json:"failures"`
}

// Stats returns the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:    s.State().String(),
		Flushes:  s.flushes.Load(),
		Failures: s.failures.Load(),
	}
}
