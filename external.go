package gocotb

import (
	"context"
	"sync"
)

// externalTrigger is the fire-once trigger returned by Scheduler.RunExternal.
// Unlike Event, it carries a payload: the external call's own Outcome,
// delivered to whichever task awaits it.
type externalTrigger struct {
	triggerID uint64
	mu        sync.Mutex
	done      bool
	outcome   Outcome
	cb        func(Trigger)
}

func newExternalTrigger() *externalTrigger {
	return &externalTrigger{triggerID: nextTriggerID()}
}

func (t *externalTrigger) Prime(cb func(Trigger)) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		cb(t)
		return nil
	}
	t.cb = cb
	t.mu.Unlock()
	return nil
}

func (t *externalTrigger) Unprime() {
	t.mu.Lock()
	t.cb = nil
	t.mu.Unlock()
}

func (t *externalTrigger) Cleanup() {}

func (t *externalTrigger) id() uint64 { return t.triggerID }

// resumeOutcome implements outcomeTrigger: react() uses this instead of the
// default Value(nil) when dispatching an externalTrigger's waiters.
func (t *externalTrigger) resumeOutcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// complete records outcome and fires the primed callback, if any. Called
// from whatever thread runs the GPI's RegisterExternalCallback dispatch —
// by contract that is the scheduler's owning thread, so this is the one
// place an externalTrigger's state is written from outside RunExternal's
// own goroutine without the mutex being load-bearing for anything beyond
// the race detector.
func (t *externalTrigger) complete(outcome Outcome) {
	t.mu.Lock()
	t.done = true
	t.outcome = outcome
	cb := t.cb
	t.cb = nil
	t.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

// schedulerWaker is the scheduler's own internal cross-goroutine wakeup
// primitive for the external-thread handshake, grounded in the teacher's
// wakeup_linux.go waking Loop.poll: any goroutine may call Notify; the
// scheduler goroutine calls Drain once it has consumed everything that
// notification was signaling. On Linux it is backed by an eventfd (see
// external_linux.go) that a real GPI binding's own reactor can epoll
// alongside its other fds instead of relying solely on the dispatch below.
type schedulerWaker interface {
	Notify()
	Drain()
}

// RunExternal runs fn on a dedicated goroutine, outside the scheduler's
// single-goroutine discipline, and returns a Trigger that fires with fn's
// result once fn returns. Grounded in the teacher's Promisify: the spawned
// goroutine never touches scheduler state directly. It queues fn's Outcome
// and notifies the scheduler's own wakeup primitive, then asks the GPI's
// RegisterExternalCallback — the one thread-safe GPI entry point — to
// re-enter the scheduler so drainExternalQueue runs on the owning
// goroutine; the run queue and trigger-waiters map are still mutated only
// there.
func (s *Scheduler) RunExternal(ctx context.Context, fn func(ctx context.Context) (any, error)) Trigger {
	trig := newExternalTrigger()
	go func() {
		// A runtime.Goexit inside fn unwinds this goroutine without
		// runExternalBody returning, so the hand-off is deferred and starts
		// from the Goexit outcome.
		outcome := Err(&InvalidStateError{Message: "external function exited via runtime.Goexit"})
		defer func() {
			s.extMu.Lock()
			s.extQueue = append(s.extQueue, func() { trig.complete(outcome) })
			s.extMu.Unlock()
			s.extWake.Notify()
			if _, err := s.gpi.RegisterExternalCallback(s.drainExternalQueue); err != nil {
				// No way back into the scheduler. Mirrors Promisify's fallback
				// direct-resolution path, except here there is no SubmitInternal
				// to retry: the caller's Await is left blocked until it is
				// itself cancelled or killed.
				s.logger.Log(NewLogEntry(LevelError, "external", "wakeup registration failed").Err(err).Build())
			}
		}()
		outcome = runExternalBody(ctx, fn)
	}()
	return trig
}

// drainExternalQueue runs every external completion queued since the last
// drain and resets the scheduler's wakeup primitive. Registered with the
// GPI as the thread-safe re-entry point for RunExternal's handshake.
func (s *Scheduler) drainExternalQueue() {
	s.extWake.Drain()
	s.extMu.Lock()
	due := s.extQueue
	s.extQueue = nil
	s.extMu.Unlock()
	for _, cb := range due {
		cb()
	}
}

// runExternalBody executes fn, converting a panic or an early ctx
// cancellation into the same Outcome shape a task body would produce,
// grounded in the teacher's Promisify goroutine. A runtime.Goexit inside fn
// (neither a normal return nor a recovered panic) does not return from
// here; RunExternal's deferred hand-off delivers the matching Outcome.
func runExternalBody(ctx context.Context, fn func(ctx context.Context) (any, error)) (outcome Outcome) {
	completed := false
	defer func() {
		if r := recover(); r != nil {
			outcome = Err(PanicError{Value: r})
			return
		}
		if !completed {
			outcome = Err(&InvalidStateError{Message: "external function exited via runtime.Goexit"})
		}
	}()
	select {
	case <-ctx.Done():
		completed = true
		return Err(&CancelledError{Cause: ctx.Err()})
	default:
	}
	result, err := fn(ctx)
	completed = true
	if err != nil {
		return Err(err)
	}
	return Value(result)
}
