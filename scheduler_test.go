package gocotb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *FakeGPI) {
	t.Helper()
	gpi := NewFakeGPI()
	sched, err := New(gpi, opts...)
	require.NoError(t, err)
	return sched, gpi
}

// S1: clock generator driving clk 0/1 every 5ns; a second task observes
// RisingEdge(clk) and records the time of its first firing, which must be
// exactly 5ns (one half-period) after start.
func TestClockAndRisingEdge(t *testing.T) {
	sched, gpi := newTestScheduler(t)
	clk := NewSignalHandle(sched, gpi.AddLogicSignal("clk"))

	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		for i := 0; i < 4; i++ {
			if err := clk.Set(Deposit{0}); err != nil {
				return nil, err
			}
			timer, err := NewTimer(sched, 5, "ns", RoundModeError)
			if err != nil {
				return nil, err
			}
			if _, err := task.Await(timer); err != nil {
				return nil, err
			}
			if err := clk.Set(Deposit{1}); err != nil {
				return nil, err
			}
			timer, err = NewTimer(sched, 5, "ns", RoundModeError)
			if err != nil {
				return nil, err
			}
			if _, err := task.Await(timer); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	var recorded uint64
	edgeSeen := false
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		trig, err := RisingEdge(sched, clk.Token())
		if err != nil {
			return nil, err
		}
		if _, err := task.Await(trig); err != nil {
			return nil, err
		}
		recorded = gpi.Now()
		edgeSeen = true
		return nil, nil
	})

	sched.Run()
	gpi.RunUntilQuiescent(50)

	require.True(t, edgeSeen)
	assert.Equal(t, uint64(5), recorded)
}

// S2: three writes queued to two handles within one Normal phase coalesce
// to last-writer-wins per handle. The scheduling order is a=1 (first touch
// of a), b=2 (first touch of b), a=3 (re-touches a, moving it to the back),
// so the apply order is (b:=2, a:=3).
func TestWriteCoalescing(t *testing.T) {
	sched, gpi := newTestScheduler(t)
	a := NewSignalHandle(sched, gpi.AddLogicArray("a", 8))
	b := NewSignalHandle(sched, gpi.AddLogicArray("b", 8))

	var applyOrder []string
	done := false
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		if err := a.Set(Deposit{1}); err != nil {
			return nil, err
		}
		if err := b.Set(Deposit{2}); err != nil {
			return nil, err
		}
		if err := a.Set(Deposit{3}); err != nil {
			return nil, err
		}
		done = true
		return nil, nil
	})
	sched.Run()

	require.True(t, done)
	require.Equal(t, 2, sched.pendingWrites.Len())
	for _, sig := range sched.pendingWrites.Keys() {
		applyOrder = append(applyOrder, gpi.GetNameString(sig))
	}
	assert.Equal(t, []string{"b", "a"}, applyOrder)

	gpi.RunUntilQuiescent(5)

	assert.Equal(t, 0, sched.pendingWrites.Len())
	av, err := a.ResolvedInt()
	require.NoError(t, err)
	bv, err := b.ResolvedInt()
	require.NoError(t, err)
	assert.Equal(t, int64(3), av)
	assert.Equal(t, int64(2), bv)
}

// S3: writing during ReadOnly is rejected synchronously, with nothing added
// to the pending-writes map.
func TestReadOnlyWriteRejected(t *testing.T) {
	sched, gpi := newTestScheduler(t)
	sig := NewSignalHandle(sched, gpi.AddLogicArray("a", 4))

	var setErr error
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		if _, err := task.Await(sched.ReadOnly()); err != nil {
			return nil, err
		}
		setErr = sig.Set(Deposit{1})
		return nil, nil
	})
	sched.Run()
	gpi.RunUntilQuiescent(5)

	require.Error(t, setErr)
	var wdro *WriteDuringReadOnlyError
	assert.ErrorAs(t, setErr, &wdro)
	assert.Equal(t, 0, sched.pendingWrites.Len())
}

// S4: cancelling task B while task A awaits B.Complete() wakes A; A's
// Await(B.Complete()) itself returns nil (invariant 10), but B.Cancelled()
// is true and B.Exception() returns the CancelledError.
func TestCancellationWakesAwaiter(t *testing.T) {
	sched, _ := newTestScheduler(t)

	started := NewEvent()
	var b *Task
	b = sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		started.Set()
		if _, err := task.Await(NewEvent().Wait()); err != nil {
			return nil, err
		}
		return nil, nil
	})

	var aResult any
	var aErr error
	aDone := false
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		if _, err := task.Await(started.Wait()); err != nil {
			return nil, err
		}
		aResult, aErr = task.Await(b.Complete())
		aDone = true
		return nil, nil
	})

	sched.Run()
	require.NoError(t, b.Cancel())
	sched.Run()

	require.True(t, aDone)
	assert.NoError(t, aErr)
	assert.Nil(t, aResult)
	assert.True(t, b.Cancelled())
	assert.Error(t, b.Exception())
}

// Invariant 10's converse: awaiting the *Task directly (rather than its
// Complete() trigger) propagates the target's own error.
func TestAwaitRawTaskPropagatesError(t *testing.T) {
	sched, _ := newTestScheduler(t)

	boom := &ValueError{Message: "boom"}
	failing := sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		return nil, boom
	})

	var gotErr error
	done := false
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		_, err := task.Await(failing)
		gotErr = err
		done = true
		return nil, nil
	})

	sched.Run()

	require.True(t, done)
	assert.ErrorIs(t, gotErr, boom)
}

// S5: yielding a value that is neither a Trigger nor a *Task resolves to a
// TypeError delivered at the task's next resumption.
func TestBadYieldIsTypeError(t *testing.T) {
	sched, _ := newTestScheduler(t)

	var gotErr error
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		_, err := task.Await(42)
		gotErr = err
		return nil, err
	})
	sched.Run()

	var typeErr *TypeError
	assert.ErrorAs(t, gotErr, &typeErr)
}

// S6: RisingEdge/FallingEdge on a non-1-bit handle is rejected at
// construction time.
func TestEdgeOnNonOneBitSignal(t *testing.T) {
	sched, gpi := newTestScheduler(t)
	wide := gpi.AddLogicArray("bus", 4)

	_, err := RisingEdge(sched, wide)
	var typeErr *TypeError
	assert.ErrorAs(t, err, &typeErr)

	_, err = FallingEdge(sched, wide)
	assert.ErrorAs(t, err, &typeErr)
}

// S7: RunExternal hands a slow goroutine's result back across the GPI's
// external-callback hook. Normal scheduling continues undisturbed while the
// external function is still in flight (a second, unrelated task runs to
// completion in the same drain pass), and the awaiting task eventually
// resumes with the external function's own value.
func TestRunExternalRoundTrip(t *testing.T) {
	sched, gpi := newTestScheduler(t)

	var otherRan bool
	var result any
	var gotErr error
	done := false

	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		trig := sched.RunExternal(ctx, func(ctx context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return 7, nil
		})
		result, gotErr = task.Await(trig)
		done = true
		return nil, nil
	})
	sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
		otherRan = true
		return nil, nil
	})

	sched.Run()
	require.True(t, otherRan)
	require.False(t, done)

	deadline := time.Now().Add(time.Second)
	for !done && time.Now().Before(deadline) {
		gpi.Advance()
		time.Sleep(time.Millisecond)
	}

	require.True(t, done)
	assert.NoError(t, gotErr)
	assert.Equal(t, 7, result)
}

// Invariant 1: re-scheduling an already-queued task is rejected.
func TestRunQueueUniqueness(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := NewTask(func(ctx context.Context, t *Task) (any, error) { return nil, nil })
	task.sched = sched
	require.NoError(t, sched.enqueue(task, Value(nil)))
	err := sched.enqueue(task, Value(nil))
	var isErr *InvalidStateError
	assert.ErrorAs(t, err, &isErr)
}

// Invariant 3: the three phase-trigger accessors and RisingEdge are
// per-Scheduler singletons.
func TestSingletonTriggerIdentity(t *testing.T) {
	sched, gpi := newTestScheduler(t)
	assert.Same(t, sched.ReadWrite(), sched.ReadWrite())
	assert.Same(t, sched.ReadOnly(), sched.ReadOnly())
	assert.Same(t, sched.NextTimeStep(), sched.NextTimeStep())

	sig := gpi.AddLogicSignal("clk")
	e1, err := RisingEdge(sched, sig)
	require.NoError(t, err)
	e2, err := RisingEdge(sched, sig)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
}

// Invariant 4: FIFO wake order among multiple waiters on the same singleton
// trigger (here, the shared ReadWrite phase trigger — also awaited
// internally by the write-scheduler's own background task).
func TestFIFOWake(t *testing.T) {
	sched, gpi := newTestScheduler(t)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
			if _, err := task.Await(sched.ReadWrite()); err != nil {
				return nil, err
			}
			order = append(order, i)
			return nil, nil
		})
	}
	sched.Run()
	gpi.RunUntilQuiescent(5)

	assert.Equal(t, []int{0, 1, 2}, order)
}

// Invariant 7: a positive Timer delay that rounds to zero steps is promoted
// to one step rather than firing immediately.
func TestTimerZeroPromotion(t *testing.T) {
	sched, _ := newTestScheduler(t)
	timer, err := NewTimer(sched, 0.0001, "ns", RoundModeRound)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), timer.steps)
}

// Invariant 8: Cancel/Kill on an already-terminal task is a no-op.
func TestIdempotentCancel(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := sched.StartSoon(func(ctx context.Context, t *Task) (any, error) { return nil, nil })
	sched.Run()
	require.True(t, task.Done())

	require.NoError(t, task.Cancel())
	require.NoError(t, task.Kill())
	assert.False(t, task.Cancelled())
}

// Invariant 11: entering the scheduler reentrantly from a second goroutine
// panics rather than silently corrupting state.
func TestReentrancyGuard(t *testing.T) {
	sched, _ := newTestScheduler(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		unlock := sched.enter()
		close(entered)
		<-release
		unlock()
	}()
	<-entered

	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		sched.enter()
	}()
	r := <-done
	close(release)
	require.NotNil(t, r)
}

// Metrics collector records resume counts once enabled.
func TestMetricsTracksResumes(t *testing.T) {
	sched, _ := newTestScheduler(t, WithMetrics(true))
	require.NotNil(t, sched.Metrics())

	sched.StartSoon(func(ctx context.Context, t *Task) (any, error) { return nil, nil })
	sched.Run()

	assert.Greater(t, sched.Metrics().Resumes.TPS(), 0.0)
	assert.GreaterOrEqual(t, sched.Metrics().ResumeLatency.Sample(), 1)
}

// ShutdownSoon cancels every queued/waiting task (including the background
// write scheduler) and empties the run queue and waiters map, invoking the
// test-complete callback with a nil error on a clean shutdown.
func TestShutdownCancelsEverything(t *testing.T) {
	var callbackCalled bool
	var aggregated error
	sched, _ := newTestScheduler(t, WithTestCompleteCallback(func(err error) {
		callbackCalled = true
		aggregated = err
	}))

	blocked := NewEvent()
	var tasks []*Task
	for i := 0; i < 2; i++ {
		tasks = append(tasks, sched.StartSoon(func(ctx context.Context, task *Task) (any, error) {
			if _, err := task.Await(blocked.Wait()); err != nil {
				return nil, err
			}
			return nil, nil
		}))
	}
	sched.Run()
	sched.ShutdownSoon()
	sched.Run()

	require.True(t, callbackCalled)
	assert.NoError(t, aggregated)
	for _, task := range tasks {
		assert.True(t, task.Done())
		assert.True(t, task.Cancelled())
	}
	assert.Equal(t, 0, sched.runQueue.Len())
	assert.Equal(t, 0, len(sched.waiters))
}
