package gocotb

import (
	"context"
	"sync/atomic"
)

var taskIDSeq atomic.Uint64

// TaskFunc is a task body. It receives the Task itself so it can call
// Await to suspend at a trigger, and a context that is cancelled when the
// task is cancelled or killed.
type TaskFunc func(ctx context.Context, t *Task) (any, error)

// yieldMsg is what a task body's goroutine sends back to the scheduler:
// either a yielded awaitable (trigger == non-nil interface value) or a
// terminal result.
type yieldMsg struct {
	trigger any
	done    bool
	result  any
	err     error
}

// Task wraps a goroutine-backed coroutine with state, result/error outcome,
// completion trigger, cancellation, and a done-callback list (§3, §4.C). Go
// has no native coroutines, so each Task body runs on its own goroutine,
// blocked on a pair of unbuffered channels between suspension points; the
// Scheduler is the single executor driving all of them one at a time.
type Task struct {
	id       uint64
	sched    *Scheduler
	fn       TaskFunc
	state    *taskFastState
	resumeCh chan Outcome
	yieldCh  chan yieldMsg
	started  bool

	outcome  Outcome
	complete *taskComplete

	trigger  Trigger // back-reference to the trigger currently awaited, if Pending
	awaitRaw bool    // true if the pending wait came from yielding *Task directly (§3, invariant 10): resume with the target's own Outcome rather than nil

	doneCallbacks []func(*Task)

	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewTask wraps fn as a task body. It does not schedule the task; use
// Scheduler.StartSoon or Scheduler.Start for that. Panics with a TypeError
// if fn is nil — the Go analogue of the source's "pass a called coroutine,
// not a function" and "not a coroutine" rejections, which Go's type system
// already makes impossible for everything except nil.
func NewTask(fn TaskFunc) *Task {
	if fn == nil {
		panic(&TypeError{Message: "task function must not be nil"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		id:       taskIDSeq.Add(1),
		fn:       fn,
		state:    newTaskFastState(),
		resumeCh: make(chan Outcome),
		yieldCh:  make(chan yieldMsg),
		ctx:      ctx,
		cancelFn: cancel,
	}
}

// ID returns a stable per-task identity, useful for logging.
func (t *Task) ID() uint64 { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return t.state.Load() }

// Done reports whether the task has reached a terminal state.
func (t *Task) Done() bool { return t.state.IsTerminal() }

// Cancelled reports whether the task was cancelled (as opposed to finishing
// normally or with an error).
func (t *Task) Cancelled() bool { return t.state.Load() == TaskCancelled }

// Result returns the task's return value and error once Finished, or the
// cancellation error once Cancelled. Called before the task is done, it
// returns InvalidStateError.
func (t *Task) Result() (any, error) {
	switch t.state.Load() {
	case TaskFinished, TaskCancelled:
		return t.outcome.Value, t.outcome.Err
	default:
		return nil, &InvalidStateError{Message: "task is not done"}
	}
}

// Exception returns the stored error (nil if the task finished
// successfully), or the cancellation error once Cancelled. Called before
// the task is done, it returns InvalidStateError.
func (t *Task) Exception() error {
	switch t.state.Load() {
	case TaskFinished, TaskCancelled:
		return t.outcome.Err
	default:
		return &InvalidStateError{Message: "task is not done"}
	}
}

// AddDoneCallback appends cb to the task's completion callback list. If the
// task is already terminal, cb is invoked immediately.
func (t *Task) AddDoneCallback(cb func(*Task)) {
	if t.state.IsTerminal() {
		cb(t)
		return
	}
	t.doneCallbacks = append(t.doneCallbacks, cb)
}

// Complete returns the task's TaskComplete trigger, lazily constructing it
// on first access. The same instance is returned on every subsequent call
// (§4.C).
func (t *Task) Complete() Trigger {
	if t.complete == nil {
		t.complete = newTaskComplete(t)
	}
	return t.complete
}

func (t *Task) fireDoneCallbacks() {
	cbs := t.doneCallbacks
	t.doneCallbacks = nil
	for _, cb := range cbs {
		cb(t)
	}
}

// Await suspends the task at x, which must be a Trigger or another *Task
// (awaiting a task yields the task itself so the scheduler can intern its
// Complete() trigger). It returns once the scheduler resumes the task,
// yielding the resumed Outcome's value and error. Calling Await from
// anywhere but inside the task's own body is a programming error.
func (t *Task) Await(x any) (any, error) {
	select {
	case t.yieldCh <- yieldMsg{trigger: x}:
	case <-t.ctx.Done():
		return nil, &CancelledError{Cause: t.ctx.Err()}
	}
	select {
	case outcome := <-t.resumeCh:
		return outcome.Value, outcome.Err
	case <-t.ctx.Done():
		return nil, &CancelledError{Cause: t.ctx.Err()}
	}
}

// advance drives the task's goroutine one step: on the first call it
// launches the body goroutine (ignoring outcome, the Go analogue of
// `coro.send(None)` on a fresh coroutine); on later calls it resumes a
// pending Await with outcome. It blocks until the task yields its next
// awaitable or terminates, and returns that.
func (t *Task) advance(outcome Outcome) (yielded any, finished bool) {
	t.state.Store(TaskRunning)
	if !t.started {
		t.started = true
		go t.run()
	} else {
		select {
		case t.resumeCh <- outcome:
		case <-t.ctx.Done():
		}
	}
	msg, ok := <-t.yieldCh
	if !ok {
		// goroutine exited without a final send (cancellation race); treat
		// as finished with the cancellation cause already recorded.
		return nil, true
	}
	if msg.done {
		t.outcome = Outcome{Value: msg.result, Err: msg.err}
		t.state.Store(TaskFinished)
		return nil, true
	}
	t.state.Store(TaskPending)
	return msg.trigger, false
}

// run is the task body's goroutine entrypoint. A panic inside fn (other
// than normal control flow) is recovered and reported as a PanicError,
// grounded in the teacher's safeExecute.
func (t *Task) run() {
	result, err := t.safeExecute()
	select {
	case t.yieldCh <- yieldMsg{done: true, result: result, err: err}:
	case <-t.ctx.Done():
		select {
		case t.yieldCh <- yieldMsg{done: true, result: nil, err: &CancelledError{Cause: t.ctx.Err()}}:
		default:
		}
	}
}

func (t *Task) safeExecute() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = PanicError{Value: r}
		}
	}()
	return t.fn(t.ctx, t)
}
