package gocotb

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Scheduler is the single-goroutine cooperative task scheduler and
// simulator-phase coordinator (§3, §4.E). All of its state — the run queue,
// the trigger-waiters map, the current phase — is owned by whichever
// goroutine is currently driving it (the scheduler's own goroutine, or a
// GPI callback dispatch thread calling SimReact synchronously); ownerGoroutine
// guards against a second goroutine re-entering it concurrently, grounded in
// the teacher's isLoopThread/getGoroutineID reentrancy guard.
type Scheduler struct {
	gpi    GPI
	logger Logger
	cfg    *config

	ownerGoroutine uint64

	runQueue *orderedMap[*Task, Outcome]
	waiters  map[Trigger]*orderedMap[*Task, struct{}]

	phase   phaseState
	current *Task

	readWrite    *phaseTrigger
	readOnly     *phaseTrigger
	nextTimeStep *phaseTrigger
	edges        map[edgeKey]*edgeTrigger

	pendingWrites *orderedMap[SignalToken, pendingWrite]
	writesPending *Event
	writeTask     *Task

	terminating bool
	terminated  bool

	nextTaskID uint64

	metrics *Metrics

	extWake  schedulerWaker
	extMu    sync.Mutex
	extQueue []func()
}

// Metrics returns the Scheduler's metrics collector, or nil if it was
// constructed without WithMetrics.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// New constructs a Scheduler bound to gpi and queues the background
// write-scheduler task via StartSoon. It does not start the event loop, so
// no task runs until Run (or a SimReact dispatch) drains the run queue.
func New(gpi GPI, opts ...Option) (*Scheduler, error) {
	if gpi == nil {
		return nil, &TypeError{Message: "gpi must not be nil"}
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		gpi:           gpi,
		logger:        cfg.logger,
		cfg:           cfg,
		runQueue:      newOrderedMap[*Task, Outcome](),
		waiters:       make(map[Trigger]*orderedMap[*Task, struct{}]),
		edges:         make(map[edgeKey]*edgeTrigger),
		pendingWrites: newOrderedMap[SignalToken, pendingWrite](),
		writesPending: NewEvent(),
		extWake:       newSchedulerWaker(cfg.logger),
	}
	if cfg.metrics {
		s.metrics = newMetrics()
	}
	s.readWrite = newPhaseTrigger(s, phaseTriggerReadWrite)
	s.readOnly = newPhaseTrigger(s, phaseTriggerReadOnly)
	s.nextTimeStep = newPhaseTrigger(s, phaseTriggerNextTimeStep)
	gpi.SetSimEventCallback(s.onSimEvent)
	s.writeTask = s.StartSoon(s.doWrites)
	return s, nil
}

// ReadWrite returns the per-Scheduler singleton ReadWrite-phase trigger.
func (s *Scheduler) ReadWrite() Trigger { return s.readWrite }

// ReadOnly returns the per-Scheduler singleton ReadOnly-phase trigger.
func (s *Scheduler) ReadOnly() Trigger { return s.readOnly }

// NextTimeStep returns the per-Scheduler singleton next-time-step trigger.
func (s *Scheduler) NextTimeStep() Trigger { return s.nextTimeStep }

// Phase returns the scheduler's current simulator phase.
func (s *Scheduler) Phase() Phase { return s.phase.Load() }

func (s *Scheduler) internEdge(sig SignalToken, kind EdgeKind) *edgeTrigger {
	key := edgeKey{kind: kind, sig: sig}
	if t, ok := s.edges[key]; ok {
		return t
	}
	t := &edgeTrigger{triggerID: nextTriggerID(), sched: s, sig: sig, kind: kind}
	s.edges[key] = t
	return t
}

// onSimEvent is the GPI's generic out-of-band simulator event callback
// (e.g. $finish encountered by the design). It is not part of the normal
// phase/trigger dispatch path and is logged at Warn rather than driving any
// task.
func (s *Scheduler) onSimEvent(message string) {
	s.logger.Log(NewLogEntry(LevelWarn, "sim", "simulator event").Field("message", message).Build())
}

// ---- reentrancy guard, grounded in the teacher's isLoopThread/getGoroutineID ----

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// enter claims the scheduler for the calling goroutine, panicking if another
// goroutine is already driving it (invariant 11: the scheduler is never
// entered reentrantly or concurrently — every GPI callback dispatch and
// every SimReact call must come from a single simulator-owned thread).
func (s *Scheduler) enter() func() {
	id := currentGoroutineID()
	if s.ownerGoroutine != 0 && s.ownerGoroutine != id {
		panic(&InvalidStateError{Message: "scheduler entered concurrently from two goroutines"})
	}
	prev := s.ownerGoroutine
	s.ownerGoroutine = id
	return func() { s.ownerGoroutine = prev }
}

// ---- run queue / event loop ----

// SimReact is the single entry point the GPI binding calls on every
// callback dispatch: a fired Timer/Edge/phase trigger, or a ReadWrite entry
// that must first apply queued writes (§4.E). It updates the scheduler's
// phase bookkeeping, dispatches the trigger, and drains the run queue before
// returning control to the simulator.
func (s *Scheduler) SimReact(trigger Trigger) {
	defer s.enter()()
	s.updatePhaseForTrigger(trigger)
	s.react(trigger)
	s.drain()
}

func (s *Scheduler) updatePhaseForTrigger(trigger Trigger) {
	switch t := trigger.(type) {
	case *phaseTrigger:
		switch t.kind {
		case phaseTriggerReadWrite:
			from := s.phase.Load()
			s.phase.Store(PhaseReadWrite)
			logPhaseTransition(s.logger, from, PhaseReadWrite)
			s.applyScheduledWrites()
		case phaseTriggerReadOnly:
			from := s.phase.Load()
			s.phase.Store(PhaseReadOnly)
			logPhaseTransition(s.logger, from, PhaseReadOnly)
		case phaseTriggerNextTimeStep:
			from := s.phase.Load()
			s.phase.Store(PhaseNormal)
			logPhaseTransition(s.logger, from, PhaseNormal)
		}
	default:
		if s.phase.Load() != PhaseNormal {
			from := s.phase.Load()
			s.phase.Store(PhaseNormal)
			logPhaseTransition(s.logger, from, PhaseNormal)
		}
	}
}

// Run drains the run queue once, synchronously. Bring-up calls this after
// StartSoon-ing the initial test task(s), so they run up to their first
// suspension point before control returns to the simulator.
func (s *Scheduler) Run() {
	defer s.enter()()
	s.drain()
}

// react dispatches trigger to every task currently waiting on it: each is
// re-enqueued onto the run queue with Value(nil), or with the trigger's own
// payload or the awaited task's outcome where noted below, the waiter list
// is removed, and the trigger is told to Cleanup. If nothing is waiting
// (already dispatched, or fired spuriously), only Cleanup runs.
func (s *Scheduler) react(trigger Trigger) {
	w, ok := s.waiters[trigger]
	if !ok {
		trigger.Cleanup()
		return
	}
	delete(s.waiters, trigger)
	defaultOutcome := Value(nil)
	if ot, ok := trigger.(outcomeTrigger); ok {
		defaultOutcome = ot.resumeOutcome()
	}
	tc, isTaskComplete := trigger.(*taskComplete)
	for _, task := range w.Keys() {
		task.trigger = nil
		outcome := defaultOutcome
		// Invariant 10: a task that yielded another *Task directly (rather
		// than explicitly awaiting its Complete() trigger) resumes with
		// that task's own result/error instead of the plain nil every
		// other taskComplete waiter gets.
		if isTaskComplete && task.awaitRaw {
			outcome = tc.task.outcome
		}
		task.awaitRaw = false
		_ = s.enqueue(task, outcome)
	}
	trigger.Cleanup()
}

// outcomeTrigger is implemented by triggers that carry a payload (currently
// only externalTrigger) rather than always resuming their waiters with
// Value(nil).
type outcomeTrigger interface {
	Trigger
	resumeOutcome() Outcome
}

// drain runs the scheduler's event loop: pop the run queue FIFO and resume
// each task until empty or a shutdown sequence has been requested.
func (s *Scheduler) drain() {
	for !s.terminating {
		if s.metrics != nil {
			s.metrics.Queue.UpdateRunQueue(s.runQueue.Len())
			s.metrics.Queue.UpdateWaiters(s.totalWaiters())
		}
		task, outcome, ok := s.runQueue.PopFront()
		if !ok {
			return
		}
		s.resume(task, outcome)
	}
	s.runShutdownSequence()
}

func (s *Scheduler) totalWaiters() int {
	n := 0
	for _, w := range s.waiters {
		n += w.Len()
	}
	return n
}

// enqueue adds task to the run queue with outcome, transitioning it to
// Scheduled. Returns InvalidStateError if task is already queued (run-queue
// membership is unique, grounded in the source's _schedule_task check).
func (s *Scheduler) enqueue(task *Task, outcome Outcome) error {
	if s.runQueue.Has(task) {
		return &InvalidStateError{Message: "task is already scheduled"}
	}
	task.state.Store(TaskScheduled)
	s.runQueue.Set(task, outcome)
	return nil
}

// resume drives one task forward by one suspension point: advance it with
// outcome, then either finish it or register it against whatever it
// yielded.
func (s *Scheduler) resume(task *Task, outcome Outcome) {
	prevCurrent := s.current
	s.current = task
	defer func() { s.current = prevCurrent }()

	logTaskAdvanced(s.logger, task.id, TaskRunning)
	start := time.Now()
	yielded, finished := task.advance(outcome)
	if s.metrics != nil {
		s.metrics.ResumeLatency.Record(time.Since(start))
		s.metrics.Resumes.Increment()
	}
	if finished {
		s.finishTask(task)
		return
	}
	logTaskAdvanced(s.logger, task.id, TaskPending)

	trig, err := s.triggerFromAny(task, yielded)
	if err != nil {
		_ = s.enqueue(task, Err(err))
		return
	}
	s.scheduleTaskUpon(task, trig)
}

// triggerFromAny converts awaiter's yielded value into a Trigger. Yielding a
// *Task (awaiting another task directly, without calling Complete()
// explicitly) is accepted as sugar for awaiting its Complete() trigger,
// starting it first if it has never been scheduled, and flags awaiter so it
// resumes with the target's own Outcome rather than plain nil (invariant 10).
func (s *Scheduler) triggerFromAny(awaiter *Task, yielded any) (Trigger, error) {
	switch v := yielded.(type) {
	case Trigger:
		return v, nil
	case *Task:
		if v.state.Load() == TaskUnstarted {
			v.sched = s
			_ = s.enqueue(v, Value(nil))
		}
		awaiter.awaitRaw = true
		return v.Complete(), nil
	default:
		return nil, &TypeError{Message: "task awaited a value that is not a Trigger or Task"}
	}
}

// scheduleTaskUpon registers task as waiting on trigger, priming trigger if
// this is its first waiter. If priming fails, the registration is
// unwound and task is re-queued directly with the priming error as its
// resume outcome — grounded in the original scheduler's
// _schedule_task_upon, which adds the waiter before priming and discards
// the trigger association on a priming failure rather than leaving the
// task parked on a trigger nobody will ever fire.
func (s *Scheduler) scheduleTaskUpon(task *Task, trig Trigger) {
	task.trigger = trig
	task.state.Store(TaskPending)

	w, exists := s.waiters[trig]
	if !exists {
		w = newOrderedMap[*Task, struct{}]()
		s.waiters[trig] = w
	}
	w.Set(task, struct{}{})

	if exists {
		return
	}

	cb := s.react
	if isSimBoundTrigger(trig) {
		cb = s.SimReact
	}
	if err := trig.Prime(cb); err != nil {
		delete(s.waiters, trig)
		task.trigger = nil
		_ = s.enqueue(task, Err(err))
	}
}

func isSimBoundTrigger(t Trigger) bool {
	switch t.(type) {
	case *phaseTrigger, *Timer, *edgeTrigger, *externalTrigger:
		return true
	default:
		return false
	}
}

// hasAwaiter reports whether some other task is currently waiting on task's
// Complete() trigger.
func (s *Scheduler) hasAwaiter(task *Task) bool {
	if task.complete == nil {
		return false
	}
	w, ok := s.waiters[task.complete]
	return ok && w.Len() > 0
}

// finishTask runs once a task's body has returned or errored. An error that
// nobody is awaiting is logged and escalated to a simulator-exit request,
// matching cocotb's "an unawaited failing task kills the run" behavior
// rather than silently swallowing it.
func (s *Scheduler) finishTask(task *Task) {
	observed := s.hasAwaiter(task)
	s.unschedule(task)
	task.fireDoneCallbacks()
	if !observed && task.outcome.Err != nil {
		logTaskFailedUnawaited(s.logger, task.id, task.outcome.Err)
		s.gpi.RequestSimulatorExit()
	}
}

// unschedule removes task from the run queue and from whatever trigger's
// waiter list it is parked on, unpriming that trigger if task was its last
// waiter. If task has a Complete() trigger with its own waiters, those
// waiters are woken now — this is the single mechanism by which a task's
// completion (whether by finishing, cancellation, or kill) propagates to
// anyone awaiting it, since TaskComplete only fires itself when primed on
// an already-terminal task.
func (s *Scheduler) unschedule(task *Task) {
	s.runQueue.Delete(task)
	if trig := task.trigger; trig != nil {
		task.trigger = nil
		if w, ok := s.waiters[trig]; ok {
			w.Delete(task)
			if w.Len() == 0 {
				trig.Unprime()
				delete(s.waiters, trig)
			}
		}
	}
	if task.complete != nil {
		if w, ok := s.waiters[task.complete]; ok && w.Len() > 0 {
			s.react(task.complete)
		}
	}
}

// ---- task creation ----

// StartSoon creates a task from fn and schedules it to run on the next
// event-loop pass, without waiting for it to reach its first suspension
// point. Safe to call before the event loop starts (bring-up) or from
// within a running task body.
func (s *Scheduler) StartSoon(fn TaskFunc) *Task {
	task := NewTask(fn)
	task.sched = s
	_ = s.enqueue(task, Value(nil))
	return task
}

// Start creates a task from fn, schedules it, and suspends caller until the
// new task has run up to its first suspension point (or finished), via a
// single NullTrigger await. This mirrors cocotb's `await start(coro)`: the
// returned Task is guaranteed to have begun executing by the time Start
// returns control to caller.
func (s *Scheduler) Start(caller *Task, fn TaskFunc) (*Task, error) {
	task := s.StartSoon(fn)
	if _, err := caller.Await(NewNullTrigger()); err != nil {
		return task, err
	}
	return task, nil
}

// ---- cancellation ----

// cancelTask transitions task to Cancelled, cancels its context so a
// blocked Await unwinds, and wakes anyone awaiting its completion. A task
// cannot cancel itself (InvalidStateError) — it can simply return instead.
// Cancelling an already-terminal task is a no-op.
func (s *Scheduler) cancelTask(task *Task, kill bool) error {
	if task == s.current {
		return &InvalidStateError{Message: "a task cannot cancel itself; return instead"}
	}
	if task.state.IsTerminal() {
		return nil
	}
	if kill {
		task.outcome = Value(nil)
	} else {
		task.outcome = Err(&CancelledError{})
	}
	task.state.Store(TaskCancelled)
	task.cancelFn()
	s.unschedule(task)
	task.fireDoneCallbacks()
	return nil
}

// Cancel requests cooperative cancellation of t: it finishes with
// CancelledError once its in-flight Await unwinds.
func (t *Task) Cancel() error {
	if t.sched == nil {
		return &InvalidStateError{Message: "task was never scheduled"}
	}
	return t.sched.cancelTask(t, false)
}

// Kill forcibly terminates t without a CancelledError outcome, as if it had
// returned normally with a nil result.
func (t *Task) Kill() error {
	if t.sched == nil {
		return &InvalidStateError{Message: "task was never scheduled"}
	}
	return t.sched.cancelTask(t, true)
}

// ---- shutdown ----

// ShutdownSoon requests that the event loop wind down: the next drain pass
// kills every queued/waiting task, deletes every trigger-waiters entry (no
// separate emptiness check is made), and invokes the configured
// test-complete callback with any aggregated error.
func (s *Scheduler) ShutdownSoon() {
	s.terminating = true
}

func (s *Scheduler) runShutdownSequence() {
	if s.terminated {
		return
	}
	s.terminated = true

	var errs []error
	for _, task := range s.runQueue.Keys() {
		if err := s.cancelTask(task, true); err != nil {
			errs = append(errs, err)
		}
	}
	for trig, w := range s.waiters {
		for _, task := range w.Keys() {
			if err := s.cancelTask(task, true); err != nil {
				errs = append(errs, err)
			}
		}
		delete(s.waiters, trig)
	}

	var aggregated error
	switch len(errs) {
	case 0:
		aggregated = nil
	case 1:
		aggregated = errs[0]
	default:
		aggregated = &AggregateError{Errors: errs}
	}
	s.cfg.testCompleteCB(aggregated)
}

// ---- write scheduling ----

type pendingWrite struct {
	action Action
	binstr string
	isInt  bool
	intVal int64
}

// doWrites is the background task (started once, at construction) that
// keeps the ReadWrite trigger primed whenever writes are pending, so that
// SimReact's applyScheduledWrites flushes them at the next ReadWrite phase.
// It never returns on its own; it is killed as part of shutdown.
func (s *Scheduler) doWrites(ctx context.Context, t *Task) (any, error) {
	for {
		if _, err := t.Await(s.writesPending.Wait()); err != nil {
			return nil, err
		}
		if _, err := t.Await(s.ReadWrite()); err != nil {
			return nil, err
		}
	}
}

// applyScheduledWrites flushes the pending-writes map to the GPI in FIFO
// order. Called by SimReact on ReadWrite phase entry, before any waiting
// tasks are resumed, so that a task awaiting ReadWrite observes writes
// scheduled before it as already applied.
func (s *Scheduler) applyScheduledWrites() {
	for {
		sig, w, ok := s.pendingWrites.PopFront()
		if !ok {
			break
		}
		var err error
		if w.isInt {
			err = s.gpi.SetSignalValInt(sig, w.action, w.intVal)
		} else {
			err = s.gpi.SetSignalValBinstr(sig, w.action, w.binstr)
		}
		if err != nil {
			s.logger.Log(NewLogEntry(LevelError, "write", "apply failed").
				Field("handle", s.gpi.GetNameString(sig)).Err(err).Build())
		}
	}
	s.writesPending.Clear()
}
