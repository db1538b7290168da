package gocotb

import (
	"sync/atomic"
)

// TaskState is the lifecycle state of a Task.
//
// State Machine:
//
//	Unstarted (0) -> Scheduled (1)   [StartSoon/Start enqueues the task]
//	Scheduled (1) -> Running (2)     [the scheduler resumes it]
//	Running (2)   -> Pending (3)     [the task yields a Trigger]
//	Pending (3)   -> Scheduled (1)   [the awaited Trigger fires]
//	Running (2)   -> Finished (4)    [the task body returns or errors]
//	any non-terminal -> Cancelled (5) [Cancel/Kill]
//
// Finished and Cancelled are terminal; once reached, no further transition
// is permitted.
type TaskState uint32

const (
	TaskUnstarted TaskState = iota
	TaskScheduled
	TaskRunning
	TaskPending
	TaskFinished
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskUnstarted:
		return "Unstarted"
	case TaskScheduled:
		return "Scheduled"
	case TaskRunning:
		return "Running"
	case TaskPending:
		return "Pending"
	case TaskFinished:
		return "Finished"
	case TaskCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// taskFastState is a lock-free CAS-guarded holder for TaskState. There is no
// high-throughput requirement here (a task transitions only a handful of
// times in its life), but the single-owner, no-mutex discipline matches the
// rest of the scheduler's state and keeps Task safe to inspect (Done, etc.)
// from outside the scheduler goroutine without a lock.
type taskFastState struct {
	v atomic.Uint32
}

func newTaskFastState() *taskFastState {
	s := &taskFastState{}
	s.v.Store(uint32(TaskUnstarted))
	return s
}

func (s *taskFastState) Load() TaskState {
	return TaskState(s.v.Load())
}

func (s *taskFastState) Store(state TaskState) {
	s.v.Store(uint32(state))
}

func (s *taskFastState) TryTransition(from, to TaskState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *taskFastState) IsTerminal() bool {
	state := s.Load()
	return state == TaskFinished || state == TaskCancelled
}

// Phase is the simulator's process-wide time-step phase. It is updated
// exclusively by the scheduler's SimReact entry, and read by user tasks, the
// write scheduler, and ReadWrite/ReadOnly priming.
type Phase uint32

const (
	PhaseNormal Phase = iota
	PhaseReadWrite
	PhaseReadOnly
)

func (p Phase) String() string {
	switch p {
	case PhaseNormal:
		return "Normal"
	case PhaseReadWrite:
		return "ReadWrite"
	case PhaseReadOnly:
		return "ReadOnly"
	default:
		return "Unknown"
	}
}

// phaseState is the atomic holder backing Scheduler.Phase. Phase transitions
// happen only on the scheduler goroutine (inside SimReact), so a plain Store
// suffices there; the atomic type exists so that tasks may call
// Scheduler.Phase from code paths a future caller might run off-goroutine
// without it being a data race.
type phaseState struct {
	v atomic.Uint32
}

func (s *phaseState) Load() Phase {
	return Phase(s.v.Load())
}

func (s *phaseState) Store(p Phase) {
	s.v.Store(uint32(p))
}
