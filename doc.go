// Package gocotb provides a cooperative, single-goroutine task scheduler
// for driving a hardware-simulation testbench: tasks suspend on Triggers
// (phase boundaries, signal edges, timed delays, other tasks, or in-process
// events) and are resumed in the order their triggers fire, one at a time,
// on the scheduler's own goroutine.
//
// # Architecture
//
// The [Scheduler] core holds the run queue and the trigger-to-waiters map.
// Task bodies run on their own goroutines but are driven in strict lockstep
// via an unbuffered channel handshake ([Task.Await]/[Task.advance]) — only
// one task body is ever actually executing at a time, and scheduler state
// is only read or written by the scheduler goroutine or by the one task
// body it is currently driving (for example through [SignalHandle.Set] or
// [Event.Set]), never by both at once.
// [Scheduler.SimReact] is the single entry point a GPI binding calls on
// every simulator callback dispatch.
//
// # Triggers
//
// [Trigger] is the polymorphic awaitable: phase boundaries ([Scheduler.ReadWrite],
// [Scheduler.ReadOnly], [Scheduler.NextTimeStep]) and [Timer]/[RisingEdge]/
// [FallingEdge]/[Edge] are simulator-bound and arm a GPI callback on first
// use; [Event], [NullTrigger] and a Task's own [Task.Complete] trigger are
// resolved entirely in-process.
//
// # Signal writes
//
// Writes scheduled outside the ReadWrite phase are coalesced per handle and
// applied in FIFO order at the start of the next ReadWrite phase (see
// [SignalHandle.Set]); SetImmediate bypasses this and writes through
// directly.
//
// # Thread safety
//
// The scheduler itself is not safe for concurrent use — every method that
// touches its state must be called from its owning goroutine, which is
// whichever goroutine the GPI binding uses to dispatch callbacks (or a task
// body that goroutine is driving). SimReact and Run enforce this at runtime
// with the reentrancy guard in scheduler.go; other methods are not checked.
// The one exception
// is [Scheduler.RunExternal], which hands work to a background goroutine
// and brings its result back across the GPI's thread-safe
// RegisterExternalCallback hook.
//
// # Error types
//
// The package provides a small taxonomy of typed errors — [TypeError],
// [ValueError], [OverflowError], [IllegalPhaseTransitionError],
// [WriteDuringReadOnlyError], [WriteToConstantError],
// [SimulatorRefusalError], [InvalidStateError], [CancelledError],
// [PanicError] and [AggregateError] — all implementing [error] and
// [errors.Unwrap]/[errors.Is]/[errors.As]-compatible chaining.
package gocotb
