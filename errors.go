// Package gocotb provides the cooperative task scheduler and simulator-phase
// coordinator for a GPI-driven hardware-verification testbench. This file
// defines its error taxonomy, with cause-chain support via [errors.Unwrap].
package gocotb

import (
	"errors"
	"fmt"
)

// TypeError is raised when a value passed across a scheduler API boundary is
// of the wrong type or shape: a nil task function, a bad yield from a task
// body, a non-1-bit signal handle passed to RisingEdge/FallingEdge, or a
// write value of an unsupported type.
type TypeError struct {
	Cause   error
	Message string
}

func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

func (e *TypeError) Unwrap() error { return e.Cause }

// ValueError is raised when a write value has the right type but the wrong
// length or content for its target signal (e.g. a logic string of mismatched
// width).
type ValueError struct {
	Cause   error
	Message string
}

func (e *ValueError) Error() string {
	if e.Message == "" {
		return "value error"
	}
	return e.Message
}

func (e *ValueError) Unwrap() error { return e.Cause }

// OverflowError is raised when an integer write value falls outside the
// representable range of its target signal's width.
type OverflowError struct {
	Cause   error
	Message string
}

func (e *OverflowError) Error() string {
	if e.Message == "" {
		return "overflow error"
	}
	return e.Message
}

func (e *OverflowError) Unwrap() error { return e.Cause }

// IllegalPhaseTransitionError is raised when a task awaits ReadWrite or
// ReadOnly while the scheduler is already in the ReadOnly phase.
type IllegalPhaseTransitionError struct {
	Cause   error
	Message string
}

func (e *IllegalPhaseTransitionError) Error() string {
	if e.Message == "" {
		return "illegal phase transition"
	}
	return e.Message
}

func (e *IllegalPhaseTransitionError) Unwrap() error { return e.Cause }

// WriteDuringReadOnlyError is raised when a write is scheduled while the
// scheduler is in the ReadOnly phase.
type WriteDuringReadOnlyError struct {
	Cause   error
	Message string
}

func (e *WriteDuringReadOnlyError) Error() string {
	if e.Message == "" {
		return "write scheduled during read-only phase"
	}
	return e.Message
}

func (e *WriteDuringReadOnlyError) Unwrap() error { return e.Cause }

// WriteToConstantError is raised when Set or SetImmediate is called on a
// handle the GPI reports as constant.
type WriteToConstantError struct {
	Cause   error
	Message string
}

func (e *WriteToConstantError) Error() string {
	if e.Message == "" {
		return "write to constant signal"
	}
	return e.Message
}

func (e *WriteToConstantError) Unwrap() error { return e.Cause }

// SimulatorRefusalError is raised when the GPI bridge refuses to register a
// callback.
type SimulatorRefusalError struct {
	Cause   error
	Message string
}

func (e *SimulatorRefusalError) Error() string {
	if e.Message == "" {
		return "simulator refused callback registration"
	}
	return e.Message
}

func (e *SimulatorRefusalError) Unwrap() error { return e.Cause }

// InvalidStateError is raised by Result/Exception on a task that has not yet
// finished, and by Cancel when a task attempts to cancel itself.
type InvalidStateError struct {
	Cause   error
	Message string
}

func (e *InvalidStateError) Error() string {
	if e.Message == "" {
		return "invalid state"
	}
	return e.Message
}

func (e *InvalidStateError) Unwrap() error { return e.Cause }

// CancelledError is the error a cancelled task finishes with.
type CancelledError struct {
	Cause   error
	Message string
}

func (e *CancelledError) Error() string {
	if e.Message == "" {
		return "task was cancelled"
	}
	return e.Message
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// PanicError wraps a panic value recovered from a task body or an external
// goroutine started via Scheduler.RunExternal.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is itself an error, enabling
// [errors.Is]/[errors.As] to see through to it.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError collects multiple causes, used when shutdown cancels
// several tasks at once and more than one fails.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes every contained error to [errors.Is]/[errors.As].
func (e *AggregateError) Unwrap() []error { return e.Errors }

// Is reports whether target is any AggregateError. Contained errors are
// matched by errors.Is through Unwrap, not by this method.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// WrapError wraps cause with a message, preserving it for errors.Is/errors.As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
