package gocotb

import "github.com/gocotb/gocotb/logicvalue"

// Writeable is a value that can be scheduled onto a SignalHandle. The four
// implementations give increasing write "stickiness" (§4.F): Deposit is a
// plain write, Force/Freeze make the value sticky until Released.
type Writeable interface {
	writeable()
}

// Deposit schedules a plain write of V.
type Deposit struct{ V any }

func (Deposit) writeable() {}

// Force schedules a sticky write of V: the simulator holds this value
// through subsequent deposits until Released.
type Force struct{ V any }

func (Force) writeable() {}

// Freeze schedules a force of the handle's *current* value.
type Freeze struct{}

func (Freeze) writeable() {}

// Release cancels any active force/freeze on the handle.
type Release struct{}

func (Release) writeable() {}

// SignalHandle wraps a GPI signal token with the scheduler-aware write
// path: Set coalesces through the write scheduler (applied at the next
// ReadWrite phase); SetImmediate writes straight through.
type SignalHandle struct {
	sched *Scheduler
	sig   SignalToken
}

// NewSignalHandle wraps sig for use with sched's write scheduler.
func NewSignalHandle(sched *Scheduler, sig SignalToken) *SignalHandle {
	return &SignalHandle{sched: sched, sig: sig}
}

// Token returns the underlying opaque GPI signal token.
func (h *SignalHandle) Token() SignalToken { return h.sig }

// Name returns the GPI-reported name of the signal.
func (h *SignalHandle) Name() string { return h.sched.gpi.GetNameString(h.sig) }

// Set schedules w to be applied at the next ReadWrite phase (or
// immediately, if the scheduler is currently in ReadWrite). Fails with
// WriteToConstantError if the target is constant, before any scheduling
// happens; fails with WriteDuringReadOnlyError if called during ReadOnly.
func (h *SignalHandle) Set(w Writeable) error {
	if h.sched.gpi.GetConst(h.sig) {
		return &WriteToConstantError{Message: "cannot write to constant signal " + h.Name()}
	}
	action, pw, err := h.encode(w)
	if err != nil {
		return err
	}
	logWriteScheduled(h.sched.logger, h.Name(), action)
	return h.sched.scheduleWrite(h.sig, pw)
}

// SetImmediate bypasses the write scheduler and writes through to the GPI
// directly. A plain Deposit becomes ActionNoDelay (the GPI's "apply right
// now, no coalescing" action); Force/Freeze/Release pass through as-is.
func (h *SignalHandle) SetImmediate(w Writeable) error {
	if h.sched.gpi.GetConst(h.sig) {
		return &WriteToConstantError{Message: "cannot write to constant signal " + h.Name()}
	}
	action, pw, err := h.encode(w)
	if err != nil {
		return err
	}
	if action == ActionDeposit {
		action = ActionNoDelay
	}
	if pw.isInt {
		return h.sched.gpi.SetSignalValInt(h.sig, action, pw.intVal)
	}
	return h.sched.gpi.SetSignalValBinstr(h.sig, action, pw.binstr)
}

func (h *SignalHandle) encode(w Writeable) (Action, pendingWrite, error) {
	width := h.sched.gpi.GetNumElems(h.sig)
	switch v := w.(type) {
	case Deposit:
		enc, err := logicvalue.Encode(v.V, width)
		if err != nil {
			return 0, pendingWrite{}, convertValueErr(err)
		}
		return ActionDeposit, pendingWriteFromEncoded(ActionDeposit, enc), nil
	case Force:
		enc, err := logicvalue.Encode(v.V, width)
		if err != nil {
			return 0, pendingWrite{}, convertValueErr(err)
		}
		return ActionForce, pendingWriteFromEncoded(ActionForce, enc), nil
	case Freeze:
		cur := h.sched.gpi.GetSignalValBinstr(h.sig)
		return ActionForce, pendingWrite{action: ActionForce, binstr: cur}, nil
	case Release:
		return ActionRelease, pendingWrite{action: ActionRelease}, nil
	default:
		return 0, pendingWrite{}, &TypeError{Message: "unrecognized Writeable"}
	}
}

// pendingWriteFromEncoded carries logicvalue.Encode's int-fast-path/binstr
// distinction through to the write scheduler (§4.F), so SetImmediate and
// scheduleWrite's ReadWrite-phase fast path can call GPI.SetSignalValInt
// instead of SetSignalValBinstr whenever the fast path applied.
func pendingWriteFromEncoded(action Action, enc logicvalue.Encoded) pendingWrite {
	if enc.IsInt {
		return pendingWrite{action: action, isInt: true, intVal: enc.IntVal}
	}
	return pendingWrite{action: action, binstr: enc.Bin}
}

// convertValueErr maps logicvalue's error taxonomy onto the scheduler's own
// typed errors, so callers only ever need to match against this package's
// types.
func convertValueErr(err error) error {
	switch e := err.(type) {
	case *logicvalue.OverflowError:
		return &OverflowError{Cause: err, Message: e.Error()}
	case *logicvalue.ValueError:
		return &ValueError{Cause: err, Message: e.Error()}
	case *logicvalue.TypeError:
		return &TypeError{Cause: err, Message: e.Error()}
	default:
		return err
	}
}

// ResolvedInt reads the signal's current value and resolves it to an
// integer using the Scheduler's configured ResolveXStrategy.
func (h *SignalHandle) ResolvedInt() (int64, error) {
	bin := h.sched.gpi.GetSignalValBinstr(h.sig)
	la, err := logicvalue.NewLogicArrayFromString(bin)
	if err != nil {
		return 0, convertValueErr(err)
	}
	v, err := la.ResolveToInt(logicvalue.ResolveX(h.sched.cfg.resolveX))
	if err != nil {
		return 0, convertValueErr(err)
	}
	return v, nil
}

// ---- write-scheduler wiring (§4.D) ----

// scheduleWrite is the write-scheduler entry point Set calls: immediate in
// ReadWrite, rejected in ReadOnly, else coalesced per-handle (last writer
// wins) and the write-scheduler's background task is signalled.
func (s *Scheduler) scheduleWrite(sig SignalToken, w pendingWrite) error {
	switch s.phase.Load() {
	case PhaseReadWrite:
		if w.isInt {
			return s.gpi.SetSignalValInt(sig, w.action, w.intVal)
		}
		return s.gpi.SetSignalValBinstr(sig, w.action, w.binstr)
	case PhaseReadOnly:
		return &WriteDuringReadOnlyError{Message: "cannot write to " + s.gpi.GetNameString(sig) + " during ReadOnly phase"}
	default:
		// orderedMap.Set already removes any existing entry for sig and
		// re-appends at the tail, giving last-writer-wins FIFO ordering.
		s.pendingWrites.Set(sig, w)
		s.writesPending.Set()
		return nil
	}
}
