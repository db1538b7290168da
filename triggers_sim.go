package gocotb

import "math"

// RoundMode selects how Timer converts a non-integer step count.
type RoundMode int

const (
	RoundModeError RoundMode = iota
	RoundModeRound
	RoundModeCeil
	RoundModeFloor
)

// unitScale maps a time unit name to its size in seconds. "step" is handled
// specially by the caller (it means "native simulator precision").
var unitScale = map[string]float64{
	"fs": 1e-15,
	"ps": 1e-12,
	"ns": 1e-9,
	"us": 1e-6,
	"ms": 1e-3,
	"s":  1,
}

// simulatorStepSeconds returns the simulator's reported time precision in
// seconds, defaulting to 1ns when the GPI does not report an exact value.
func simulatorStepSeconds(g GPI) float64 {
	unit, exact := g.TimePrecision()
	scale, ok := unitScale[unit]
	if !ok || !exact {
		return unitScale["ns"]
	}
	return scale
}

// phaseTriggerKind distinguishes the three singleton phase triggers.
type phaseTriggerKind int

const (
	phaseTriggerReadWrite phaseTriggerKind = iota
	phaseTriggerReadOnly
	phaseTriggerNextTimeStep
)

// phaseTrigger implements ReadWrite, ReadOnly and NextTimeStep. Each is a
// per-Scheduler singleton (§4.B): repeated construction through
// Scheduler.ReadWrite()/ReadOnly()/NextTimeStep() returns the same pointer,
// so all tasks awaiting "the next ReadWrite" share one underlying GPI
// callback and are woken as a batch.
type phaseTrigger struct {
	triggerID uint64
	sched     *Scheduler
	kind      phaseTriggerKind
	armed     bool
	handle    CallbackHandle
	cb        func(Trigger)
}

func newPhaseTrigger(sched *Scheduler, kind phaseTriggerKind) *phaseTrigger {
	return &phaseTrigger{triggerID: nextTriggerID(), sched: sched, kind: kind}
}

func (t *phaseTrigger) Prime(cb func(Trigger)) error {
	if (t.kind == phaseTriggerReadWrite || t.kind == phaseTriggerReadOnly) && t.sched.phase.Load() == PhaseReadOnly {
		return &IllegalPhaseTransitionError{Message: "cannot await ReadWrite/ReadOnly while already in ReadOnly phase"}
	}
	t.cb = cb
	if t.armed {
		return nil
	}
	var (
		handle CallbackHandle
		err    error
	)
	fire := func() { t.onFire() }
	switch t.kind {
	case phaseTriggerReadWrite:
		handle, err = t.sched.gpi.RegisterReadWriteCallback(fire, nil)
	case phaseTriggerReadOnly:
		handle, err = t.sched.gpi.RegisterReadOnlyCallback(fire, nil)
	case phaseTriggerNextTimeStep:
		handle, err = t.sched.gpi.RegisterNextStepCallback(fire, nil)
	}
	if err != nil {
		return &SimulatorRefusalError{Cause: err}
	}
	t.handle = handle
	t.armed = true
	logTriggerPrimed(t.sched.logger, t.triggerID, t.phaseName())
	return nil
}

func (t *phaseTrigger) onFire() {
	if cb := t.cb; cb != nil {
		cb(t)
	}
}

func (t *phaseTrigger) phaseName() string {
	switch t.kind {
	case phaseTriggerReadWrite:
		return "ReadWrite"
	case phaseTriggerReadOnly:
		return "ReadOnly"
	default:
		return "NextTimeStep"
	}
}

func (t *phaseTrigger) Unprime() {
	if t.armed {
		_ = t.sched.gpi.Deregister(t.handle)
		t.armed = false
	}
	t.cb = nil
}

func (t *phaseTrigger) Cleanup() { t.Unprime() }

func (t *phaseTrigger) id() uint64 { return t.triggerID }

// Timer fires after delay (converted to an integer simulator step count) has
// elapsed. Unlike the phase triggers, Timer is not a singleton: each
// construction is an independent awaitable.
type Timer struct {
	triggerID uint64
	sched     *Scheduler
	steps     uint64
	armed     bool
	handle    CallbackHandle
	cb        func(Trigger)
}

// NewTimer converts quantity/unit to an integer step count using the
// simulator's reported precision, applying rounding for non-integer results.
// delay must be positive; a positive delay that rounds to zero steps is
// promoted to 1 step (§4.B, invariant 7). unit "step" means "native
// simulator precision" and is taken as an exact step count directly.
func NewTimer(sched *Scheduler, quantity float64, unit string, rounding RoundMode) (*Timer, error) {
	if quantity <= 0 {
		return nil, &ValueError{Message: "Timer delay must be positive"}
	}
	var stepsF float64
	if unit == "step" {
		stepsF = quantity
	} else {
		scale, ok := unitScale[unit]
		if !ok {
			return nil, &ValueError{Message: "unrecognized time unit: " + unit}
		}
		stepsF = quantity * scale / simulatorStepSeconds(sched.gpi)
	}
	steps, err := roundSteps(stepsF, rounding)
	if err != nil {
		return nil, err
	}
	if steps == 0 {
		steps = 1
	}
	return &Timer{triggerID: nextTriggerID(), sched: sched, steps: steps}, nil
}

func roundSteps(stepsF float64, rounding RoundMode) (uint64, error) {
	rounded := math.Round(stepsF)
	if math.Abs(stepsF-rounded) > 1e-9 {
		switch rounding {
		case RoundModeError:
			return 0, &ValueError{Message: "Timer delay does not divide evenly into simulator steps"}
		case RoundModeCeil:
			return uint64(math.Ceil(stepsF)), nil
		case RoundModeFloor:
			return uint64(math.Floor(stepsF)), nil
		case RoundModeRound:
			return uint64(rounded), nil
		}
	}
	return uint64(rounded), nil
}

func (t *Timer) Prime(cb func(Trigger)) error {
	t.cb = cb
	if t.armed {
		return nil
	}
	handle, err := t.sched.gpi.RegisterTimedCallback(t.steps, func() {
		if c := t.cb; c != nil {
			c(t)
		}
	}, nil)
	if err != nil {
		return &SimulatorRefusalError{Cause: err}
	}
	t.handle = handle
	t.armed = true
	logTriggerPrimed(t.sched.logger, t.triggerID, "Timer")
	return nil
}

func (t *Timer) Unprime() {
	if t.armed {
		_ = t.sched.gpi.Deregister(t.handle)
		t.armed = false
	}
	t.cb = nil
}

func (t *Timer) Cleanup() { t.Unprime() }

func (t *Timer) id() uint64 { return t.triggerID }

// edgeKey identifies a keyed-singleton edge trigger.
type edgeKey struct {
	kind EdgeKind
	sig  SignalToken
}

// edgeTrigger implements Edge/RisingEdge/FallingEdge. Interned per
// (edgeKind, signal-identity) on the owning Scheduler (§4.B, invariant 3):
// RisingEdge(s) constructed twice for the same s returns the same pointer.
type edgeTrigger struct {
	triggerID uint64
	sched     *Scheduler
	sig       SignalToken
	kind      EdgeKind
	armed     bool
	handle    CallbackHandle
	cb        func(Trigger)
}

// RisingEdge returns the keyed-singleton rising-edge trigger for sig. sig
// must be a 1-bit logic-typed handle, else TypeError.
func RisingEdge(sched *Scheduler, sig SignalToken) (Trigger, error) {
	if err := requireOneBitLogic(sched, sig, "RisingEdge"); err != nil {
		return nil, err
	}
	return sched.internEdge(sig, EdgeRising), nil
}

// FallingEdge returns the keyed-singleton falling-edge trigger for sig. sig
// must be a 1-bit logic-typed handle, else TypeError.
func FallingEdge(sched *Scheduler, sig SignalToken) (Trigger, error) {
	if err := requireOneBitLogic(sched, sig, "FallingEdge"); err != nil {
		return nil, err
	}
	return sched.internEdge(sig, EdgeFalling), nil
}

// Edge returns the keyed-singleton value-change trigger for sig. Any
// value-having handle is accepted.
func Edge(sched *Scheduler, sig SignalToken) Trigger {
	return sched.internEdge(sig, EdgeValueChange)
}

func requireOneBitLogic(sched *Scheduler, sig SignalToken, who string) error {
	if sched.gpi.GetType(sig) != TypeLogic || sched.gpi.GetNumElems(sig) != 1 {
		return &TypeError{Message: who + " requires a 1-bit logic signal, got " + sched.gpi.GetTypeString(sig)}
	}
	return nil
}

func (t *edgeTrigger) Prime(cb func(Trigger)) error {
	t.cb = cb
	if t.armed {
		return nil
	}
	handle, err := t.sched.gpi.RegisterValueChangeCallback(t.sig, func() {
		if c := t.cb; c != nil {
			c(t)
		}
	}, t.kind, nil)
	if err != nil {
		return &SimulatorRefusalError{Cause: err}
	}
	t.handle = handle
	t.armed = true
	logTriggerPrimed(t.sched.logger, t.triggerID, "Edge")
	return nil
}

func (t *edgeTrigger) Unprime() {
	if t.armed {
		_ = t.sched.gpi.Deregister(t.handle)
		t.armed = false
	}
	t.cb = nil
}

func (t *edgeTrigger) Cleanup() { t.Unprime() }

func (t *edgeTrigger) id() uint64 { return t.triggerID }
