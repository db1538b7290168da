// The GPI bridge boundary. A real binding is a cgo adapter over Verilog VPI
// or VHDL VHPI; the scheduler core depends only on this interface, never on
// a specific simulator. This module ships only an in-memory fake (see
// fakegpi_test.go) implementing it, for deterministic tests.
package gocotb

import "fmt"

// CallbackHandle is an opaque token returned by a Register*Callback call,
// passed back to Deregister.
type CallbackHandle uint64

// SignalToken is an opaque handle to a signal inside the simulator, as
// returned by GetRootHandle/GetHandleByName/GetHandleByIndex.
type SignalToken uint64

// Action is the GPI set-value action enum.
type Action int

const (
	ActionDeposit Action = iota
	ActionForce
	ActionRelease
	ActionNoDelay
)

func (a Action) String() string {
	switch a {
	case ActionDeposit:
		return "DEPOSIT"
	case ActionForce:
		return "FORCE"
	case ActionRelease:
		return "RELEASE"
	case ActionNoDelay:
		return "NO_DELAY"
	default:
		return fmt.Sprintf("ACTION(%d)", a)
	}
}

// HandleType is the GPI handle-discovery type enum.
type HandleType int

const (
	TypeModule HandleType = iota
	TypePackedStructure
	TypeLogic
	TypeLogicArray
	TypeNetArray
)

// EdgeKind selects which value-change transition a value-change callback
// fires on.
type EdgeKind int

const (
	EdgeRising EdgeKind = iota
	EdgeFalling
	EdgeValueChange
)

// IterateKind selects what GPI.Iterate enumerates (submodules, signals, ...).
type IterateKind int

// GPI is the minimal surface the scheduler core depends on. A real
// implementation is a cgo trampoline into the simulator's VPI/VHPI layer;
// payload pointers on that side must be keyed (e.g. via a registry or
// runtime/cgo.Handle), never dereferenced raw across simulator resets.
type GPI interface {
	RegisterTimedCallback(steps uint64, cb func(), payload any) (CallbackHandle, error)
	RegisterReadOnlyCallback(cb func(), payload any) (CallbackHandle, error)
	RegisterReadWriteCallback(cb func(), payload any) (CallbackHandle, error)
	RegisterNextStepCallback(cb func(), payload any) (CallbackHandle, error)
	RegisterValueChangeCallback(sig SignalToken, cb func(), edge EdgeKind, payload any) (CallbackHandle, error)
	Deregister(handle CallbackHandle) error

	SetSimEventCallback(cb func(message string))

	// RegisterExternalCallback arranges for cb to be invoked exactly once,
	// at the simulator's earliest convenience, on whatever thread the
	// simulator uses to dispatch its own callbacks. Unlike every other
	// Register*Callback method, this one is safe to call from any
	// goroutine (it is the thread-safe boundary Scheduler.RunExternal uses
	// to hand a background goroutine's result back to the scheduler's
	// single owning goroutine).
	RegisterExternalCallback(cb func()) (CallbackHandle, error)

	GetRootHandle(name string) (SignalToken, error)

	GetNameString(sig SignalToken) string
	GetTypeString(sig SignalToken) string
	GetType(sig SignalToken) HandleType
	GetConst(sig SignalToken) bool
	GetNumElems(sig SignalToken) int
	GetSignalValBinstr(sig SignalToken) string
	SetSignalValInt(sig SignalToken, action Action, value int64) error
	SetSignalValBinstr(sig SignalToken, action Action, value string) error
	GetHandleByName(parent SignalToken, name string) (SignalToken, error)
	GetHandleByIndex(parent SignalToken, index int) (SignalToken, error)
	Iterate(parent SignalToken, kind IterateKind) ([]SignalToken, error)
	GetDefinitionName(sig SignalToken) string
	GetSimulatorProduct() string
	GetSimulatorVersion() string

	// TimePrecision reports the simulator's native time-step unit (e.g.
	// "ns", "ps") and whether the reported precision is exact.
	TimePrecision() (unit string, exact bool)

	// RequestSimulatorExit asks the simulator to terminate the run, used
	// when a task fails with no awaiter.
	RequestSimulatorExit()
}
