package gocotb

import (
	"container/heap"
	"sync"
)

// FakeGPI is a pure-Go, single-process stand-in for a real VPI/VHPI binding,
// driving a tiny discrete-event simulation entirely from step-counted
// timed callbacks: no wall-clock time, no cgo, no simulator process. It
// implements the GPI interface well enough to exercise every Scheduler
// operation a test needs: registering the three phase callbacks, timed
// callbacks, value-change callbacks, reading/writing signal values, and
// the thread-safe external-callback hook.
//
// Driving it is the test's job: call Advance to let the simulation run its
// per-step phase sequence (Normal -> ReadWrite -> ReadOnly -> NextTimeStep)
// until the next scheduled timed callback, or RunUntilQuiescent to keep
// advancing until nothing more is scheduled.
type FakeGPI struct {
	mu sync.Mutex

	nextHandle CallbackHandle
	nextToken  SignalToken

	signals map[SignalToken]*fakeSignal
	byName  map[string]SignalToken

	now   uint64
	timed fakeTimerHeap

	readWrite    []fakeCallback
	readOnly     []fakeCallback
	nextStep     []fakeCallback
	vc           map[SignalToken][]fakeVCCallback
	pendingEdges []func()

	simEventCB func(string)
	external   []func()

	exitRequested bool
}

type fakeSignal struct {
	name     string
	typ      HandleType
	numElems int
	constant bool
	binstr   string
	children map[string]SignalToken
}

type fakeCallback struct {
	handle CallbackHandle
	cb     func()
}

type fakeVCCallback struct {
	handle CallbackHandle
	cb     func()
	edge   EdgeKind
}

// fakeTimerEntry is one scheduled timed callback, ordered by deadline.
type fakeTimerEntry struct {
	deadline uint64
	handle   CallbackHandle
	cb       func()
}

// fakeTimerHeap is a min-heap of fakeTimerEntry, grounded directly in the
// teacher's timerHeap/container-heap pattern (loop.go).
type fakeTimerHeap []fakeTimerEntry

func (h fakeTimerHeap) Len() int            { return len(h) }
func (h fakeTimerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h fakeTimerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *fakeTimerHeap) Push(x any)         { *h = append(*h, x.(fakeTimerEntry)) }
func (h *fakeTimerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NewFakeGPI constructs an empty simulation with a single root module
// handle named "top".
func NewFakeGPI() *FakeGPI {
	g := &FakeGPI{
		signals:    make(map[SignalToken]*fakeSignal),
		byName:     make(map[string]SignalToken),
		vc:         make(map[SignalToken][]fakeVCCallback),
		simEventCB: func(string) {},
	}
	g.addSignal("top", TypeModule, 0, false, "")
	return g
}

func (g *FakeGPI) addSignal(name string, typ HandleType, numElems int, constant bool, initial string) SignalToken {
	g.nextToken++
	tok := g.nextToken
	g.signals[tok] = &fakeSignal{
		name:     name,
		typ:      typ,
		numElems: numElems,
		constant: constant,
		binstr:   initial,
		children: make(map[string]SignalToken),
	}
	g.byName[name] = tok
	return tok
}

// AddLogicSignal registers a 1-bit logic signal under "top", initialized to
// 'X', and returns its token. Test bodies use this to build up the handle
// hierarchy a real elaboration would have produced.
func (g *FakeGPI) AddLogicSignal(name string) SignalToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok := g.addSignal(name, TypeLogic, 1, false, "X")
	g.signals[g.byName["top"]].children[name] = tok
	return tok
}

// AddLogicArray registers a width-bit logic-array signal under "top",
// initialized to all 'X', and returns its token.
func (g *FakeGPI) AddLogicArray(name string, width int) SignalToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	initial := make([]byte, width)
	for i := range initial {
		initial[i] = 'X'
	}
	tok := g.addSignal(name, TypeLogicArray, width, false, string(initial))
	g.signals[g.byName["top"]].children[name] = tok
	return tok
}

// Now returns the simulation's current step count.
func (g *FakeGPI) Now() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

// ExitRequested reports whether RequestSimulatorExit has been called.
func (g *FakeGPI) ExitRequested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitRequested
}

// ---- GPI interface ----

func (g *FakeGPI) allocHandle() CallbackHandle {
	g.nextHandle++
	return g.nextHandle
}

func (g *FakeGPI) RegisterTimedCallback(steps uint64, cb func(), payload any) (CallbackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.allocHandle()
	heap.Push(&g.timed, fakeTimerEntry{deadline: g.now + steps, handle: h, cb: cb})
	return h, nil
}

func (g *FakeGPI) RegisterReadOnlyCallback(cb func(), payload any) (CallbackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.allocHandle()
	g.readOnly = append(g.readOnly, fakeCallback{handle: h, cb: cb})
	return h, nil
}

func (g *FakeGPI) RegisterReadWriteCallback(cb func(), payload any) (CallbackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.allocHandle()
	g.readWrite = append(g.readWrite, fakeCallback{handle: h, cb: cb})
	return h, nil
}

func (g *FakeGPI) RegisterNextStepCallback(cb func(), payload any) (CallbackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.allocHandle()
	g.nextStep = append(g.nextStep, fakeCallback{handle: h, cb: cb})
	return h, nil
}

func (g *FakeGPI) RegisterValueChangeCallback(sig SignalToken, cb func(), edge EdgeKind, payload any) (CallbackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.allocHandle()
	g.vc[sig] = append(g.vc[sig], fakeVCCallback{handle: h, cb: cb, edge: edge})
	return h, nil
}

func (g *FakeGPI) Deregister(handle CallbackHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readOnly = removeCallback(g.readOnly, handle)
	g.readWrite = removeCallback(g.readWrite, handle)
	g.nextStep = removeCallback(g.nextStep, handle)
	for sig, cbs := range g.vc {
		g.vc[sig] = removeVCCallback(cbs, handle)
	}
	for i := range g.timed {
		if g.timed[i].handle == handle {
			heap.Remove(&g.timed, i)
			break
		}
	}
	return nil
}

func removeCallback(s []fakeCallback, h CallbackHandle) []fakeCallback {
	for i, c := range s {
		if c.handle == h {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeVCCallback(s []fakeVCCallback, h CallbackHandle) []fakeVCCallback {
	for i, c := range s {
		if c.handle == h {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func (g *FakeGPI) SetSimEventCallback(cb func(message string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.simEventCB = cb
}

// RegisterExternalCallback appends cb to the pending-external queue,
// draining only from Advance/RunUntilQuiescent — i.e. from the goroutine
// driving the fake simulation, never from the calling goroutine itself.
// This is the thread-safety boundary RunExternal's background goroutines
// cross through.
func (g *FakeGPI) RegisterExternalCallback(cb func()) (CallbackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.allocHandle()
	g.external = append(g.external, cb)
	return h, nil
}

func (g *FakeGPI) GetRootHandle(name string) (SignalToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok, ok := g.byName[name]
	if !ok {
		return 0, &ValueError{Message: "no such handle: " + name}
	}
	return tok, nil
}

func (g *FakeGPI) GetNameString(sig SignalToken) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signals[sig].name
}

func (g *FakeGPI) GetTypeString(sig SignalToken) string {
	switch g.GetType(sig) {
	case TypeModule:
		return "GPI_MODULE"
	case TypePackedStructure:
		return "GPI_STRUCTURE"
	case TypeLogic:
		return "GPI_LOGIC"
	case TypeLogicArray:
		return "GPI_ARRAY"
	case TypeNetArray:
		return "GPI_NET_ARRAY"
	default:
		return "GPI_UNKNOWN"
	}
}

func (g *FakeGPI) GetType(sig SignalToken) HandleType {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signals[sig].typ
}

func (g *FakeGPI) GetConst(sig SignalToken) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signals[sig].constant
}

func (g *FakeGPI) GetNumElems(sig SignalToken) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signals[sig].numElems
}

func (g *FakeGPI) GetSignalValBinstr(sig SignalToken) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signals[sig].binstr
}

func (g *FakeGPI) SetSignalValInt(sig SignalToken, action Action, value int64) error {
	width := g.GetNumElems(sig)
	bin := fakeIntToBinstr(value, width)
	return g.SetSignalValBinstr(sig, action, bin)
}

// SetSignalValBinstr applies value immediately, but defers any matching
// value-change callback to the pendingEdges queue rather than firing it
// inline: a real simulator's edge notification is a separate callback
// dispatch from whatever write caused it, never a nested call on the same
// stack, and Settle relies on that separation to re-derive the phase
// correctly for each dispatch.
func (g *FakeGPI) SetSignalValBinstr(sig SignalToken, action Action, value string) error {
	if action == ActionRelease {
		return nil
	}
	g.mu.Lock()
	s, ok := g.signals[sig]
	if !ok {
		g.mu.Unlock()
		return &ValueError{Message: "unknown signal handle"}
	}
	prev := s.binstr
	s.binstr = value
	for _, c := range g.vc[sig] {
		if fakeEdgeMatches(c.edge, prev, value) {
			g.pendingEdges = append(g.pendingEdges, c.cb)
		}
	}
	g.mu.Unlock()
	return nil
}

func (g *FakeGPI) GetHandleByName(parent SignalToken, name string) (SignalToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.signals[parent]
	if !ok {
		return 0, &ValueError{Message: "unknown parent handle"}
	}
	tok, ok := p.children[name]
	if !ok {
		return 0, &ValueError{Message: "no such child handle: " + name}
	}
	return tok, nil
}

func (g *FakeGPI) GetHandleByIndex(parent SignalToken, index int) (SignalToken, error) {
	return 0, &TypeError{Message: "GetHandleByIndex is not supported by FakeGPI"}
}

func (g *FakeGPI) Iterate(parent SignalToken, kind IterateKind) ([]SignalToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.signals[parent]
	if !ok {
		return nil, &ValueError{Message: "unknown parent handle"}
	}
	out := make([]SignalToken, 0, len(p.children))
	for _, tok := range p.children {
		out = append(out, tok)
	}
	return out, nil
}

func (g *FakeGPI) GetDefinitionName(sig SignalToken) string {
	return g.GetNameString(sig)
}

func (g *FakeGPI) GetSimulatorProduct() string { return "gocotb FakeGPI" }

func (g *FakeGPI) GetSimulatorVersion() string { return "test" }

func (g *FakeGPI) TimePrecision() (string, bool) { return "ns", true }

func (g *FakeGPI) RequestSimulatorExit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exitRequested = true
}

// ---- driving the simulation ----

// drainExternal invokes and clears every callback queued via
// RegisterExternalCallback, from the calling (driver) goroutine.
func (g *FakeGPI) drainExternal() {
	g.mu.Lock()
	pending := g.external
	g.external = nil
	g.mu.Unlock()
	for _, cb := range pending {
		cb()
	}
}

// Settle drains the ReadWrite/value-change/ReadOnly/NextTimeStep callback
// queues to a fixed point at the current simulation step: a real kernel
// runs this whole delta-cycle sequence (and any delta cycles a value change
// itself provokes) before it ever considers advancing time, which is why
// Settle, not Advance, is what flushes a bring-up's time-0 writes.
func (g *FakeGPI) Settle() {
	for {
		fired := g.drainPhase(&g.readWrite)
		fired = g.drainEdges() || fired
		fired = g.drainPhase(&g.readOnly) || fired
		fired = g.drainPhase(&g.nextStep) || fired
		if !fired {
			return
		}
	}
}

// drainPhase fires every callback currently registered for one phase list
// and clears it first; callbacks fired during this pass may re-register
// (e.g. the write-scheduler's permanent doWrites loop re-priming
// ReadWrite), so the list is snapshotted before any callback runs. Reports
// whether anything fired.
func (g *FakeGPI) drainPhase(list *[]fakeCallback) bool {
	g.mu.Lock()
	due := *list
	*list = nil
	g.mu.Unlock()
	if len(due) == 0 {
		return false
	}
	for _, c := range due {
		c.cb()
	}
	return true
}

// drainEdges fires every value-change callback queued by a SetSignalValBinstr
// call since the last drain, each as its own top-level dispatch (never
// nested inside the write that provoked it).
func (g *FakeGPI) drainEdges() bool {
	g.mu.Lock()
	due := g.pendingEdges
	g.pendingEdges = nil
	g.mu.Unlock()
	if len(due) == 0 {
		return false
	}
	for _, cb := range due {
		cb()
	}
	return true
}

// Advance settles the current step, then jumps to the next scheduled
// timed-callback deadline and fires every callback due there, settling
// again afterwards. Returns false if there was nothing scheduled to
// advance to (the simulation is quiescent).
func (g *FakeGPI) Advance() bool {
	g.drainExternal()
	g.Settle()

	g.mu.Lock()
	if g.timed.Len() == 0 {
		g.mu.Unlock()
		return false
	}
	deadline := g.timed[0].deadline
	g.now = deadline
	var due []func()
	for g.timed.Len() > 0 && g.timed[0].deadline == deadline {
		e := heap.Pop(&g.timed).(fakeTimerEntry)
		due = append(due, e.cb)
	}
	g.mu.Unlock()

	for _, cb := range due {
		cb()
	}

	g.Settle()
	return true
}

// RunUntilQuiescent settles the current step, then calls Advance
// repeatedly until it returns false (no timed callback remains scheduled)
// or maxSteps advances have occurred, whichever comes first; the cap
// guards a test against an infinite periodic-timer loop hanging the test
// run.
func (g *FakeGPI) RunUntilQuiescent(maxSteps int) {
	g.Settle()
	for i := 0; i < maxSteps; i++ {
		if !g.Advance() {
			return
		}
	}
}

// Deposit applies value directly to sig's binstr, queuing any matching
// value-change callbacks for the next Settle — the fake's stand-in for an external/DUT-driven
// signal change outside of the write scheduler (e.g. a clock generator
// implemented by the test itself, or initial stimulus).
func (g *FakeGPI) Deposit(sig SignalToken, value string) {
	_ = g.SetSignalValBinstr(sig, ActionDeposit, value)
}

func fakeEdgeMatches(edge EdgeKind, prev, next string) bool {
	if prev == next {
		return false
	}
	switch edge {
	case EdgeRising:
		return prev == "0" && next == "1"
	case EdgeFalling:
		return prev == "1" && next == "0"
	default:
		return true
	}
}

func fakeIntToBinstr(v int64, width int) string {
	b := make([]byte, width)
	for i := 0; i < width; i++ {
		shift := uint(width - 1 - i)
		if (v>>shift)&1 == 1 {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

var _ GPI = (*FakeGPI)(nil)
