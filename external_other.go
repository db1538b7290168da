//go:build !linux

package gocotb

// noopWaker is the non-Linux schedulerWaker. Off Linux there is no
// eventfd-style primitive for a reactor to epoll, and RunExternal's only
// re-entry path is GPI.RegisterExternalCallback's own dispatch, so Notify
// and Drain do nothing — the mutex-protected queue in external.go carries
// the actual handoff.
type noopWaker struct{}

func newSchedulerWaker(Logger) schedulerWaker { return noopWaker{} }

func (noopWaker) Notify() {}
func (noopWaker) Drain()  {}
