//go:build linux

package gocotb

import "golang.org/x/sys/unix"

// externalWakeFD is an eventfd-backed, thread-safe notifier: any goroutine
// may call Notify, and whatever OS thread the simulator uses to pump its
// own event sources polls FD() alongside them, draining and dispatching on
// wake-up. This is RunExternal's schedulerWaker on Linux, and also the
// primitive a real Linux GPI binding's own reactor can epoll directly
// instead of relying solely on GPI.RegisterExternalCallback's dispatch.
type externalWakeFD struct {
	fd int
}

// newSchedulerWaker returns the Linux eventfd-backed schedulerWaker used by
// RunExternal's cross-goroutine handoff. Falls back to a no-op waker (the
// mutex-protected queue in external.go still delivers correctly; only the
// epoll-friendly fd signal is lost) if the kernel refuses the eventfd call.
func newSchedulerWaker(logger Logger) schedulerWaker {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		logger.Log(NewLogEntry(LevelError, "external", "eventfd create failed").Err(err).Build())
		return linuxNoopWaker{}
	}
	return &externalWakeFD{fd: fd}
}

// linuxNoopWaker is the eventfd-creation-failed fallback. Distinct from the
// non-Linux noopWaker in external_other.go (that file is excluded from a
// Linux build) but behaviorally identical: the mutex-protected queue in
// external.go carries the handoff either way.
type linuxNoopWaker struct{}

func (linuxNoopWaker) Notify() {}
func (linuxNoopWaker) Drain()  {}

// FD returns the underlying eventfd, suitable for epoll_ctl/select
// alongside whatever fds the simulator's own reactor already watches.
func (w *externalWakeFD) FD() int { return w.fd }

// Notify increments the eventfd counter, waking up whichever thread has it
// registered with epoll/select. Safe to call from any goroutine.
func (w *externalWakeFD) Notify() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

// Drain resets the eventfd counter to zero after a wake-up so the fd
// doesn't immediately re-fire.
func (w *externalWakeFD) Drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the eventfd.
func (w *externalWakeFD) Close() error {
	return unix.Close(w.fd)
}
