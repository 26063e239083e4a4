//go:build linux

package shm

// #cgo LDFLAGS: -lpthread
// #include <fcntl.h>
// #include <semaphore.h>
// #include <stdlib.h>
// #include <errno.h>
// #include <time.h>
import "C"

import (
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"
)

// ErrSemTimeout is returned by posixSem.TimedWait when its deadline elapses
// with the semaphore count still at zero. It is a polling signal, not a
// failure: callers use it to recheck a context between waits on a
// semaphore libc gives no direct way to interrupt.
var ErrSemTimeout = errors.New("shm: semaphore wait timed out")

// posixSem wraps a named POSIX counting semaphore. The Go standard library
// and golang.org/x/sys/unix have no binding for sem_open/sem_post/sem_wait
// (they are libc, not a syscall wrapper can reach directly), so this talks
// to libc through a thin cgo shim around the C handle.
type posixSem struct {
	handle *C.sem_t
}

// createSem creates (or re-creates) a named semaphore with the given
// initial count. Any stale semaphore of the same name is unlinked first so
// a crashed prior host does not leave the new one in an inconsistent state.
func createSem(name string, initial uint32) (*posixSem, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	C.sem_unlink(cName)

	h, err := C.sem_open(cName, C.O_CREAT|C.O_EXCL, C.mode_t(0666), C.uint(initial))
	if h == nil || uintptr(unsafe.Pointer(h)) == ^uintptr(0) {
		return nil, fmt.Errorf("sem_open(%s, O_CREAT): %w", name, err)
	}
	return &posixSem{handle: h}, nil
}

// openSem attaches to an existing named semaphore without creating it.
func openSem(name string) (*posixSem, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	h, err := C.sem_open(cName, 0)
	if h == nil || uintptr(unsafe.Pointer(h)) == ^uintptr(0) {
		return nil, fmt.Errorf("sem_open(%s): %w", name, err)
	}
	return &posixSem{handle: h}, nil
}

// Post increments the semaphore, waking one blocked waiter.
func (s *posixSem) Post() error {
	if _, err := C.sem_post(s.handle); err != nil {
		return fmt.Errorf("sem_post: %w", err)
	}
	return nil
}

// TimedWait blocks until the semaphore count is positive or d elapses,
// returning ErrSemTimeout in the latter case. sem_wait itself cannot be
// interrupted by a Go context, so callers that need to honor cancellation
// poll in a loop of short TimedWait calls instead of parking a goroutine in
// sem_wait for as long as the process runs.
func (s *posixSem) TimedWait(d time.Duration) error {
	var ts C.struct_timespec
	if _, err := C.clock_gettime(C.CLOCK_REALTIME, &ts); err != nil {
		return fmt.Errorf("clock_gettime: %w", err)
	}
	ts.tv_sec += C.long(d / time.Second)
	ts.tv_nsec += C.long(d % time.Second)
	if ts.tv_nsec >= 1e9 {
		ts.tv_nsec -= 1e9
		ts.tv_sec++
	}

	for {
		_, err := C.sem_timedwait(s.handle, &ts)
		if err == nil {
			return nil
		}
		errno, ok := err.(syscall.Errno)
		if !ok {
			return fmt.Errorf("sem_timedwait: %w", err)
		}
		switch errno {
		case syscall.EINTR:
			continue
		case syscall.ETIMEDOUT:
			return ErrSemTimeout
		default:
			return fmt.Errorf("sem_timedwait: %w", err)
		}
	}
}

// Close detaches this process's handle to the semaphore.
func (s *posixSem) Close() error {
	if s.handle == nil {
		return nil
	}
	_, err := C.sem_close(s.handle)
	s.handle = nil
	if err != nil {
		return fmt.Errorf("sem_close: %w", err)
	}
	return nil
}

// unlinkSem removes the named semaphore from the system. Only the host
// calls this, and only at shutdown.
func unlinkSem(name string) error {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	if _, err := C.sem_unlink(cName); err != nil {
		return fmt.Errorf("sem_unlink(%s): %w", name, err)
	}
	return nil
}
