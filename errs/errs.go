// Package errs defines the sentinel error kinds surfaced across the
// dispatch core, per the core's error handling design: transport and
// lifecycle failures are returned as values, never panics.
package errs

import "errors"

var (
	// ErrResourceInit is returned when the shared-memory region or either
	// named semaphore cannot be created or attached. Fatal at startup.
	ErrResourceInit = errors.New("dispatchcore: resource init failed")

	// ErrQueueFull is returned synchronously to a submitter when the
	// request ring has no free slot.
	ErrQueueFull = errors.New("dispatchcore: request queue full")

	// ErrKernelFailure marks a response whose worker kernel reported a
	// nonzero status code.
	ErrKernelFailure = errors.New("dispatchcore: kernel reported failure")

	// ErrWorkerCrash is surfaced to every caller with a pending task when
	// a worker process exits with an error. The core does not record
	// which worker took which task, so the dead worker's own tasks are not
	// singled out.
	ErrWorkerCrash = errors.New("dispatchcore: worker crashed before responding")

	// ErrOrphanResponse marks a response that arrived with no matching
	// pending task. Never fatal, always logged.
	ErrOrphanResponse = errors.New("dispatchcore: orphan response")

	// ErrMagicMismatch is returned when an attached region's magic number
	// does not match this binary's compiled slot layout.
	ErrMagicMismatch = errors.New("dispatchcore: shared region magic mismatch")

	// ErrCanceled completes a Future whose task was removed by
	// Correlator.Cancel; Future.Wait then returns it. A Wait whose own
	// context ends first returns that context's error instead.
	ErrCanceled = errors.New("dispatchcore: submission canceled")
)
