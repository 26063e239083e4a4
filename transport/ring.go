// Package transport implements the MPMC request ring and MPSC response
// ring discipline described by the core: many host producer threads and
// many worker-process consumers share the request ring; many workers and
// one host drain goroutine share the response ring. Correlation of
// completions to submissions is by task id, handled one layer up in
// package correlator; this package only moves slots.
package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/handika51/dispatchcore/errs"
	"github.com/handika51/dispatchcore/shm"
)

// semWaitPoll bounds how long a single waitSem poll blocks before
// rechecking ctx. Short enough that shutdown feels immediate, long enough
// that an idle ring does not spin.
const semWaitPoll = 50 * time.Millisecond

// Ring moves ReqSlot/RespSlot values between a host and its workers over a
// SharedRegion. A single Ring is safe for concurrent use by many
// goroutines and many processes, since all state it touches lives in the
// shared memory region and is manipulated only through atomics and the
// two named semaphores.
type Ring struct {
	region *shm.SharedRegion
}

// New wraps an already-created-or-attached SharedRegion.
func New(region *shm.SharedRegion) *Ring {
	return &Ring{region: region}
}

// EnqueueRequest claims a write slot with a compare-and-swap loop on the
// write index, avoiding the races a fetch-add-then-roll-back scheme hits
// when two producers overflow the ring at the same moment, copies the
// slot in, and posts the request semaphore exactly once per successful
// enqueue.
func (r *Ring) EnqueueRequest(req *shm.ReqSlot) error {
	idx := &r.region.Region().Indices

	for {
		w := idx.ReqWriteIdx.Load()
		readIdx := idx.ReqReadIdx.Load()
		if w-readIdx >= shm.RingCapacity {
			return errs.ErrQueueFull
		}
		if idx.ReqWriteIdx.CompareAndSwap(w, w+1) {
			slot := shm.SlotIndex(w)
			r.region.Region().ReqRing[slot] = *req
			r.region.Region().ReqReady[slot].Store(1)
			if err := r.region.SemReq().Post(); err != nil {
				return fmt.Errorf("enqueue request: %w", err)
			}
			return nil
		}
	}
}

// DequeueRequest blocks on the request semaphore, then claims a read slot
// and copies it out. ctx cancellation stops a worker that is waiting with
// nothing queued; it is a shutdown convenience, not a per-task timeout.
// There is no submission-level cancellation.
//
// The semaphore count only promises that some producer finished claiming a
// slot, not that the one this call is assigned has finished writing it, so
// the read spins on that slot's readiness flag before touching it.
func (r *Ring) DequeueRequest(ctx context.Context) (*shm.ReqSlot, error) {
	if err := waitSem(ctx, r.region.SemReq()); err != nil {
		return nil, err
	}

	idx := &r.region.Region().Indices
	readIdx := idx.ReqReadIdx.Add(1) - 1
	slot := shm.SlotIndex(readIdx)

	ready := &r.region.Region().ReqReady[slot]
	for ready.Load() == 0 {
		runtime.Gosched()
	}
	ready.Store(0)

	req := r.region.Region().ReqRing[slot]
	return &req, nil
}

// EnqueueResponse is called by a worker process. Overflow is not checked:
// the host can never owe more responses than outstanding requests, and
// outstanding requests are bounded by RingCapacity.
func (r *Ring) EnqueueResponse(resp *shm.RespSlot) error {
	idx := &r.region.Region().Indices
	w := idx.RespWriteIdx.Add(1) - 1
	slot := shm.SlotIndex(w)
	r.region.Region().RespRing[slot] = *resp
	r.region.Region().RespReady[slot].Store(1)
	if err := r.region.SemResp().Post(); err != nil {
		return fmt.Errorf("enqueue response: %w", err)
	}
	return nil
}

// DequeueResponse is called by the single host drain goroutine. It is the
// only reader of the response ring, so the read index itself needs no CAS,
// but the ring is still fed by many worker producers claiming write slots
// out of completion order, so the same readiness spin as DequeueRequest
// applies here too.
func (r *Ring) DequeueResponse(ctx context.Context) (*shm.RespSlot, error) {
	if err := waitSem(ctx, r.region.SemResp()); err != nil {
		return nil, err
	}

	idx := &r.region.Region().Indices
	readIdx := idx.RespReadIdx.Load()
	slot := shm.SlotIndex(readIdx)

	ready := &r.region.Region().RespReady[slot]
	for ready.Load() == 0 {
		runtime.Gosched()
	}
	ready.Store(0)

	resp := r.region.Region().RespRing[slot]
	idx.RespReadIdx.Store(readIdx + 1)
	return &resp, nil
}

type semaphore interface {
	Post() error
	TimedWait(d time.Duration) error
}

// waitSem polls sem in short TimedWait slices so a canceled ctx is noticed
// promptly even though the underlying POSIX semaphore call is not itself
// interruptible by a Go context. Polling instead of parking a goroutine in
// an indefinite sem.Wait means no goroutine, and no OS thread pinned under
// it, survives past the caller giving up: a sem_timedwait timeout simply
// loops back to check ctx, and nothing is left blocked in libc if ctx ends
// first.
func waitSem(ctx context.Context, sem semaphore) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := sem.TimedWait(semWaitPoll)
		if err == nil {
			return nil
		}
		if errors.Is(err, shm.ErrSemTimeout) {
			continue
		}
		return err
	}
}
