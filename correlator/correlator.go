// Package correlator assigns task ids, holds promises for submitted
// requests, and fulfills them as responses drain off the response ring.
// It is the only place in the core that knows how to turn an
// asynchronous, possibly-out-of-order response stream back into
// synchronous per-caller completions.
package correlator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/handika51/dispatchcore/errs"
	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/transport"
)

// Future completes exactly once, with either a response or an error.
type Future struct {
	done chan struct{}
	resp *shm.RespSlot
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) fulfill(resp *shm.RespSlot, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Wait blocks until the future completes or ctx is done, whichever comes
// first. A context cancellation here does not retract the submission;
// there is no submission-level cancellation. It only stops this
// particular caller from waiting on it.
func (f *Future) Wait(ctx context.Context) (*shm.RespSlot, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Correlator owns the pending-task map and the drain goroutine that feeds
// it. A single Correlator is safe for concurrent Submit calls from many
// goroutines.
type Correlator struct {
	ring    *transport.Ring
	log     *zap.SugaredLogger
	counter atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*Future
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLog attaches a logger; the default is a no-op logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(c *Correlator) { c.log = log }
}

// New builds a Correlator over the given ring. Task ids start at 1 and
// increase monotonically for the lifetime of the Correlator.
func New(ring *transport.Ring, opts ...Option) *Correlator {
	c := &Correlator{
		ring:    ring,
		log:     zap.NewNop().Sugar(),
		pending: make(map[uint64]*Future),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit assigns a task id, stamps the enqueue timestamp, registers a
// pending Future, and enqueues the request. On ErrQueueFull the pending
// entry is erased before the error is surfaced to the caller: no partially
// registered task ever lingers in the map.
func (c *Correlator) Submit(req *shm.ReqSlot) (*Future, error) {
	taskID := c.counter.Add(1)
	req.TaskID = taskID
	req.EnqueueTSNs = uint64(time.Now().UnixNano())

	future := newFuture()

	c.mu.Lock()
	c.pending[taskID] = future
	c.mu.Unlock()

	if err := c.ring.EnqueueRequest(req); err != nil {
		c.mu.Lock()
		delete(c.pending, taskID)
		c.mu.Unlock()
		return nil, fmt.Errorf("submit task %d: %w", taskID, err)
	}

	return future, nil
}

// Cancel erases a pending task's map entry without waiting for a
// response. It is best-effort: if the response has already arrived and is
// queued for fulfillment, the caller may still observe it completing
// concurrently. A response that arrives after Cancel has removed the
// entry becomes an orphan and is discarded by DrainLoop.
func (c *Correlator) Cancel(taskID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	future, ok := c.pending[taskID]
	if !ok {
		return false
	}
	delete(c.pending, taskID)
	future.fulfill(nil, errs.ErrCanceled)
	return true
}

// DrainLoop repeatedly dequeues responses and fulfills their matching
// pending Future. It runs until ctx is canceled. Fulfillment happens
// outside the map lock so a caller's continuation code can never block a
// producer.
func (c *Correlator) DrainLoop(ctx context.Context) error {
	for {
		resp, err := c.ring.DequeueResponse(ctx)
		if err != nil {
			return fmt.Errorf("drain loop: %w", err)
		}

		c.mu.Lock()
		future, ok := c.pending[resp.TaskID]
		if ok {
			delete(c.pending, resp.TaskID)
		}
		c.mu.Unlock()

		if !ok {
			c.log.Warnw("discarding orphan response", "task_id", resp.TaskID, "error", errs.ErrOrphanResponse)
			continue
		}

		if resp.Status != 0 {
			future.fulfill(resp, fmt.Errorf("task %d: %w (status %d)", resp.TaskID, errs.ErrKernelFailure, resp.Status))
		} else {
			future.fulfill(resp, nil)
		}
	}
}

// FailAll fulfills every currently pending task with err and clears the
// map. Used by the supervisor's crash-recovery path: rather than tracking
// which worker owned which in-flight task (the core does not record
// per-task worker affinity), a detected crash fails every outstanding
// promise and lets callers retry.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*Future)
	c.mu.Unlock()

	for _, future := range pending {
		future.fulfill(nil, err)
	}
}

// Pending returns the number of tasks currently awaiting a response.
// Test-only introspection.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
