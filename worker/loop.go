// Package worker turns a re-executed worker process into a consumer of
// the request ring: attach, loop on dequeue-dispatch-respond, stop on the
// shutdown sentinel.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/transport"
)

// State is one point in the worker's lifecycle. Transitions only happen on
// Run entry, the first successful dequeue, shutdown receipt, and return.
type State int

const (
	StateDetached State = iota
	StateAttached
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Loop is the worker-side event loop.
type Loop struct {
	names shm.Names
	log   *zap.SugaredLogger

	state State
}

// Option configures a Loop.
type Option func(*Loop)

// WithLog attaches a logger; the default is a no-op logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(l *Loop) { l.log = log }
}

// WithNames overrides the default shared-object names, matching whatever
// the host that spawned this process was configured with.
func WithNames(names shm.Names) Option {
	return func(l *Loop) { l.names = names }
}

// New builds a Loop in the Detached state.
func New(opts ...Option) *Loop {
	l := &Loop{
		names: shm.DefaultNames(),
		log:   zap.NewNop().Sugar(),
		state: StateDetached,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State { return l.state }

// Run attaches to the shared region, dispatches requests to kernel until a
// SHUTDOWN sentinel is dequeued or ctx is canceled, then detaches. It
// always returns to StateDetached before returning, success or not.
func (l *Loop) Run(ctx context.Context, kernel Kernel) error {
	region, err := shm.AttachWorker(l.names)
	if err != nil {
		return fmt.Errorf("worker attach: %w", err)
	}
	l.state = StateAttached
	defer func() {
		l.state = StateDetached
		if derr := region.Detach(); derr != nil {
			l.log.Warnw("worker detach failed", "error", derr)
		}
	}()

	ring := transport.New(region)

	for {
		req, err := ring.DequeueRequest(ctx)
		if err != nil {
			return fmt.Errorf("worker dequeue: %w", err)
		}
		l.state = StateRunning

		if req.Type == shm.TaskShutdown {
			l.state = StateDraining
			l.log.Infow("worker received shutdown sentinel")
			return nil
		}

		resp := l.process(req, kernel)
		if err := ring.EnqueueResponse(resp); err != nil {
			l.log.Errorw("worker failed to enqueue response", "task_id", req.TaskID, "error", err)
		}
	}
}

func (l *Loop) process(req *shm.ReqSlot, kernel Kernel) *shm.RespSlot {
	resp := &shm.RespSlot{
		TaskID: req.TaskID,
		Type:   req.Type,
	}

	start := time.Now()
	switch req.Type {
	case shm.TaskTextProcess:
		out, status := kernel.Text(req.Text[:req.Len])
		resp.Status = status
		resp.Len = uint32(copy(resp.Text[:], out))
	case shm.TaskAudioProcess:
		mel, status := kernel.Audio(req.Audio.SampleRate, req.Audio.Data[:req.Audio.NumSamples])
		resp.Status = status
		resp.Len = uint32(copy(resp.Mel[:], mel))
	default:
		resp.Status = 400
	}
	resp.ProcessingNs = uint64(time.Since(start).Nanoseconds())

	return resp
}
