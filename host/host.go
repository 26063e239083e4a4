// Package host composes SharedRegion, RingTransport, WorkerSupervisor, and
// TaskCorrelator into the single façade an (out-of-scope) HTTP front-end
// submits work through. Its Run method fans out long-running goroutines
// with errgroup, waits for the context to end, then tears down in reverse
// order.
package host

import (
	"context"
	"fmt"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	xsemaphore "golang.org/x/sync/semaphore"

	"github.com/handika51/dispatchcore/correlator"
	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/supervisor"
)

// Host is the host-process façade over the dispatch core.
type Host struct {
	cfg Config
	log *zap.SugaredLogger

	// ready is closed once Run has finished initializing sup and corr (or
	// failed trying to). Submit receives from it before touching either
	// field, so a Submit racing a just-started Run neither panics on a nil
	// corr nor reads sup/corr without the happens-before edge a channel
	// close/receive gives those writes.
	ready    chan struct{}
	startErr error

	sup  *supervisor.Supervisor
	corr *correlator.Correlator

	// inflight bounds concurrent Submit callers to the ring's capacity,
	// giving backpressure before a submitter even attempts
	// EnqueueRequest rather than after. It complements the cross-process
	// request semaphore without replacing it.
	inflight *xsemaphore.Weighted
}

// Config configures a Host.
type Config struct {
	Workers         int
	ExecPath        string
	Names           shm.Names
	WatchdogLogSize datasize.ByteSize
}

// Option configures a Host.
type Option func(*Host)

// WithLog attaches a logger; the default is a no-op logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(h *Host) { h.log = log }
}

// New builds a Host. It does not start workers until Run is called.
func New(cfg Config, opts ...Option) *Host {
	if cfg.Names == (shm.Names{}) {
		cfg.Names = shm.DefaultNames()
	}

	h := &Host{
		cfg:      cfg,
		log:      zap.NewNop().Sugar(),
		ready:    make(chan struct{}),
		inflight: xsemaphore.NewWeighted(int64(shm.RingCapacity)),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run starts the worker pool, the response drain goroutine, and the
// crash-watchdog goroutine, then blocks until ctx is canceled, at which
// point it stops every worker and detaches the shared region.
func (h *Host) Run(ctx context.Context) error {
	logSize := h.cfg.WatchdogLogSize
	if logSize == 0 {
		logSize = supervisor.DefaultCrashLogSize
	}

	h.sup = supervisor.New(
		supervisor.WithLog(h.log),
		supervisor.WithNames(h.cfg.Names),
		supervisor.WithCrashLog(supervisor.NewCrashLog(logSize)),
	)
	if err := h.sup.Start(h.cfg.Workers, h.cfg.ExecPath); err != nil {
		h.startErr = fmt.Errorf("host run: %w", err)
		close(h.ready)
		return h.startErr
	}

	h.corr = correlator.New(h.sup.Ring(), correlator.WithLog(h.log))
	close(h.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := h.corr.DrainLoop(gctx)
		if gctx.Err() != nil {
			return nil // canceled, not a failure
		}
		return err
	})
	g.Go(func() error {
		return h.sup.Watch(gctx, h.corr)
	})

	// gctx ends either because ctx was canceled by the caller or because
	// one of the goroutines above returned a real error (errgroup cancels
	// gctx on the first such error); either way it is time to tear down.
	<-gctx.Done()

	if err := h.sup.Stop(); err != nil {
		h.log.Errorw("host stop failed", "error", err)
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// WorkerPids returns the pids of every worker process currently tracked by
// the supervisor. Test-only introspection, valid only once Run has started
// the worker pool.
func (h *Host) WorkerPids() []int {
	return h.sup.Pids()
}

// Submit hands a request to the TaskCorrelator, blocking only long enough
// to acquire an in-process backpressure slot and enqueue the request; the
// returned Future completes independently when the matching response
// drains.
func (h *Host) Submit(ctx context.Context, req *shm.ReqSlot) (*correlator.Future, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.startErr != nil {
		return nil, h.startErr
	}

	if err := h.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	defer h.inflight.Release(1)

	return h.corr.Submit(req)
}
