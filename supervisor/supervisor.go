// Package supervisor launches, tracks, and tears down worker processes.
//
// Go cannot safely call a raw fork() from a multi-threaded process (the
// runtime itself is multi-threaded from the moment it starts), so spawning
// a worker is expressed as os/exec.Command(execPath, "--worker") plus
// Process.Pid tracking and Cmd.Wait() reaping: the same spawn/track/reap
// shape a fork/execl/waitpid sequence would give, minus the unsafe raw
// syscall.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/handika51/dispatchcore/correlator"
	"github.com/handika51/dispatchcore/errs"
	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/transport"
)

// Record is a tracked worker process. waitErr is populated exactly once,
// by the reaper goroutine started alongside the process in Start, and
// done is closed when it lands. Stop and Watch both observe it instead
// of each calling cmd.Wait themselves, since exec.Cmd.Wait must not be
// called more than once.
type Record struct {
	Pid int
	cmd *exec.Cmd

	done    chan struct{}
	waitErr error
}

// Supervisor owns the SharedRegion's host side and every worker process
// spawned from it.
type Supervisor struct {
	names    Names
	log      *zap.SugaredLogger
	crashLog *CrashLog

	mu      sync.Mutex
	region  *shm.SharedRegion
	ring    *transport.Ring
	workers []*Record
}

// Names is an alias kept local so callers configure object names without
// importing shm directly for this one type.
type Names = shm.Names

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLog attaches a logger; the default is a no-op logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithNames overrides the default shared-object names.
func WithNames(names Names) Option {
	return func(s *Supervisor) { s.names = names }
}

// WithCrashLog attaches a CrashLog that Watch records every detected
// crash into; the default is a log sized by DefaultCrashLogSize.
func WithCrashLog(l *CrashLog) Option {
	return func(s *Supervisor) { s.crashLog = l }
}

// New builds a Supervisor. It does not create the shared region until
// Start is called.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		names:    shm.DefaultNames(),
		log:      zap.NewNop().Sugar(),
		crashLog: NewCrashLog(DefaultCrashLogSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ring returns the transport this supervisor created in Start. Valid only
// after a successful Start.
func (s *Supervisor) Ring() *transport.Ring {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring
}

// Start creates the SharedRegion and spawns n worker processes, each
// re-executing execPath with a "--worker" argument. 0 <= n <= MaxWorkers.
// A fork/spawn failure for one child is logged and counted; Start proceeds
// with whichever workers did start.
func (s *Supervisor) Start(n int, execPath string) error {
	if n < 0 || n > shm.MaxWorkers {
		return fmt.Errorf("supervisor: worker count %d out of range [0, %d]", n, shm.MaxWorkers)
	}

	region, err := shm.CreateHost(s.names)
	if err != nil {
		return fmt.Errorf("supervisor start: %w", err)
	}

	s.mu.Lock()
	s.region = region
	s.ring = transport.New(region)
	s.mu.Unlock()

	var spawnFailures int
	for i := 0; i < n; i++ {
		cmd := exec.Command(execPath, "--worker")
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Start(); err != nil {
			spawnFailures++
			s.log.Errorw("failed to spawn worker", "index", i, "error", err)
			continue
		}

		rec := &Record{Pid: cmd.Process.Pid, cmd: cmd, done: make(chan struct{})}
		go func() {
			rec.waitErr = cmd.Wait()
			close(rec.done)
		}()

		s.mu.Lock()
		s.workers = append(s.workers, rec)
		s.mu.Unlock()

		s.log.Infow("spawned worker", "index", i, "pid", cmd.Process.Pid)
	}

	if spawnFailures > 0 {
		s.log.Warnw("some workers failed to spawn", "failures", spawnFailures, "requested", n)
	}

	return nil
}

// Stop broadcasts one shutdown request per tracked worker, blocks until
// every worker has exited, and detaches the shared region. Idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	region := s.region
	s.mu.Unlock()

	if region == nil {
		return nil
	}

	for range workers {
		if err := s.ShutdownOne(); err != nil {
			s.log.Warnw("failed to enqueue shutdown sentinel", "error", err)
		}
	}

	for _, w := range workers {
		<-w.done
		if w.waitErr != nil {
			s.log.Warnw("worker exited with error", "pid", w.Pid, "error", w.waitErr)
		}
	}

	return region.Detach()
}

// ShutdownOne enqueues a single TaskShutdown sentinel. Used both by Stop
// (once per worker) and directly by tests/graceful contraction.
func (s *Supervisor) ShutdownOne() error {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()

	if ring == nil {
		return fmt.Errorf("supervisor: not started")
	}
	return ring.EnqueueRequest(&shm.ReqSlot{Type: shm.TaskShutdown})
}

// Watch runs until ctx is canceled or every tracked child has exited,
// waiting on each child's exit and failing every task pending on corr when
// one exits with an error (nonzero status or killed by a signal); a clean
// exit fails nothing. This process tracks no
// per-task worker affinity, so a crash fails every outstanding promise
// rather than only the ones the dead worker owned; callers are expected to
// retry. A dead worker is not replaced automatically; dynamic pool scaling
// is out of scope.
func (s *Supervisor) Watch(ctx context.Context, corr *correlator.Correlator) error {
	g, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	workers := append([]*Record(nil), s.workers...)
	s.mu.Unlock()

	for _, w := range workers {
		w := w
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-w.done:
				if w.waitErr != nil {
					s.log.Errorw("worker crashed", "pid", w.Pid, "error", w.waitErr)
					s.crashLog.Record(CrashEvent{Pid: w.Pid, At: time.Now(), Reason: w.waitErr.Error()})
					corr.FailAll(fmt.Errorf("pid %d: %w: %v", w.Pid, errs.ErrWorkerCrash, w.waitErr))
				}
				return nil
			}
		})
	}

	return g.Wait()
}

// Pids returns the pids of every currently tracked worker. Test-only
// introspection.
func (s *Supervisor) Pids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make([]int, len(s.workers))
	for i, w := range s.workers {
		pids[i] = w.Pid
	}
	return pids
}

// CrashLog returns the supervisor's crash event log.
func (s *Supervisor) CrashLog() *CrashLog {
	return s.crashLog
}
