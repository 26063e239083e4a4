package host_test

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/handika51/dispatchcore/errs"
	"github.com/handika51/dispatchcore/host"
	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/testutil"
	"github.com/handika51/dispatchcore/worker"
)

// TestMain turns this same test binary into a worker process when envWorker
// is set to "1", and the other three env vars below carry shm.Names across
// the re-exec boundary: the same self-re-exec trick os/exec's own tests use
// to get a real child process without building a second binary.
const (
	envWorker  = "DISPATCHCORE_TEST_WORKER"
	envRegion  = "DISPATCHCORE_TEST_REGION"
	envSemReq  = "DISPATCHCORE_TEST_SEMREQ"
	envSemResp = "DISPATCHCORE_TEST_SEMRESP"
)

func TestMain(m *testing.M) {
	if os.Getenv(envWorker) == "1" {
		runHelperWorker()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runHelperWorker() {
	names := shm.Names{
		Region:  os.Getenv(envRegion),
		SemReq:  os.Getenv(envSemReq),
		SemResp: os.Getenv(envSemResp),
	}
	loop := worker.New(worker.WithNames(names))
	if err := loop.Run(context.Background(), helperKernel{}); err != nil {
		fmt.Fprintf(os.Stderr, "helper worker: %v\n", err)
		os.Exit(1)
	}
}

type helperKernel struct{}

func (helperKernel) Text(in []byte) ([]byte, uint32) {
	return worker.TextReverseKernel{}.Text(in)
}

func (helperKernel) Audio(sampleRate uint32, samples []float32) ([]float32, uint32) {
	return worker.MockMelKernel{}.Audio(sampleRate, samples)
}

func startHost(t *testing.T, workers int) (*host.Host, context.Context, context.CancelFunc, chan error) {
	t.Helper()

	names := testutil.UniqueNames(t.Name())
	cfg := host.Config{
		Workers:  workers,
		ExecPath: os.Args[0],
		Names:    names,
	}
	h := host.New(cfg, host.WithLog(zaptest.NewLogger(t).Sugar()))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		os.Setenv(envWorker, "1")
		os.Setenv(envRegion, names.Region)
		os.Setenv(envSemReq, names.SemReq)
		os.Setenv(envSemResp, names.SemResp)
		done <- h.Run(ctx)
	}()

	// Give the workers a moment to attach before submitting.
	time.Sleep(200 * time.Millisecond)

	return h, ctx, cancel, done
}

func TestEndToEndTextRoundTrip(t *testing.T) {
	h, _, cancel, done := startHost(t, 2)
	defer func() {
		cancel()
		<-done
	}()

	req := &shm.ReqSlot{Type: shm.TaskTextProcess}
	msg := "hello dispatch core"
	copy(req.Text[:], msg)
	req.Len = uint32(len(msg))

	future, err := h.Submit(context.Background(), req)
	require.NoError(t, err)

	resp, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Status)

	got := string(resp.Text[:resp.Len])
	want := "eroc hctapsid olleh"
	require.Equal(t, want, got)
}

func TestEndToEndAudioRoundTrip(t *testing.T) {
	h, _, cancel, done := startHost(t, 1)
	defer func() {
		cancel()
		<-done
	}()

	req := &shm.ReqSlot{Type: shm.TaskAudioProcess}
	req.Audio.SampleRate = 16000
	req.Audio.NumSamples = 401
	for i := range req.Audio.NumSamples {
		req.Audio.Data[i] = 1.0
	}

	future, err := h.Submit(context.Background(), req)
	require.NoError(t, err)

	resp, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Status)
	require.Equal(t, uint32(200), resp.Len)
	for i := range resp.Len {
		require.Equal(t, float32(0.5), resp.Mel[i])
	}
}

// TestWorkerCrashFailsOutstandingAndSurvivorsKeepDraining kills one real
// worker subprocess while it is idle and checks the crash-resilience path
// end to end: Supervisor.Watch notices the dead pid and calls
// Correlator.FailAll, the outstanding Future surfaces errs.ErrWorkerCrash,
// the surviving worker keeps draining new submissions, and Stop (via
// cancel) still completes despite the dead child.
func TestWorkerCrashFailsOutstandingAndSurvivorsKeepDraining(t *testing.T) {
	h, _, cancel, done := startHost(t, 2)
	defer func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("host did not shut down in time")
		}
	}()

	pids := h.WorkerPids()
	require.Len(t, pids, 2)
	victim, survivor := pids[0], pids[1]

	// Stop both workers so the request below is guaranteed to still be
	// sitting unconsumed when the victim is killed: nothing but
	// Watch/FailAll can resolve it while the survivor stays frozen.
	require.NoError(t, syscall.Kill(victim, syscall.SIGSTOP))
	require.NoError(t, syscall.Kill(survivor, syscall.SIGSTOP))
	time.Sleep(50 * time.Millisecond)

	req := &shm.ReqSlot{Type: shm.TaskTextProcess}
	copy(req.Text[:], "x")
	req.Len = 1
	future, err := h.Submit(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(victim, syscall.SIGKILL))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	resp, err := future.Wait(waitCtx)
	require.Nil(t, resp)
	require.ErrorIs(t, err, errs.ErrWorkerCrash)

	// The survivor resumes and keeps draining the queue.
	require.NoError(t, syscall.Kill(survivor, syscall.SIGCONT))

	req2 := &shm.ReqSlot{Type: shm.TaskTextProcess}
	copy(req2.Text[:], "y")
	req2.Len = 1
	future2, err := h.Submit(context.Background(), req2)
	require.NoError(t, err)

	resp2, err := future2.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp2.Status)
}

func TestGracefulShutdown(t *testing.T) {
	h, _, cancel, done := startHost(t, 2)

	req := &shm.ReqSlot{Type: shm.TaskTextProcess}
	copy(req.Text[:], "x")
	req.Len = 1

	future, err := h.Submit(context.Background(), req)
	require.NoError(t, err)
	_, err = future.Wait(context.Background())
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not shut down in time")
	}
}
