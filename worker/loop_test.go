package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/testutil"
	"github.com/handika51/dispatchcore/transport"
	"github.com/handika51/dispatchcore/worker"
)

func testNames(t *testing.T) shm.Names {
	t.Helper()
	return testutil.UniqueNames(t.Name())
}

// TestLoopProcessesThenHonorsShutdown runs the host and worker side of the
// ring in the same process, driving worker.Loop.Run directly rather than
// through a re-executed subprocess.
func TestLoopProcessesThenHonorsShutdown(t *testing.T) {
	names := testNames(t)

	hostRegion, err := shm.CreateHost(names)
	require.NoError(t, err)
	defer hostRegion.Detach()
	ring := transport.New(hostRegion)

	loop := worker.New(worker.WithNames(names))
	require.Equal(t, worker.StateDetached, loop.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx, worker.TextReverseKernel{}) }()

	req := &shm.ReqSlot{Type: shm.TaskTextProcess, TaskID: 1}
	copy(req.Text[:], "abc")
	req.Len = 3
	require.NoError(t, ring.EnqueueRequest(req))

	respCtx, respCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer respCancel()
	resp, err := ring.DequeueResponse(respCtx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), resp.TaskID)
	require.Equal(t, "cba", string(resp.Text[:resp.Len]))

	require.NoError(t, ring.EnqueueRequest(&shm.ReqSlot{Type: shm.TaskShutdown}))

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker loop did not exit after shutdown sentinel")
	}
	require.Equal(t, worker.StateDetached, loop.State())
}
