package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/handika51/dispatchcore/errs"
	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/testutil"
	"github.com/handika51/dispatchcore/transport"
)

func newTestRing(t *testing.T) (*transport.Ring, *shm.SharedRegion) {
	t.Helper()

	names := testutil.UniqueNames(t.Name())

	region, err := shm.CreateHost(names)
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Detach() })

	return transport.New(region), region
}

func TestEnqueueDequeueRequestFIFO(t *testing.T) {
	ring, _ := newTestRing(t)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, ring.EnqueueRequest(&shm.ReqSlot{TaskID: i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := uint64(1); i <= 5; i++ {
		req, err := ring.DequeueRequest(ctx)
		require.NoError(t, err)
		require.Equal(t, i, req.TaskID)
	}
}

func TestEnqueueRequestQueueFull(t *testing.T) {
	ring, _ := newTestRing(t)

	for i := 0; i < shm.RingCapacity; i++ {
		require.NoError(t, ring.EnqueueRequest(&shm.ReqSlot{TaskID: uint64(i)}))
	}

	err := ring.EnqueueRequest(&shm.ReqSlot{})
	require.ErrorIs(t, err, errs.ErrQueueFull)
}

func TestDequeueRequestContextCancel(t *testing.T) {
	ring, _ := newTestRing(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ring.DequeueRequest(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResponseRoundTrip(t *testing.T) {
	ring, _ := newTestRing(t)

	require.NoError(t, ring.EnqueueResponse(&shm.RespSlot{TaskID: 42, Status: 0}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := ring.DequeueResponse(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), resp.TaskID)
}
