package shm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/handika51/dispatchcore/errs"
	"github.com/handika51/dispatchcore/shm"
	"github.com/handika51/dispatchcore/testutil"
)

func testNames(t *testing.T) shm.Names {
	t.Helper()
	return testutil.UniqueNames(t.Name())
}

func TestCreateHostThenAttachWorker(t *testing.T) {
	names := testNames(t)

	host, err := shm.CreateHost(names)
	require.NoError(t, err)
	defer host.Detach()

	require.Equal(t, shm.RegionMagic, host.Region().Magic)

	worker, err := shm.AttachWorker(names)
	require.NoError(t, err)
	defer worker.Detach()

	require.Equal(t, shm.RegionMagic, worker.Region().Magic)
}

func TestAttachWorkerRejectsMismatchedMagic(t *testing.T) {
	names := testNames(t)

	host, err := shm.CreateHost(names)
	require.NoError(t, err)
	defer host.Detach()

	host.Region().Magic = 0xDEADBEEF

	_, err = shm.AttachWorker(names)
	require.ErrorIs(t, err, errs.ErrMagicMismatch)
}

func TestDetachIsIdempotent(t *testing.T) {
	names := testNames(t)

	host, err := shm.CreateHost(names)
	require.NoError(t, err)

	require.NoError(t, host.Detach())
	require.NoError(t, host.Detach())
}

func TestCreateHostRecoversFromStalePriorInstance(t *testing.T) {
	names := testNames(t)

	first, err := shm.CreateHost(names)
	require.NoError(t, err)
	// Simulate a crashed prior host: the shared-memory object and
	// semaphores are left behind, never detached.

	second, err := shm.CreateHost(names)
	require.NoError(t, err)
	defer second.Detach()

	require.Equal(t, shm.RegionMagic, second.Region().Magic)
	_ = first
}
