package shm

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/handika51/dispatchcore/errs"
)

// Names groups the three POSIX object names a Region is built from. The
// zero value holds empty names and is not usable as is (host.New replaces
// it with DefaultNames()); a non-default value lets two hosts run on one
// machine without their shared-memory and semaphore names colliding.
type Names struct {
	Region string
	SemReq string
	SemResp string
}

// DefaultNames returns the spec's default object names.
func DefaultNames() Names {
	return Names{Region: RegionName, SemReq: SemReqName, SemResp: SemRespName}
}

// SharedRegion wraps a mapped Region and the semaphores that guard its two
// rings, plus enough bookkeeping to detach or unlink cleanly.
type SharedRegion struct {
	names    Names
	isHost   bool
	detached bool

	fd     int
	data   []byte
	region *Region

	semReq  *posixSem
	semResp *posixSem
}

func shmPath(name string) string {
	// POSIX shm_open(name, ...) on Linux is equivalent to opening
	// /dev/shm/<name-without-leading-slash>; using that path directly
	// avoids a second cgo surface purely for shm_open/shm_unlink, since
	// golang.org/x/sys/unix already gives a pure-Go open/ftruncate/mmap.
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return "/dev/shm/" + name
}

// CreateHost creates the shared-memory object and both semaphores fresh,
// force-unlinking any stale instance left behind by a crashed prior host,
// and placement-initializes the region's atomic indices and magic number.
// Only the host ever calls CreateHost.
func CreateHost(names Names) (*SharedRegion, error) {
	path := shmPath(names.Region)

	// Best-effort cleanup of a crashed prior run.
	_ = unix.Unlink(path)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: shm_open %s: %v", errs.ErrResourceInit, names.Region, err)
	}

	size := int(unsafe.Sizeof(Region{}))
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: ftruncate %s to %d: %v", errs.ErrResourceInit, names.Region, size, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %v", errs.ErrResourceInit, names.Region, err)
	}

	region := (*Region)(unsafe.Pointer(&data[0]))
	// Placement-construct: zero the indices and stamp the magic. Workers
	// that attach afterward must never repeat this step.
	region.Magic = RegionMagic
	region.Indices.ReqWriteIdx.Store(0)
	region.Indices.ReqReadIdx.Store(0)
	region.Indices.RespWriteIdx.Store(0)
	region.Indices.RespReadIdx.Store(0)

	semReq, err := createSem(names.SemReq, 0)
	if err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", errs.ErrResourceInit, err)
	}
	semResp, err := createSem(names.SemResp, 0)
	if err != nil {
		semReq.Close()
		unlinkSem(names.SemReq)
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", errs.ErrResourceInit, err)
	}

	return &SharedRegion{
		names:   names,
		isHost:  true,
		fd:      fd,
		data:    data,
		region:  region,
		semReq:  semReq,
		semResp: semResp,
	}, nil
}

// AttachWorker opens an existing region and both semaphores without
// touching the atomic indices or the magic number.
func AttachWorker(names Names) (*SharedRegion, error) {
	path := shmPath(names.Region)

	fd, err := unix.Open(path, unix.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: shm_open %s: %v", errs.ErrResourceInit, names.Region, err)
	}

	size := int(unsafe.Sizeof(Region{}))
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %v", errs.ErrResourceInit, names.Region, err)
	}

	region := (*Region)(unsafe.Pointer(&data[0]))
	if region.Magic != RegionMagic {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("%w: region %s has magic %#x, want %#x",
			errs.ErrMagicMismatch, names.Region, region.Magic, RegionMagic)
	}

	semReq, err := openSem(names.SemReq)
	if err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", errs.ErrResourceInit, err)
	}
	semResp, err := openSem(names.SemResp)
	if err != nil {
		semReq.Close()
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", errs.ErrResourceInit, err)
	}

	return &SharedRegion{
		names:   names,
		isHost:  false,
		fd:      fd,
		data:    data,
		region:  region,
		semReq:  semReq,
		semResp: semResp,
	}, nil
}

// Region exposes the mapped layout for the transport package to operate
// on. It is valid until Detach returns.
func (r *SharedRegion) Region() *Region { return r.region }

// Semaphore is the subset of posixSem a ring needs: post to signal a slot
// is ready, poll-wait with a deadline to consume one.
type Semaphore interface {
	Post() error
	TimedWait(d time.Duration) error
}

// SemReq returns the request-ring counting semaphore.
func (r *SharedRegion) SemReq() Semaphore {
	return r.semReq
}

// SemResp returns the response-ring counting semaphore.
func (r *SharedRegion) SemResp() Semaphore {
	return r.semResp
}

// Detach unmaps and closes the region. The host additionally unlinks the
// shared-memory object and both semaphores. Idempotent: a second call is a
// no-op.
func (r *SharedRegion) Detach() error {
	if r.detached {
		return nil
	}
	r.detached = true

	var errList []error

	if r.semReq != nil {
		if err := r.semReq.Close(); err != nil {
			errList = append(errList, err)
		}
		r.semReq = nil
	}
	if r.semResp != nil {
		if err := r.semResp.Close(); err != nil {
			errList = append(errList, err)
		}
		r.semResp = nil
	}
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errList = append(errList, err)
		}
		r.data = nil
		r.region = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			errList = append(errList, err)
		}
		r.fd = -1
	}

	if r.isHost {
		if err := unix.Unlink(shmPath(r.names.Region)); err != nil {
			errList = append(errList, err)
		}
		if err := unlinkSem(r.names.SemReq); err != nil {
			errList = append(errList, err)
		}
		if err := unlinkSem(r.names.SemResp); err != nil {
			errList = append(errList, err)
		}
	}

	return errors.Join(errList...)
}
