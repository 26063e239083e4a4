// Package shm defines the bit-exact shared-memory layout shared by the host
// process and every worker process, and the lifecycle operations that
// create, attach to, and tear down the backing POSIX objects.
//
// Every type in this file is trivially copyable and self-contained: no
// field is a pointer or an offset valid in only one process. Changing
// RingCapacity, TextChunkBytes, AudioChunkSamples, or MelChunkSamples
// requires rebuilding every process that maps the region. Region carries
// a Magic field so that mismatched builds fail fast instead of
// misreading bytes.
package shm

import "sync/atomic"

const (
	// RingCapacity is the number of slots in each ring. It must stay a
	// power of two: index-into-ring uses a bitwise mask, not a division.
	RingCapacity = 256

	// TextChunkBytes bounds a single text request/response payload.
	TextChunkBytes = 4096

	// AudioChunkSamples bounds a single audio request's raw sample count.
	AudioChunkSamples = 16000

	// MelChunkSamples bounds a single response's mel-feature count (80
	// mel bands * 100 frames for one second of 16kHz audio at hop 160).
	MelChunkSamples = 8000

	// MaxWorkers is the largest worker pool this module will supervise.
	MaxWorkers = 8

	// RegionName is the default name of the POSIX shared-memory object.
	RegionName = "/dispatchcore_shm"
	// SemReqName is the default name of the request-ring counting semaphore.
	SemReqName = "/dispatchcore_sem_req"
	// SemRespName is the default name of the response-ring counting semaphore.
	SemRespName = "/dispatchcore_sem_resp"

	// RegionMagic identifies the compiled slot layout. A host or worker
	// attaching to a region with a different magic refuses to proceed
	// rather than misinterpret bytes laid out by an incompatible build.
	RegionMagic uint32 = 0x57484950 // "WHIP"
)

// TaskType selects which kernel operation a ReqSlot/RespSlot pair carries.
type TaskType uint32

const (
	// TaskTextProcess requests a text transform.
	TaskTextProcess TaskType = 0
	// TaskAudioProcess requests an audio-to-mel feature extraction.
	TaskAudioProcess TaskType = 1
	// TaskShutdown is the shutdown sentinel: a worker that dequeues it
	// terminates its loop without producing a response.
	TaskShutdown TaskType = 99
)

// AudioPayload is the audio variant of ReqSlot's payload union.
type AudioPayload struct {
	SampleRate uint32
	NumSamples uint32
	Data       [AudioChunkSamples]float32
}

// ReqSlot is written once by a host producer thread and read once by a
// worker consumer. Both union variants are always present in memory; only
// the one matching Type is meaningful.
type ReqSlot struct {
	TaskID       uint64
	Type         TaskType
	Len          uint32
	EnqueueTSNs  uint64
	Text         [TextChunkBytes]byte
	Audio        AudioPayload
}

// RespSlot is written once by a worker and read once by the host drain
// goroutine. Status is 0 on success, nonzero on kernel-reported failure.
type RespSlot struct {
	TaskID        uint64
	Type          TaskType
	Len           uint32
	Status        uint32
	ProcessingNs  uint64
	Text          [TextChunkBytes]byte
	Mel           [MelChunkSamples]float32
}

// Indices holds the four free-running ring counters. They live at the
// front of Region and are never reset for the lifetime of the mapping;
// wraparound safety comes entirely from RingCapacity being a power of two
// and every consumer computing its slot as index & (RingCapacity-1).
//
// Fields are atomic.Uint64 so every access goes through sync/atomic even
// though the backing memory is a raw mmap'd region the Go runtime did not
// allocate: atomic.Uint64's layout is exactly one uint64, so overlaying it
// on shared memory via unsafe.Pointer is safe, and it statically prevents
// a non-atomic read or write from creeping in.
type Indices struct {
	ReqWriteIdx  atomic.Uint64
	ReqReadIdx   atomic.Uint64
	RespWriteIdx atomic.Uint64
	RespReadIdx  atomic.Uint64
}

// Region is the full contents of the shared-memory object: the magic
// guard, the four ring indices, a per-slot readiness flag for each ring,
// and the two ring buffers. It is mapped at the same address-independent
// layout in the host and in every worker.
//
// The readiness flags exist because a ring index claimed via
// CompareAndSwap/Add only reserves a slot; it says nothing about whether
// the claimant has finished copying its payload into it. A consumer that
// trusts the semaphore count alone can reach a slot before its producer's
// write lands, since index claim order and write-completion order are not
// the same thing under concurrent producers. Each flag is set by the
// producer after the copy and cleared by the consumer once it sees it set,
// just before copying the slot out, so a reader spins the (very short)
// gap instead of returning torn data.
type Region struct {
	Magic     uint32
	_         [4]byte // pad to keep Indices 8-byte aligned
	Indices   Indices
	ReqReady  [RingCapacity]atomic.Uint32
	RespReady [RingCapacity]atomic.Uint32
	ReqRing   [RingCapacity]ReqSlot
	RespRing  [RingCapacity]RespSlot
}

// SlotIndex masks a free-running counter down to its ring position.
func SlotIndex(counter uint64) uint64 {
	return counter & (RingCapacity - 1)
}
