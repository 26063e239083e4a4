package supervisor

import (
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
)

// crashLogEntrySize approximates the in-memory footprint of one
// CrashEvent, used only to translate an operator's byte budget into a
// slot count for the crash log ring.
const crashLogEntrySize = 64

// DefaultCrashLogSize is used when a Supervisor is built without an
// explicit WithCrashLog option.
const DefaultCrashLogSize = 64 * datasize.KB

// CrashEvent records one worker exit observed by Watch.
type CrashEvent struct {
	Pid    int
	At     time.Time
	Reason string
}

// CrashLog is a small fixed-capacity ring of recent crash events, sized
// from an operator-facing datasize.ByteSize budget. It exists purely for
// operability (what crashed and when), not for the dispatch protocol
// itself.
type CrashLog struct {
	mu      sync.Mutex
	entries []CrashEvent
	next    int
	filled  bool
}

// NewCrashLog builds a CrashLog sized to hold roughly size worth of
// entries, with a floor of 1 and no configured upper bound beyond what the
// operator asks for.
func NewCrashLog(size datasize.ByteSize) *CrashLog {
	n := int(size / crashLogEntrySize)
	if n < 1 {
		n = 1
	}
	return &CrashLog{entries: make([]CrashEvent, n)}
}

// Record appends a crash event, overwriting the oldest entry once full.
func (l *CrashLog) Record(ev CrashEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = ev
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.filled = true
	}
}

// Recent returns the recorded events, oldest first.
func (l *CrashLog) Recent() []CrashEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.filled {
		out := make([]CrashEvent, l.next)
		copy(out, l.entries[:l.next])
		return out
	}

	out := make([]CrashEvent, len(l.entries))
	copy(out, l.entries[l.next:])
	copy(out[len(l.entries)-l.next:], l.entries[:l.next])
	return out
}
