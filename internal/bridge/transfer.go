package bridge

import (
	"sync/atomic"

	"github.com/Iron-Ham/pixbridge/internal/errors"
)

// transferBuffer is the region slices move through. Its bytes are only
// touched on the call thread; size is published for memory accounting.
//
// With the guard enabled, each transfer marks the buffer in flight and bumps
// a generation counter. A transfer that starts while another holds the
// buffer fails with ErrSliceInFlight.
type transferBuffer struct {
	data  []byte
	size  atomic.Int64
	guard bool

	inFlight   atomic.Bool
	generation atomic.Uint64
}

func newTransferBuffer(size int, guard bool) *transferBuffer {
	b := &transferBuffer{data: make([]byte, size), guard: guard}
	b.size.Store(int64(size))
	return b
}

// capacity returns the current size in bytes. Safe from any goroutine.
func (b *transferBuffer) capacity() int {
	return int(b.size.Load())
}

// ensure grows the buffer to at least n bytes. Existing contents are not
// preserved, so it may only be called when no view is live: at delivery
// time or at the start of a read.
func (b *transferBuffer) ensure(n int) {
	if n <= len(b.data) {
		return
	}
	b.data = make([]byte, n)
	b.size.Store(int64(n))
}

// grow is ensure for callbacks that may run while a view is live. The
// current contents are carried over; views taken before it are stale.
func (b *transferBuffer) grow(n int) {
	if n <= len(b.data) {
		return
	}
	data := make([]byte, n)
	copy(data, b.data)
	b.data = data
	b.size.Store(int64(n))
}

// view returns the first n bytes.
func (b *transferBuffer) view(n int) []byte {
	return b.data[:n:n]
}

// begin starts a transfer. The returned function ends it.
func (b *transferBuffer) begin() (end func(), err error) {
	if !b.guard {
		return func() {}, nil
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		return nil, errors.Wrapf(errors.ErrSliceInFlight, "transfer %d still active", b.generation.Load())
	}
	gen := b.generation.Add(1)
	return func() {
		if b.generation.Load() == gen {
			b.inFlight.Store(false)
		}
	}, nil
}
