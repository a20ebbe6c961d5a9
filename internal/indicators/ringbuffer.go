// Package indicators holds the stateful, single-threaded indicator pipeline
// a Strategy owns: a rolling close window, Wilder RSI, and rolling-return
// volatility. Each indicator is "not ready" until it has seen enough samples.
package indicators

// RingBuffer is a fixed-capacity circular buffer that drops the oldest
// sample on push once full, so callers can maintain O(1) rolling sums.
type RingBuffer struct {
	buf  []float64
	size int
	head int
}

// NewRingBuffer allocates a ring buffer of the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]float64, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Len returns the number of samples currently held.
func (r *RingBuffer) Len() int { return r.size }

// Full reports whether the buffer holds Cap() samples.
func (r *RingBuffer) Full() bool { return r.size == len(r.buf) }

// Push appends v, evicting and returning the oldest sample if the buffer was
// already full.
func (r *RingBuffer) Push(v float64) (evicted float64, hadEvicted bool) {
	cap := len(r.buf)
	if cap == 0 {
		return 0, false
	}
	idx := (r.head + r.size) % cap
	if r.size == cap {
		evicted = r.buf[r.head]
		hadEvicted = true
		r.head = (r.head + 1) % cap
		r.buf[idx] = v
		return evicted, hadEvicted
	}
	r.buf[idx] = v
	r.size++
	return 0, false
}

// At returns the i-th oldest sample currently held (0 = oldest).
func (r *RingBuffer) At(i int) float64 {
	return r.buf[(r.head+i)%len(r.buf)]
}
