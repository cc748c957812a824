package sensor

// DefaultBufferSize is the default number of samples kept per channel.
const DefaultBufferSize = 100

// Ring is a fixed-capacity FIFO of samples that overwrites the oldest entry
// when full. It is not safe for concurrent use; Sampler guards its rings.
type Ring struct {
	buf  []Sample
	head int // next write position
	size int
}

// NewRing creates a ring holding up to capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &Ring{buf: make([]Sample, capacity)}
}

// Push appends s, evicting the oldest sample if the ring is full.
func (r *Ring) Push(s Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Last returns up to n of the newest samples, oldest first.
func (r *Ring) Last(n int) []Sample {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Sample, n)
	start := r.head - n + len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Snapshot returns a copy of every sample, oldest first.
func (r *Ring) Snapshot() []Sample {
	return r.Last(r.size)
}

// Latest returns the newest sample.
func (r *Ring) Latest() (Sample, bool) {
	if r.size == 0 {
		return Sample{}, false
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)], true
}

func (r *Ring) Len() int { return r.size }
func (r *Ring) Cap() int { return len(r.buf) }

// Clear drops every sample.
func (r *Ring) Clear() {
	clear(r.buf)
	r.head = 0
	r.size = 0
}

// Resized returns a ring of the new capacity holding the newest samples.
func (r *Ring) Resized(capacity int) *Ring {
	out := NewRing(capacity)
	for _, s := range r.Last(out.Cap()) {
		out.Push(s)
	}
	return out
}
