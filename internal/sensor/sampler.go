package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/dashcam/internal/monitoring"
	"github.com/banshee-data/dashcam/internal/timeutil"
)

var logs = monitoring.NewStreams("sensor")

// Listener is called synchronously after every sample is pushed, on the
// delivering goroutine. It must not call Sampler.Start or Sampler.Stop.
type Listener func(ch Channel, s Sample)

// Sampler subscribes to both channels of a Source, timestamps each reading
// and keeps the newest samples of each channel in a Ring.
type Sampler struct {
	src   Source
	clock timeutil.Clock

	// lifecycleMu serialises Start and Stop.
	lifecycleMu sync.Mutex
	// deliverMu makes delivery single-writer and lets Stop wait out an
	// in-flight listener call.
	deliverMu sync.Mutex

	mu       sync.Mutex
	rings    map[Channel]*Ring
	subs     map[Channel]Subscription
	halted   map[Channel]bool
	running  bool
	listener Listener
}

// NewSampler creates a stopped sampler with rings of bufferSize samples.
func NewSampler(src Source, clock timeutil.Clock, bufferSize int) *Sampler {
	s := &Sampler{
		src:    src,
		clock:  clock,
		rings:  make(map[Channel]*Ring, len(Channels)),
		subs:   make(map[Channel]Subscription, len(Channels)),
		halted: make(map[Channel]bool, len(Channels)),
	}
	for _, ch := range Channels {
		s.rings[ch] = NewRing(bufferSize)
	}
	return s
}

// SetListener registers the single per-sample listener. Pass nil to clear.
func (s *Sampler) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Start subscribes to every channel at interval. Calling Start while
// running is a no-op. If any subscription fails, the ones already made are
// cancelled and the error is returned.
func (s *Sampler) Start(interval time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.IsRunning() {
		return nil
	}

	subs := make(map[Channel]Subscription, len(Channels))
	for _, ch := range Channels {
		ch := ch
		sub, err := s.src.Subscribe(ch, interval, func(r Reading) { s.onReading(ch, r) })
		if err != nil {
			for _, made := range subs {
				made.Unsubscribe()
			}
			logs.Opsf("subscribe %s failed: %v", ch, err)
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		subs[ch] = sub
	}

	s.mu.Lock()
	s.subs = subs
	s.halted = make(map[Channel]bool, len(Channels))
	s.running = true
	s.mu.Unlock()

	logs.Opsf("sampling started at %v", interval)
	return nil
}

// Stop unsubscribes every channel and clears the rings. It is safe to call
// when not started. Once Stop returns no listener call is in progress and
// none will follow.
func (s *Sampler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.deliverMu.Lock()
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	subs := s.subs
	s.subs = make(map[Channel]Subscription, len(Channels))
	for _, r := range s.rings {
		r.Clear()
	}
	s.mu.Unlock()
	s.deliverMu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if wasRunning {
		logs.Opsf("sampling stopped")
	}
}

// IsRunning reports whether Start has succeeded without a following Stop.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sampler) onReading(ch Channel, r Reading) {
	if r.Err != nil {
		s.halt(ch, r.Err)
		return
	}
	s.Push(ch, Sample{X: r.X, Y: r.Y, Z: r.Z, CapturedAtMs: timeutil.NowMs(s.clock)})
}

// halt stops one channel after a hardware error. The other channel keeps
// sampling; consumers see this channel go stale.
func (s *Sampler) halt(ch Channel, err error) {
	s.mu.Lock()
	if !s.running || s.halted[ch] {
		s.mu.Unlock()
		return
	}
	s.halted[ch] = true
	sub := s.subs[ch]
	delete(s.subs, ch)
	s.mu.Unlock()

	logs.Opsf("%s channel halted: %v", ch, err)
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Halted reports whether ch stopped after an error.
func (s *Sampler) Halted(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted[ch]
}

// Push appends a sample to the channel's ring and notifies the listener.
// Samples pushed while the sampler is stopped or the channel has halted are
// dropped and Push returns false.
func (s *Sampler) Push(ch Channel, sample Sample) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	ring, ok := s.rings[ch]
	if !s.running || !ok || s.halted[ch] {
		s.mu.Unlock()
		return false
	}
	ring.Push(sample)
	l := s.listener
	s.mu.Unlock()

	logs.Tracef("%s x=%.3f y=%.3f z=%.3f t=%d", ch, sample.X, sample.Y, sample.Z, sample.CapturedAtMs)
	if l != nil {
		l(ch, sample)
	}
	return true
}

// Recent returns a copy of the channel's samples, oldest first.
func (s *Sampler) Recent(ch Channel) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[ch]; ok {
		return r.Snapshot()
	}
	return nil
}

// Last returns a copy of up to n of the channel's newest samples.
func (s *Sampler) Last(ch Channel, n int) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[ch]; ok {
		return r.Last(n)
	}
	return nil
}

// Resize changes the ring capacity of every channel, keeping the newest
// samples.
func (s *Sampler) Resize(bufferSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, r := range s.rings {
		if r.Cap() != bufferSize {
			s.rings[ch] = r.Resized(bufferSize)
		}
	}
	logs.Diagf("rings resized to %d samples", bufferSize)
}

// BufferSize returns the current ring capacity.
func (s *Sampler) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rings[Accelerometer].Cap()
}
