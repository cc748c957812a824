package sensor

import (
	"errors"
	"sync"
	"time"
)

// ErrSourceClosed is delivered as a Reading error when a source stops
// producing data for good.
var ErrSourceClosed = errors.New("sensor source closed")

// Source is a hardware sensor feed that can be subscribed per channel.
// deliver must be called from one goroutine at a time per subscription.
type Source interface {
	Subscribe(ch Channel, interval time.Duration, deliver func(Reading)) (Subscription, error)
}

// Subscription cancels delivery. Unsubscribe must be idempotent and safe
// to call from inside deliver.
type Subscription interface {
	Unsubscribe()
}

// ManualSource is an in-process Source driven by Emit. It backs tests and
// host integrations that receive readings from elsewhere.
type ManualSource struct {
	mu        sync.Mutex
	subs      map[*manualSub]struct{}
	failures  map[Channel]error
	intervals map[Channel]time.Duration
}

type manualSub struct {
	src     *ManualSource
	ch      Channel
	deliver func(Reading)
	once    sync.Once
}

func NewManualSource() *ManualSource {
	return &ManualSource{
		subs:      make(map[*manualSub]struct{}),
		failures:  make(map[Channel]error),
		intervals: make(map[Channel]time.Duration),
	}
}

// FailSubscribe makes subsequent Subscribe calls for ch return err.
func (m *ManualSource) FailSubscribe(ch Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, ch)
		return
	}
	m.failures[ch] = err
}

func (m *ManualSource) Subscribe(ch Channel, interval time.Duration, deliver func(Reading)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[ch]; err != nil {
		return nil, err
	}
	sub := &manualSub{src: m, ch: ch, deliver: deliver}
	m.subs[sub] = struct{}{}
	m.intervals[ch] = interval
	return sub, nil
}

func (s *manualSub) Unsubscribe() {
	s.once.Do(func() {
		s.src.mu.Lock()
		delete(s.src.subs, s)
		s.src.mu.Unlock()
	})
}

// Emit delivers r to every current subscriber of ch on the caller's
// goroutine. It returns the number of subscribers reached.
func (m *ManualSource) Emit(ch Channel, r Reading) int {
	m.mu.Lock()
	var targets []*manualSub
	for sub := range m.subs {
		if sub.ch == ch {
			targets = append(targets, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(r)
	}
	return len(targets)
}

// Subscribed reports whether ch has at least one subscriber.
func (m *ManualSource) Subscribed(ch Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		if sub.ch == ch {
			return true
		}
	}
	return false
}

// Interval returns the interval most recently requested for ch.
func (m *ManualSource) Interval(ch Channel) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intervals[ch]
}
