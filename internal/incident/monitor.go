package incident

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/dashcam/internal/monitoring"
	"github.com/banshee-data/dashcam/internal/sensor"
	"github.com/banshee-data/dashcam/internal/timeutil"
	"github.com/google/uuid"
)

var logs = monitoring.NewStreams("incident")

// Observer receives every incident synchronously on the sampler's delivery
// goroutine, in registration order.
type Observer interface {
	OnIncident(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnIncident(e Event) { f(e) }

// Monitor classifies every accelerometer sample and fans incidents out to
// observers and channel subscribers. There is no debounce: a condition that
// holds across ticks fires on each of them.
type Monitor struct {
	sampler *sensor.Sampler
	store   *ConfigStore
	clock   timeutil.Clock

	lifecycleMu sync.Mutex

	mu          sync.Mutex
	monitoring  bool
	observers   []Observer
	subscribers map[string]chan Event
	locator     LocationProvider

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewMonitor attaches a monitor to sampler. It takes over the sampler's
// listener.
func NewMonitor(sampler *sensor.Sampler, store *ConfigStore, clock timeutil.Clock) *Monitor {
	m := &Monitor{
		sampler:     sampler,
		store:       store,
		clock:       clock,
		subscribers: make(map[string]chan Event),
	}
	sampler.SetListener(m.onSample)
	return m
}

// StartMonitoring starts the sampler at interval. It is a no-op while
// already monitoring.
func (m *Monitor) StartMonitoring(interval time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.IsMonitoring() {
		return nil
	}
	if size := m.store.Get().BufferSize; size > 0 {
		m.sampler.Resize(size)
	}
	if err := m.sampler.Start(interval); err != nil {
		return err
	}

	m.mu.Lock()
	m.monitoring = true
	m.mu.Unlock()
	logs.Opsf("monitoring started")
	return nil
}

// StopMonitoring stops the sampler. No observer is called after it returns.
func (m *Monitor) StopMonitoring() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.sampler.Stop()

	m.mu.Lock()
	was := m.monitoring
	m.monitoring = false
	m.mu.Unlock()
	if was {
		logs.Opsf("monitoring stopped")
	}
}

func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitoring
}

// SetLocationProvider sets where events get their location snapshot. A nil
// provider leaves Location unset.
func (m *Monitor) SetLocationProvider(p LocationProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locator = p
}

// AddObserver registers o for every later incident.
func (m *Monitor) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Subscribe returns a channel that receives incidents without blocking the
// sampler. When the channel's buffer is full the incident is dropped for
// that subscriber and counted by Dropped.
func (m *Monitor) Subscribe(buffer int) (string, <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan Event, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (m *Monitor) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Close closes every subscription channel.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Emitted returns the number of incidents emitted so far.
func (m *Monitor) Emitted() uint64 { return m.emitted.Load() }

// Dropped returns the number of incidents lost to full subscriber buffers.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Status is a point-in-time view of the monitor.
type Status struct {
	Monitoring     bool     `json:"monitoring"`
	Emitted        uint64   `json:"emitted"`
	Dropped        uint64   `json:"dropped"`
	Subscribers    int      `json:"subscribers"`
	HaltedChannels []string `json:"halted_channels"`
}

// Status reports counters and the sensor channels that stopped after a
// read error.
func (m *Monitor) Status() Status {
	st := Status{
		Monitoring:     m.IsMonitoring(),
		Emitted:        m.Emitted(),
		Dropped:        m.Dropped(),
		HaltedChannels: []string{},
	}
	m.mu.Lock()
	st.Subscribers = len(m.subscribers)
	m.mu.Unlock()
	for _, ch := range sensor.Channels {
		if m.sampler.Halted(ch) {
			st.HaltedChannels = append(st.HaltedChannels, ch.String())
		}
	}
	return st
}

func (m *Monitor) onSample(ch sensor.Channel, _ sensor.Sample) {
	if ch != sensor.Accelerometer {
		return
	}
	cfg := m.store.Get()
	if cfg.BufferSize > 0 && cfg.BufferSize != m.sampler.BufferSize() {
		m.sampler.Resize(cfg.BufferSize)
	}

	accel := m.sampler.Recent(sensor.Accelerometer)
	detections := Classify(cfg, accel, m.sampler.Last(sensor.Gyroscope, 1))
	if len(detections) == 0 {
		return
	}

	window := ComputeWindowStats(accel, cfg.TimeWindowMs)
	now := timeutil.NowMs(m.clock)
	loc := m.currentLocation()
	for _, d := range detections {
		m.emit(Event{
			ID:           newEventID(),
			Kind:         d.Kind,
			Severity:     d.Severity,
			DetectedAtMs: now,
			DurationMs:   cfg.MinIncidentDurationMs,
			Acceleration: d.Acceleration,
			Gyroscope:    d.Gyroscope,
			Location:     loc,
			Window:       window,
		})
	}
}

func (m *Monitor) currentLocation() *Location {
	m.mu.Lock()
	p := m.locator
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	if loc, ok := p.CurrentLocation(); ok {
		return &loc
	}
	return nil
}

func (m *Monitor) emit(e Event) {
	m.emitted.Add(1)
	logs.Diagf("%s %s id=%s accel=%.2f", e.Kind, e.Severity, e.ID, e.Acceleration.Magnitude())

	m.mu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range observers {
		o.OnIncident(e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- e:
		default:
			m.dropped.Add(1)
			logs.Opsf("subscriber %s full, dropped incident %s", id, e.ID)
		}
	}
}

// newEventID returns a time-ordered UUIDv7.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
