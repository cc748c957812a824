// Package incident classifies motion samples into driving incidents and
// delivers them to observers and subscribers.
package incident

import (
	"sync"

	"github.com/banshee-data/dashcam/internal/sensor"
)

// Kind is the type of driving incident.
type Kind string

const (
	Collision          Kind = "collision"
	HardBrake          Kind = "hard_brake"
	SharpTurn          Kind = "sharp_turn"
	SuddenAcceleration Kind = "sudden_acceleration"
)

// Kinds lists every kind in rule evaluation order.
var Kinds = []Kind{Collision, HardBrake, SharpTurn, SuddenAcceleration}

// Severity grades an incident.
type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

// Severities lists every severity from least to most severe.
var Severities = []Severity{Low, Medium, High, Critical}

// Rank orders severities; unknown values rank below Low.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

// Location is a geolocation snapshot.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is an emitted incident. It is immutable once delivered.
type Event struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	Severity     Severity      `json:"severity"`
	DetectedAtMs int64         `json:"detected_at_ms"`
	DurationMs   int64         `json:"duration_ms"`
	Acceleration sensor.Sample `json:"acceleration"`
	Gyroscope    sensor.Sample `json:"gyroscope"`
	Location     *Location     `json:"location,omitempty"`
	Window       WindowStats   `json:"window"`
}

// LocationProvider returns the latest position fix, if any.
type LocationProvider interface {
	CurrentLocation() (Location, bool)
}

// StaticLocation is a LocationProvider with a fixed, settable position.
type StaticLocation struct {
	mu  sync.RWMutex
	loc *Location
}

// Set records a position fix; nil clears it.
func (s *StaticLocation) Set(loc *Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc == nil {
		s.loc = nil
		return
	}
	l := *loc
	s.loc = &l
}

func (s *StaticLocation) CurrentLocation() (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loc == nil {
		return Location{}, false
	}
	return *s.loc, true
}
