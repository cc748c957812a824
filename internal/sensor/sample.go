// Package sensor turns accelerometer and gyroscope readings into
// timestamped samples held in fixed-size rings, one per channel.
package sensor

import (
	"fmt"
	"math"
)

// Channel identifies a motion sensor channel.
type Channel int

const (
	Accelerometer Channel = iota
	Gyroscope
)

// Channels lists every channel in delivery order.
var Channels = []Channel{Accelerometer, Gyroscope}

func (c Channel) String() string {
	switch c {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor channel %q", s)
}

// Sample is one tri-axial reading. Accelerometer axes are m/s², gyroscope
// axes are rad/s. Y is the vehicle's forward axis.
type Sample struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Z            float64 `json:"z"`
	CapturedAtMs int64   `json:"captured_at_ms"`
}

// Magnitude returns the Euclidean norm of the three axes.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Reading is what a Source delivers: either a vector or a channel error.
type Reading struct {
	X, Y, Z float64
	Err     error
}
