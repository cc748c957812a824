package serialmux

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EventTypeAccel   = "accel"
	EventTypeGyro    = "gyro"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyLine returns the event type of one IMU output line. Vector lines
// look like "A,0.12,-9.79,0.33" (accelerometer) or "G,0.01,0.00,1.20"
// (gyroscope); status lines start with '#'.
func ClassifyLine(line string) string {
	switch {
	case len(line) >= 2 && line[1] == ',' && (line[0] == 'A' || line[0] == 'a'):
		return EventTypeAccel
	case len(line) >= 2 && line[1] == ',' && (line[0] == 'G' || line[0] == 'g'):
		return EventTypeGyro
	case strings.HasPrefix(line, "#"):
		return EventTypeStatus
	}
	return EventTypeUnknown
}

// ParseVector extracts the three axis values from a vector line.
func ParseVector(line string) (x, y, z float64, err error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return 0, 0, 0, fmt.Errorf("expected 4 fields, got %d in %q", len(fields), line)
	}
	var v [3]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("axis %d of %q: %w", i, line, err)
		}
	}
	return v[0], v[1], v[2], nil
}

// RateCommand returns the device command that sets the output interval.
func RateCommand(interval time.Duration) string {
	ms := interval.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("RATE %d", ms)
}
