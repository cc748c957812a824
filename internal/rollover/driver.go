// Package rollover drives segment rollover and periodic eviction from a
// clock ticker.
package rollover

import (
	"context"
	"time"

	"github.com/banshee-data/dashcam/internal/buffer"
	"github.com/banshee-data/dashcam/internal/monitoring"
	"github.com/banshee-data/dashcam/internal/timeutil"
)

var logs = monitoring.NewStreams("rollover")

const DefaultTick = time.Second

// Recorder is the part of buffer.Manager the driver needs.
type Recorder interface {
	RolloverDue(nowMs int64) bool
	Rollover() (buffer.Segment, bool, error)
	Evict() buffer.EvictionReport
}

// Driver checks the recorder on every tick. A due segment is rolled over,
// which also evicts; otherwise an eviction pass runs so age limits apply
// while recording is stopped.
type Driver struct {
	rec   Recorder
	clock timeutil.Clock
	tick  time.Duration

	// OnRollover is called with each finalized segment, if set.
	OnRollover func(buffer.Segment)
}

func NewDriver(rec Recorder, clock timeutil.Clock, tick time.Duration) *Driver {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Driver{rec: rec, clock: clock, tick: tick}
}

// Run blocks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.tick)
	defer ticker.Stop()
	logs.Diagf("rollover driver running every %v", d.tick)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			d.Step()
		}
	}
}

// Step performs one tick's work and reports whether a rollover happened.
func (d *Driver) Step() bool {
	if !d.rec.RolloverDue(timeutil.NowMs(d.clock)) {
		d.rec.Evict()
		return false
	}
	seg, ok, err := d.rec.Rollover()
	if err != nil {
		logs.Opsf("rollover failed: %v", err)
		return false
	}
	if !ok {
		return false
	}
	logs.Tracef("finalized segment %s (%d bytes)", seg.ID, seg.SizeBytes)
	if d.OnRollover != nil {
		d.OnRollover(seg)
	}
	return true
}
