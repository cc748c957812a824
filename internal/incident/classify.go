package incident

import (
	"math"

	"github.com/banshee-data/dashcam/internal/sensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Detection is one rule firing on one tick.
type Detection struct {
	Kind         Kind
	Severity     Severity
	Acceleration sensor.Sample
	Gyroscope    sensor.Sample
}

// Classify runs the four rules against the newest samples, in the order
// collision, hard brake, sharp turn, sudden acceleration. Several rules may
// fire on the same tick. Nothing fires until the accelerometer holds at
// least cfg.WindowSamples samples.
//
// The gyroscope payload of every detection is the newest gyroscope sample.
// Only when the gyroscope ring is empty does the newest accelerometer
// sample stand in for it. The sharp turn rule ignores a gyroscope sample
// older than cfg.TimeWindowMs relative to the newest accelerometer sample.
func Classify(cfg DetectionConfig, accel, gyro []sensor.Sample) []Detection {
	n := cfg.WindowSamples
	if n < 1 {
		n = 1
	}
	if len(accel) < n {
		return nil
	}
	window := accel[len(accel)-n:]
	latest := window[len(window)-1]

	payload := latest
	if len(gyro) > 0 {
		payload = gyro[len(gyro)-1]
	}

	var out []Detection
	emit := func(k Kind, s Severity) {
		out = append(out, Detection{Kind: k, Severity: s, Acceleration: latest, Gyroscope: payload})
	}

	thr := cfg.AccelerationThreshold

	if mag := latest.Magnitude(); mag > 2*thr {
		if mag > 4*thr {
			emit(Collision, Critical)
		} else {
			emit(Collision, High)
		}
	}

	if len(window) >= 3 {
		d1, d2 := forwardDeltas(window)
		if d1 < -thr && d2 < -0.5*thr {
			if math.Abs(d1) > 1.5*thr {
				emit(HardBrake, High)
			} else {
				emit(HardBrake, Medium)
			}
		}
	}

	if gyroLatest, ok := freshGyro(cfg, latest, gyro); ok {
		gthr := cfg.GyroscopeThreshold
		if rate := gyroLatest.Magnitude(); rate > 2*gthr {
			if rate > 3*gthr {
				emit(SharpTurn, High)
			} else {
				emit(SharpTurn, Medium)
			}
		}
	}

	if len(window) >= 3 {
		d1, _ := forwardDeltas(window)
		if d1 > thr {
			if d1 > 1.5*thr {
				emit(SuddenAcceleration, Medium)
			} else {
				emit(SuddenAcceleration, Low)
			}
		}
	}

	return out
}

// forwardDeltas returns the last two step changes on the forward (Y) axis.
// The window must hold at least three samples.
func forwardDeltas(window []sensor.Sample) (d1, d2 float64) {
	n := len(window)
	d1 = window[n-1].Y - window[n-2].Y
	d2 = window[n-2].Y - window[n-3].Y
	return d1, d2
}

func freshGyro(cfg DetectionConfig, accelLatest sensor.Sample, gyro []sensor.Sample) (sensor.Sample, bool) {
	if len(gyro) == 0 {
		return sensor.Sample{}, false
	}
	g := gyro[len(gyro)-1]
	if cfg.TimeWindowMs > 0 && accelLatest.CapturedAtMs-g.CapturedAtMs > cfg.TimeWindowMs {
		return sensor.Sample{}, false
	}
	return g, true
}

// WindowStats summarises accelerometer magnitudes over the time window
// that ends at the newest sample.
type WindowStats struct {
	Samples         int     `json:"samples"`
	MeanMagnitude   float64 `json:"mean_magnitude"`
	StdDevMagnitude float64 `json:"stddev_magnitude"`
	PeakMagnitude   float64 `json:"peak_magnitude"`
}

// ComputeWindowStats covers samples captured within windowMs of the newest
// one. A non-positive windowMs covers every sample.
func ComputeWindowStats(accel []sensor.Sample, windowMs int64) WindowStats {
	if len(accel) == 0 {
		return WindowStats{}
	}
	cutoff := accel[len(accel)-1].CapturedAtMs - windowMs
	mags := make([]float64, 0, len(accel))
	for _, s := range accel {
		if windowMs > 0 && s.CapturedAtMs < cutoff {
			continue
		}
		mags = append(mags, s.Magnitude())
	}

	ws := WindowStats{Samples: len(mags), PeakMagnitude: floats.Max(mags)}
	if len(mags) > 1 {
		ws.MeanMagnitude, ws.StdDevMagnitude = stat.MeanStdDev(mags, nil)
	} else {
		ws.MeanMagnitude = mags[0]
	}
	return ws
}
