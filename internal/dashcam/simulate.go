package dashcam

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Simulator produces synthetic IMU output lines for development without
// hardware. Readings are gravity-compensated noise around zero, with a
// collision-sized spike every SpikeEvery calls to Next.
type Simulator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	calls      int
	spikeEvery int
}

func NewSimulator(seed uint64, spikeEvery int) *Simulator {
	return &Simulator{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		spikeEvery: spikeEvery,
	}
}

func (s *Simulator) noise(scale float64) float64 {
	return (s.rng.Float64()*2 - 1) * scale
}

// Next returns one accelerometer and one gyroscope line.
func (s *Simulator) Next() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	ax, ay, az := s.noise(0.2), s.noise(0.2), s.noise(0.2)
	if s.spikeEvery > 0 && s.calls%s.spikeEvery == 0 {
		az += 11
	}
	gx, gy, gz := s.noise(0.05), s.noise(0.05), s.noise(0.05)
	return []string{
		fmt.Sprintf("A,%.4f,%.4f,%.4f", ax, ay, az),
		fmt.Sprintf("G,%.4f,%.4f,%.4f", gx, gy, gz),
	}
}
