package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/dashcam/internal/serialmux"
)

// MuxSource reads IMU vector lines from a serial mux. Each subscription owns
// one mux subscriber and keeps only the lines for its channel.
type MuxSource struct {
	mux serialmux.SerialMuxInterface
}

func NewMuxSource(mux serialmux.SerialMuxInterface) *MuxSource {
	return &MuxSource{mux: mux}
}

func (m *MuxSource) Subscribe(ch Channel, interval time.Duration, deliver func(Reading)) (Subscription, error) {
	want := lineType(ch)
	if want == "" {
		return nil, fmt.Errorf("serial IMU has no %s channel", ch)
	}
	if err := m.mux.SendCommand(serialmux.RateCommand(interval)); err != nil {
		return nil, fmt.Errorf("set IMU rate: %w", err)
	}

	id, lines := m.mux.Subscribe()
	sub := &muxSub{mux: m.mux, id: id, done: make(chan struct{})}
	go sub.run(ch, want, lines, deliver)
	return sub, nil
}

func lineType(ch Channel) string {
	switch ch {
	case Accelerometer:
		return serialmux.EventTypeAccel
	case Gyroscope:
		return serialmux.EventTypeGyro
	}
	return ""
}

type muxSub struct {
	mux  serialmux.SerialMuxInterface
	id   string
	done chan struct{}
	once sync.Once
}

func (s *muxSub) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}

func (s *muxSub) run(ch Channel, want string, lines <-chan string, deliver func(Reading)) {
	defer s.mux.Unsubscribe(s.id)
	for {
		select {
		case <-s.done:
			return
		case line, ok := <-lines:
			if !ok {
				select {
				case <-s.done:
				default:
					deliver(Reading{Err: ErrSourceClosed})
				}
				return
			}
			if serialmux.ClassifyLine(line) != want {
				continue
			}
			x, y, z, err := serialmux.ParseVector(line)
			if err != nil {
				logs.Tracef("dropping %s line: %v", ch, err)
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			deliver(Reading{X: x, Y: y, Z: z})
		}
	}
}
