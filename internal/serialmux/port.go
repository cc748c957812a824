package serialmux

import "io"

// SerialPorter is the minimal port surface the mux needs, satisfied by
// go.bug.st/serial.Port and by the test ports in this package.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
