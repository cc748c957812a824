package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// localHostRequest makes the request look local so tsweb.AllowDebugAccess
// lets it through.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func recvLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "subscriber channel closed early")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("A,0.1,0.2,9.8\n\n  G,0,0,1.5  \n"))

	assert.Equal(t, "A,0.1,0.2,9.8", recvLine(t, a))
	assert.Equal(t, "G,0,0,1.5", recvLine(t, a), "blank lines are skipped and whitespace trimmed")
	assert.Equal(t, "A,0.1,0.2,9.8", recvLine(t, b))

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_MonitorEndsAtEOF(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("A,1,2,3\n"))
	mux := NewSerialMux(port)

	assert.NoError(t, mux.Monitor(context.Background()))
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("usb disconnected")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usb disconnected")
}

func TestSerialMux_SendCommandAndInitialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("RATE 50"))
	require.NoError(t, mux.SendCommand("PING\n"))
	require.NoError(t, mux.Initialize())

	assert.Equal(t, "RATE 50\nPING\nUNITS SI\nFMT CSV\nSTREAM ON\n", string(port.GetWrittenData()))

	port.WriteError = errors.New("busy")
	err := mux.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNITS SI")
}

func TestSerialMux_UnsubscribeAndClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "unsubscribed channel should be closed")
	mux.Unsubscribe(id) // second call is a no-op

	_, ch2 := mux.Subscribe()
	require.NoError(t, mux.Close())
	_, ok = <-ch2
	assert.False(t, ok, "Close should close subscriber channels")
	assert.True(t, port.Closed)

	_, late := mux.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestMockSerialMux_GeneratesLines(t *testing.T) {
	mux := NewMockSerialMux(5*time.Millisecond, func() []string {
		return []string{"A,0,0,9.8", "G,0,0,0"}
	})
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	assert.Equal(t, "A,0,0,9.8", recvLine(t, ch))
	assert.Equal(t, "G,0,0,0", recvLine(t, ch))
	require.NoError(t, mux.Close())
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"A,0.1,0.2,0.3", EventTypeAccel},
		{"a,0.1,0.2,0.3", EventTypeAccel},
		{"G,0.1,0.2,0.3", EventTypeGyro},
		{"g,1,2,3", EventTypeGyro},
		{"# IMU ready", EventTypeStatus},
		{"A", EventTypeUnknown},
		{"AX,1,2,3", EventTypeUnknown},
		{`{"speed":1}`, EventTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyLine(tt.line))
		})
	}
}

func TestParseVector(t *testing.T) {
	x, y, z, err := ParseVector("A, 0.5,-9.81 ,2")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -9.81, 2}, []float64{x, y, z})

	_, _, _, err = ParseVector("A,1,2")
	assert.Error(t, err)
	_, _, _, err = ParseVector("G,1,two,3")
	assert.Error(t, err)
}

func TestRateCommand(t *testing.T) {
	assert.Equal(t, "RATE 50", RateCommand(50*time.Millisecond))
	assert.Equal(t, "RATE 1", RateCommand(100*time.Microsecond))
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	mode, err = PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	require.NoError(t, d.Initialize())
	require.NoError(t, d.SendCommand("RATE 50"))

	_, ch := d.Subscribe()
	require.NoError(t, d.Close())
	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, d.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
}

func TestAttachAdminRoutes_IMUCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		status int
	}{
		{"valid command", http.MethodPost, url.Values{"command": {"RATE 20"}}, http.StatusOK},
		{"empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/imu-command", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, "RATE 20\n", string(port.GetWrittenData()))
}
