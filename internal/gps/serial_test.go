package gps

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/lidartime/internal/lidar/timing"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 4800, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.OddParity}, mode)

	_, err = PortOptions{Parity: "x"}.SerialMode()
	assert.Error(t, err)
}

func TestSerialSourceUpdatesReference(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(monitoring.ResetLogger)

	input := strings.Join([]string{
		withChecksum("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"),
		"noise",
		withChecksum("GPRMC,142713,A,4807.038,N,01131.000,E,022.4,084.4,050324,003.1,W"),
		withChecksum("GPRMC,142714,A,4807.038,N,01131.000,E,022.4,084.4,050324,003.1,W"),
	}, "\r\n") + "\r\n"

	var ref timing.Reference
	src := NewSerialSource(io.NopCloser(strings.NewReader(input)), &ref)
	require.NoError(t, src.Run(context.Background()))

	got, ok := ref.Get()
	require.True(t, ok)
	assert.Equal(t, timing.FromTime(time.Date(2024, 3, 5, 14, 27, 14, 0, time.UTC)), got)
	assert.Equal(t, uint64(2), src.Fixes())
	require.NoError(t, src.Close())
}

func TestSerialSourceStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	var ref timing.Reference
	src := NewSerialSource(r, &ref)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
