package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/lidartime/internal/lidar/cadence"
	"github.com/banshee-data/lidartime/internal/lidar/network"
	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 500_000_000, time.UTC)

func vlp16(t *testing.T) *sensor.Model {
	t.Helper()
	m, err := sensor.LoadEmbeddedModel("vlp16")
	if err != nil {
		t.Fatalf("load vlp16: %v", err)
	}
	return m
}

func muteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(monitoring.ResetLogger)
}

type recordingHealth struct {
	mu     sync.Mutex
	states []cadence.State
}

func (h *recordingHealth) Update(s cadence.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
}

func (h *recordingHealth) last() cadence.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return cadence.StateUnknown
	}
	return h.states[len(h.states)-1]
}

type countingForwarder struct {
	n int
}

func (f *countingForwarder) ForwardAsync([]byte) { f.n++ }

// timeoutSource always times out, the way an idle UDP source does.
type timeoutSource struct {
	calls int
}

func (s *timeoutSource) Next(ctx context.Context) (network.RawPacket, error) {
	s.calls++
	if err := ctx.Err(); err != nil {
		return network.RawPacket{}, err
	}
	return network.RawPacket{}, network.ErrTimeout
}

func (s *timeoutSource) Close() error { return nil }
