package network

import (
	"testing"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

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

type countingStats struct{ dropped int }

func (c *countingStats) AddDropped() { c.dropped++ }
