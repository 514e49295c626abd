package parse

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

// syntheticFiring returns a packet whose block b has azimuth startAz+b*stepAz
// and whose i-th measurement in decode order has distance 1000+i and
// reflectivity i%256.
func syntheticFiring(m *sensor.Model, startAz, stepAz uint16, ts uint32) *FiringPacket {
	pkt := &FiringPacket{Timestamp: ts, ReturnMode: 0x37, ProductID: 0x22}
	perBlock := m.MeasurementsPerBlock()
	i := 0
	for b := 0; b < m.BlocksPerPacket; b++ {
		block := FiringBlock{
			Flag:         m.BlockFlag,
			Azimuth:      uint16((int(startAz) + b*int(stepAz)) % 36000),
			Measurements: make([]FiringMeasurement, perBlock),
		}
		for j := range block.Measurements {
			block.Measurements[j] = FiringMeasurement{
				Distance:     uint16(1000 + i),
				Reflectivity: uint8(i % 256),
				Channel:      uint8(j % m.Channels),
			}
			i++
		}
		pkt.Blocks = append(pkt.Blocks, block)
	}
	return pkt
}
