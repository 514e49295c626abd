package parse

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
)

// EncodeFiringPacket writes pkt in wire format. Blocks and measurements not
// present in pkt are left zeroed; extra ones are an error. A zero block flag is
// written as the model's flag.
func EncodeFiringPacket(m *sensor.Model, pkt *FiringPacket) ([]byte, error) {
	if len(pkt.Blocks) > m.BlocksPerPacket {
		return nil, fmt.Errorf("encode firing packet: %d blocks exceeds %d", len(pkt.Blocks), m.BlocksPerPacket)
	}
	buf := make([]byte, m.FiringPacketSize)
	perBlock := m.MeasurementsPerBlock()
	for b, block := range pkt.Blocks {
		if len(block.Measurements) > perBlock {
			return nil, fmt.Errorf("encode firing packet: block %d has %d measurements, max %d",
				b, len(block.Measurements), perBlock)
		}
		base := b * m.BlockSize()
		flag := block.Flag
		if flag == 0 {
			flag = m.BlockFlag
		}
		binary.LittleEndian.PutUint16(buf[base:], flag)
		binary.LittleEndian.PutUint16(buf[base+2:], block.Azimuth)
		off := base + sensor.BlockHeaderSize
		for _, meas := range block.Measurements {
			binary.LittleEndian.PutUint16(buf[off:], meas.Distance)
			buf[off+2] = meas.Reflectivity
			off += sensor.BytesPerMeasurement
		}
	}
	ts := m.TimestampOffset()
	binary.LittleEndian.PutUint32(buf[ts:], pkt.Timestamp)
	buf[ts+sensor.TimestampSize] = pkt.ReturnMode
	buf[ts+sensor.TimestampSize+1] = pkt.ProductID
	return buf, nil
}

// EncodePositionPacket writes pkt in wire format. The sentence is terminated
// with CR LF when it fits and truncated to the field length otherwise.
func EncodePositionPacket(m *sensor.Model, pkt *PositionPacket) []byte {
	buf := make([]byte, m.PositionPacketSize)
	layout := m.Position
	binary.LittleEndian.PutUint32(buf[layout.TimestampOffset:], pkt.Timestamp)
	buf[layout.PPSStatusOffset] = pkt.PPSStatus
	field := buf[layout.NMEAOffset : layout.NMEAOffset+layout.NMEALength]
	n := copy(field, pkt.NMEA)
	copy(field[n:], "\r\n")
	return buf
}
