package parse

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

/*
Packet decoder

Firing and position packets arrive as UDP payloads. The transport also reports
the declared length of the frame the payload came in, which includes the
42-byte Ethernet + IPv4 + UDP header; Classify dispatches on that length only.

Firing packets are sliced into fixed-stride blocks. Within a block the two
firing sequences are stored one after the other, so measurement j of a block
belongs to firing slot j / channels and channel j % channels.

Short buffers fail with a *DecodeError that unwraps to ErrTruncatedPacket.
Nothing else in decoding is an error: unexpected block flags are counted on
the packet and out-of-range azimuths are left for the builder to clamp.
*/

// DecodeError describes a buffer that ended before a field could be read.
type DecodeError struct {
	Packet PacketType
	Offset int // first byte of the field that could not be read
	Need   int // bytes required from Offset
	Have   int // total buffer length
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s packet truncated: need %d bytes at offset %d, have %d",
		e.Packet, e.Need, e.Offset, e.Have)
}

func (e *DecodeError) Unwrap() error { return ErrTruncatedPacket }

// Decoder turns raw payloads into structured packets for one sensor model.
// A Decoder holds no per-packet state and is safe for concurrent use.
type Decoder struct {
	model        *sensor.Model
	debugPackets atomic.Int32
}

// NewDecoder returns a decoder for the given model.
func NewDecoder(model *sensor.Model) *Decoder {
	return &Decoder{model: model}
}

// SetDebugPackets logs the decoded header fields of the next n firing packets.
func (d *Decoder) SetDebugPackets(n int) {
	d.debugPackets.Store(int32(n))
}

// takeDebug claims one of the remaining debug log slots.
func (d *Decoder) takeDebug() bool {
	for {
		n := d.debugPackets.Load()
		if n <= 0 {
			return false
		}
		if d.debugPackets.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Model returns the sensor model the decoder was built for.
func (d *Decoder) Model() *sensor.Model { return d.model }

// Classify identifies a packet from its declared on-wire length.
func (d *Decoder) Classify(declaredLength int) PacketType {
	switch declaredLength {
	case d.model.FiringDeclaredLength():
		return PacketFiring
	case d.model.PositionDeclaredLength():
		return PacketPosition
	default:
		return PacketUnknown
	}
}

// ClassifyErr is Classify returning ErrUnknownPacketType for unrecognised lengths.
func (d *Decoder) ClassifyErr(declaredLength int) (PacketType, error) {
	t := d.Classify(declaredLength)
	if t == PacketUnknown {
		return t, fmt.Errorf("declared length %d: %w", declaredLength, ErrUnknownPacketType)
	}
	return t, nil
}

// DecodeFiringPacket decodes all blocks, the timestamp and the factory field.
// The returned packet does not reference buf.
func (d *Decoder) DecodeFiringPacket(buf []byte) (*FiringPacket, error) {
	m := d.model
	if len(buf) < m.FiringPacketSize {
		return nil, &DecodeError{Packet: PacketFiring, Offset: 0, Need: m.FiringPacketSize, Have: len(buf)}
	}

	perBlock := m.MeasurementsPerBlock()
	blockSize := m.BlockSize()
	pkt := &FiringPacket{Blocks: make([]FiringBlock, m.BlocksPerPacket)}
	// One backing array for every measurement in the packet.
	all := make([]FiringMeasurement, m.BlocksPerPacket*perBlock)

	for b := 0; b < m.BlocksPerPacket; b++ {
		base := b * blockSize
		block := &pkt.Blocks[b]
		block.Flag = binary.LittleEndian.Uint16(buf[base : base+2])
		block.Azimuth = binary.LittleEndian.Uint16(buf[base+2 : base+4])
		if block.Flag != m.BlockFlag {
			pkt.BadFlags++
		}

		block.Measurements = all[b*perBlock : (b+1)*perBlock : (b+1)*perBlock]
		off := base + sensor.BlockHeaderSize
		for j := 0; j < perBlock; j++ {
			block.Measurements[j] = FiringMeasurement{
				Distance:     binary.LittleEndian.Uint16(buf[off : off+2]),
				Reflectivity: buf[off+2],
				Channel:      uint8(j % m.Channels),
			}
			off += sensor.BytesPerMeasurement
		}
	}

	ts := m.TimestampOffset()
	pkt.Timestamp = binary.LittleEndian.Uint32(buf[ts : ts+sensor.TimestampSize])
	factory := ts + sensor.TimestampSize
	pkt.ReturnMode = buf[factory]
	pkt.ProductID = buf[factory+1]

	if d.takeDebug() {
		monitoring.Logf("[parse] firing packet: ts=%dus az[0]=%d az[%d]=%d bad_flags=%d return_mode=0x%02x product=0x%02x",
			pkt.Timestamp, pkt.Blocks[0].Azimuth, m.BlocksPerPacket-1, pkt.Blocks[m.BlocksPerPacket-1].Azimuth,
			pkt.BadFlags, pkt.ReturnMode, pkt.ProductID)
	}
	return pkt, nil
}

// DecodePositionPacket extracts the timestamp, PPS status and NMEA sentence.
// The sentence ends at the first carriage return, line feed or NUL, or at the
// end of the fixed field.
func (d *Decoder) DecodePositionPacket(buf []byte) (*PositionPacket, error) {
	layout := d.model.Position
	if len(buf) < d.model.PositionPacketSize {
		return nil, &DecodeError{Packet: PacketPosition, Offset: 0, Need: d.model.PositionPacketSize, Have: len(buf)}
	}

	pkt := &PositionPacket{
		Timestamp: binary.LittleEndian.Uint32(buf[layout.TimestampOffset : layout.TimestampOffset+sensor.TimestampSize]),
		PPSStatus: buf[layout.PPSStatusOffset],
	}
	field := buf[layout.NMEAOffset : layout.NMEAOffset+layout.NMEALength]
	end := len(field)
	for i, c := range field {
		if c == '\r' || c == '\n' || c == 0 {
			end = i
			break
		}
	}
	pkt.NMEA = string(field[:end])
	return pkt, nil
}
