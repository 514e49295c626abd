package parse

import "errors"

var (
	// ErrTruncatedPacket is returned when a buffer is shorter than its packet type demands.
	ErrTruncatedPacket = errors.New("truncated packet")
	// ErrUnknownPacketType is returned when a declared length matches no known packet.
	ErrUnknownPacketType = errors.New("unknown packet type")
	// ErrAzimuthRange reports a raw azimuth above 35999 that was clamped.
	ErrAzimuthRange = errors.New("azimuth out of range")
	// ErrCapacityExceeded reports that the output buffer could not hold every point.
	ErrCapacityExceeded = errors.New("point buffer capacity exceeded")
)

// PacketType classifies a raw buffer.
type PacketType int

const (
	PacketUnknown PacketType = iota
	PacketFiring
	PacketPosition
)

func (t PacketType) String() string {
	switch t {
	case PacketFiring:
		return "firing"
	case PacketPosition:
		return "position"
	default:
		return "unknown"
	}
}

// FiringMeasurement is one laser return.
type FiringMeasurement struct {
	Distance     uint16 // sensor distance units
	Reflectivity uint8
	Channel      uint8
}

// FiringBlock holds one azimuth reading and its two interleaved firing sequences.
type FiringBlock struct {
	Flag         uint16
	Azimuth      uint16 // hundredths of a degree, as read from the wire
	Measurements []FiringMeasurement
}

// FiringPacket is a decoded firing-data packet.
type FiringPacket struct {
	Blocks []FiringBlock
	// Timestamp is microseconds since the top of the hour.
	Timestamp  uint32
	ReturnMode uint8
	ProductID  uint8
	// BadFlags counts blocks whose flag did not match the model.
	BadFlags int
}

// PositionPacket is a decoded position packet.
type PositionPacket struct {
	// Timestamp is microseconds since the top of the hour.
	Timestamp uint32
	PPSStatus uint8
	NMEA      string
}

// Point is one timestamped return in sensor-local spherical coordinates.
type Point struct {
	Distance     float64 // metres
	Polar        float64 // radians, from the channel calibration
	Azimuth      float64 // radians in (-π, π]
	Reflectivity uint8
	Channel      int
	Timestamp    uint64 // µs since the Unix epoch
}
