package sensor

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

/*
Sensor model

A Model is the immutable description of one firing-packet geometry: how many
blocks and lasers a packet carries, where the trailing timestamp lives, how
far apart the lasers fire, and which vertical angle each laser points at.
Every consumer (decoder, point builder, cadence validator) receives the model
explicitly, so several sensor models can be decoded side by side.

FIRING PACKET (VLP-16, 1206 bytes):
├── 12 blocks × 100 bytes
│   └── flag (2) + azimuth (2, LE, 0.01°) + 32 × [distance (2, LE) + reflectivity (1)]
├── timestamp (4, LE, µs since top of the hour)
└── factory field (2): return mode + product id

POSITION PACKET (512 bytes):
└── ... timestamp (4) @198, PPS status (1) @202, NMEA sentence (72) @206 ...
*/

//go:embed models/*.yaml
var embeddedModels embed.FS

// ErrInvalidModel is returned when a model description is inconsistent.
var ErrInvalidModel = errors.New("invalid sensor model")

// DeltaAzimuthMode selects how the per-firing azimuth increment is obtained.
type DeltaAzimuthMode string

const (
	// DeltaAzimuthComputed derives the increment from the block azimuths of
	// each packet (RMS of the half inter-block differences).
	DeltaAzimuthComputed DeltaAzimuthMode = "computed"
	// DeltaAzimuthFixed uses FixedDeltaAzimuthDeg for every packet.
	DeltaAzimuthFixed DeltaAzimuthMode = "fixed"
)

// PositionLayout locates the fields of a position packet.
type PositionLayout struct {
	TimestampOffset int `yaml:"timestamp_offset"`
	PPSStatusOffset int `yaml:"pps_status_offset"`
	NMEAOffset      int `yaml:"nmea_offset"`
	NMEALength      int `yaml:"nmea_length"`
}

// CadenceConfig holds the tolerance windows used by the cadence validator.
// All values are microseconds.
type CadenceConfig struct {
	PacketPeriodMinUs uint64 `yaml:"packet_period_min_us"`
	PacketPeriodMaxUs uint64 `yaml:"packet_period_max_us"`
	FiringMaxUs       uint64 `yaml:"firing_max_us"`
	RechargeMinUs     uint64 `yaml:"recharge_min_us"`
	RechargeMaxUs     uint64 `yaml:"recharge_max_us"`
	ForgivenessUs     uint64 `yaml:"forgiveness_us"`
}

// Model describes a mechanical spinning LiDAR's packet geometry and timing.
// A Model returned by LoadModel or DefaultModel must not be modified.
type Model struct {
	Name               string    `yaml:"name"`
	Channels           int       `yaml:"channels"`
	BlocksPerPacket    int       `yaml:"blocks_per_packet"`
	FiringsPerBlock    int       `yaml:"firings_per_block"`
	FiringPacketSize   int       `yaml:"firing_packet_size"`
	PositionPacketSize int       `yaml:"position_packet_size"`
	LinkHeaderSize     int       `yaml:"link_header_size"`
	BlockFlag          uint16    `yaml:"block_flag"`
	RotationHz         float64   `yaml:"rotation_hz"`
	DistanceUnitM      float64   `yaml:"distance_unit_m"`
	FiringCycleUs      float64   `yaml:"firing_cycle_us"`
	RechargeUs         float64   `yaml:"recharge_us"`
	PolarAnglesDeg     []float64 `yaml:"polar_angles_deg"`

	// PointTimeOffsetsUs overrides the derived intra-packet offset table.
	PointTimeOffsetsUs   []float64        `yaml:"point_time_offsets_us,omitempty"`
	DeltaAzimuth         DeltaAzimuthMode `yaml:"delta_azimuth"`
	FixedDeltaAzimuthDeg float64          `yaml:"fixed_delta_azimuth_deg"`
	Position             PositionLayout   `yaml:"position"`
	Cadence              CadenceConfig    `yaml:"cadence"`

	polarRad  []float64
	offsetsNs []int64
}

// LoadModel reads a YAML model description from disk.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read sensor model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a YAML model description.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode sensor model: %w", err)
	}
	if err := m.prepare(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadEmbeddedModel loads one of the models compiled into the binary by file
// stem, e.g. "vlp16".
func LoadEmbeddedModel(name string) (*Model, error) {
	data, err := embeddedModels.ReadFile("models/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("open embedded sensor model %q: %w", name, err)
	}
	return ParseModel(data)
}

// DefaultModel returns the embedded VLP-16 model.
func DefaultModel() *Model {
	m, err := LoadEmbeddedModel("vlp16")
	if err != nil {
		// The embedded file is covered by tests; reaching this is a build defect.
		panic(err)
	}
	return m
}

// Validate reports whether the model is internally consistent.
func (m *Model) Validate() error {
	switch {
	case m.Channels <= 0 || m.Channels > MaxChannels:
		return fmt.Errorf("%w: channels must be in [1, %d], got %d", ErrInvalidModel, MaxChannels, m.Channels)
	case m.BlocksPerPacket <= 0:
		return fmt.Errorf("%w: blocks_per_packet must be positive, got %d", ErrInvalidModel, m.BlocksPerPacket)
	case m.FiringsPerBlock <= 0:
		return fmt.Errorf("%w: firings_per_block must be positive, got %d", ErrInvalidModel, m.FiringsPerBlock)
	case len(m.PolarAnglesDeg) != m.Channels:
		return fmt.Errorf("%w: %d polar angles for %d channels", ErrInvalidModel, len(m.PolarAnglesDeg), m.Channels)
	case m.DistanceUnitM <= 0:
		return fmt.Errorf("%w: distance_unit_m must be positive", ErrInvalidModel)
	case m.RotationHz <= 0:
		return fmt.Errorf("%w: rotation_hz must be positive", ErrInvalidModel)
	case m.FiringCycleUs <= 0 || m.RechargeUs < 0:
		return fmt.Errorf("%w: firing_cycle_us must be positive and recharge_us non-negative", ErrInvalidModel)
	}

	if want := m.RangingDataSize() + TimestampSize + FactorySize; m.FiringPacketSize != want {
		return fmt.Errorf("%w: firing_packet_size %d does not match geometry (%d)", ErrInvalidModel, m.FiringPacketSize, want)
	}
	if m.LinkHeaderSize < 0 {
		return fmt.Errorf("%w: link_header_size must not be negative", ErrInvalidModel)
	}
	if m.PositionPacketSize == m.FiringPacketSize {
		return fmt.Errorf("%w: position and firing packets share size %d", ErrInvalidModel, m.FiringPacketSize)
	}

	p := m.Position
	if p.TimestampOffset < 0 || p.TimestampOffset+TimestampSize > m.PositionPacketSize ||
		p.PPSStatusOffset < 0 || p.PPSStatusOffset >= m.PositionPacketSize ||
		p.NMEAOffset < 0 || p.NMEALength <= 0 || p.NMEAOffset+p.NMEALength > m.PositionPacketSize {
		return fmt.Errorf("%w: position fields exceed %d-byte packet", ErrInvalidModel, m.PositionPacketSize)
	}

	if n := len(m.PointTimeOffsetsUs); n != 0 && n != m.PointsPerPacket() {
		return fmt.Errorf("%w: %d point time offsets for %d points", ErrInvalidModel, n, m.PointsPerPacket())
	}

	switch m.DeltaAzimuth {
	case DeltaAzimuthComputed:
	case DeltaAzimuthFixed:
		if m.FixedDeltaAzimuthDeg <= 0 {
			return fmt.Errorf("%w: fixed delta azimuth requires fixed_delta_azimuth_deg > 0", ErrInvalidModel)
		}
	default:
		return fmt.Errorf("%w: unknown delta_azimuth mode %q", ErrInvalidModel, m.DeltaAzimuth)
	}

	c := m.Cadence
	if c.PacketPeriodMinUs == 0 && c.PacketPeriodMaxUs == 0 {
		if floor := uint64(math.Floor(m.NominalPacketPeriodUs())); c.ForgivenessUs >= floor {
			return fmt.Errorf("%w: forgiveness_us %d must be below the %d us packet period",
				ErrInvalidModel, c.ForgivenessUs, floor)
		}
	}
	return validateCadence(c)
}

func validateCadence(c CadenceConfig) error {
	if c.PacketPeriodMinUs > c.PacketPeriodMaxUs || c.RechargeMinUs > c.RechargeMaxUs {
		return fmt.Errorf("%w: cadence window min exceeds max", ErrInvalidModel)
	}
	return nil
}

// prepare fills derived defaults, validates, and builds the lookup tables.
func (m *Model) prepare() error {
	if m.DeltaAzimuth == "" {
		m.DeltaAzimuth = DeltaAzimuthComputed
	}
	if err := m.Validate(); err != nil {
		return err
	}
	m.fillCadenceDefaults()
	if err := validateCadence(m.Cadence); err != nil {
		return err
	}

	m.polarRad = make([]float64, m.Channels)
	for i, deg := range m.PolarAnglesDeg {
		m.polarRad[i] = deg * math.Pi / 180.0
	}

	n := m.PointsPerPacket()
	m.offsetsNs = make([]int64, n)
	if len(m.PointTimeOffsetsUs) == n {
		for i, us := range m.PointTimeOffsetsUs {
			m.offsetsNs[i] = int64(math.Round(us * 1000))
		}
		return nil
	}

	cycleNs := int64(math.Round(m.FiringCycleUs * 1000))
	sequenceNs := int64(math.Round(m.FiringSequenceUs() * 1000))
	for i := 0; i < n; i++ {
		seq := int64(i / m.Channels)
		ch := int64(i % m.Channels)
		m.offsetsNs[i] = seq*sequenceNs + ch*cycleNs
	}
	return nil
}

func (m *Model) fillCadenceDefaults() {
	c := &m.Cadence
	if c.PacketPeriodMinUs == 0 && c.PacketPeriodMaxUs == 0 {
		nominal := m.NominalPacketPeriodUs()
		if floor := uint64(math.Floor(nominal)); floor > c.ForgivenessUs {
			c.PacketPeriodMinUs = floor - c.ForgivenessUs
		}
		c.PacketPeriodMaxUs = uint64(math.Ceil(nominal)) + c.ForgivenessUs
	}
	if c.FiringMaxUs == 0 {
		c.FiringMaxUs = uint64(math.Ceil(m.FiringCycleUs))
	}
	if c.RechargeMinUs == 0 && c.RechargeMaxUs == 0 {
		gap := m.RechargeUs + m.FiringCycleUs
		c.RechargeMinUs = uint64(math.Floor(gap))
		c.RechargeMaxUs = uint64(math.Ceil(gap))
	}
}

const (
	// BlockHeaderSize is the flag plus azimuth preceding each block's returns.
	BlockHeaderSize = 4
	// BytesPerMeasurement is distance (2) plus reflectivity (1).
	BytesPerMeasurement = 3
	// TimestampSize is the trailing µs-since-hour field.
	TimestampSize = 4
	// FactorySize is the trailing return-mode/product-id field.
	FactorySize = 2
	// MaxAzimuth is the largest valid raw azimuth (359.99°).
	MaxAzimuth = 35999
	// MaxChannels is the most channels a one-byte channel index can address.
	MaxChannels = 256
)

// MeasurementsPerBlock is firings × channels.
func (m *Model) MeasurementsPerBlock() int { return m.FiringsPerBlock * m.Channels }

// BlockSize is the byte stride between blocks.
func (m *Model) BlockSize() int {
	return BlockHeaderSize + m.MeasurementsPerBlock()*BytesPerMeasurement
}

// RangingDataSize is the byte length of all blocks together.
func (m *Model) RangingDataSize() int { return m.BlocksPerPacket * m.BlockSize() }

// TimestampOffset is where the µs-since-hour field starts in a firing packet.
func (m *Model) TimestampOffset() int { return m.RangingDataSize() }

// PointsPerPacket is the theoretical maximum number of points per packet.
func (m *Model) PointsPerPacket() int { return m.BlocksPerPacket * m.MeasurementsPerBlock() }

// FiringSequenceUs is the duration of one full firing sequence including recharge.
func (m *Model) FiringSequenceUs() float64 {
	return float64(m.Channels)*m.FiringCycleUs + m.RechargeUs
}

// NominalPacketPeriodUs is the expected time between successive firing packets.
func (m *Model) NominalPacketPeriodUs() float64 {
	return float64(m.BlocksPerPacket*m.FiringsPerBlock) * m.FiringSequenceUs()
}

// AngularVelocity returns the rotation rate in rad/s.
func (m *Model) AngularVelocity() float64 { return 2 * math.Pi * m.RotationHz }

// ChannelAzimuthStep is the rotation between two successive laser firings in radians.
func (m *Model) ChannelAzimuthStep() float64 {
	return m.FiringCycleUs / 1e6 * m.AngularVelocity()
}

// FixedDeltaAzimuth returns the configured per-firing increment in radians.
func (m *Model) FixedDeltaAzimuth() float64 {
	return m.FixedDeltaAzimuthDeg * math.Pi / 180.0
}

// PolarAngle returns the calibrated vertical angle of a channel in radians.
func (m *Model) PolarAngle(channel int) float64 { return m.polarRad[channel] }

// PointTimeOffsetNs returns the intra-packet firing delay of the i-th point in
// decode order. It panics if i is outside [0, PointsPerPacket()).
func (m *Model) PointTimeOffsetNs(i int) int64 { return m.offsetsNs[i] }

// FiringDeclaredLength is the on-wire length of a firing packet including the
// link-layer header.
func (m *Model) FiringDeclaredLength() int { return m.FiringPacketSize + m.LinkHeaderSize }

// PositionDeclaredLength is the on-wire length of a position packet including
// the link-layer header.
func (m *Model) PositionDeclaredLength() int { return m.PositionPacketSize + m.LinkHeaderSize }

// WithCadence returns a copy of the model using the given cadence windows.
// Zero windows are filled from the model geometry as in LoadModel.
func (m *Model) WithCadence(c CadenceConfig) (*Model, error) {
	cp := *m
	cp.Cadence = c
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	cp.fillCadenceDefaults()
	if err := validateCadence(cp.Cadence); err != nil {
		return nil, err
	}
	return &cp, nil
}
