package network

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/lidartime/internal/gps"
	"github.com/banshee-data/lidartime/internal/lidar/parse"
	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
	"github.com/banshee-data/lidartime/internal/timeutil"
)

// SyntheticConfig configures a SyntheticSource.
type SyntheticConfig struct {
	Model *sensor.Model
	// Start is the absolute time of the first firing packet.
	Start time.Time
	// Packets is the number of firing packets to emit; zero is unbounded.
	Packets int
	// PositionEvery emits a position packet before every n-th firing packet.
	// Zero disables position packets.
	PositionEvery int
	// JitterEvery and JitterUs delay every n-th firing packet timestamp by
	// JitterUs, producing cadence violations on demand.
	JitterEvery int
	JitterUs    int
	// Speed paces emission at the nominal packet period divided by Speed.
	// Zero emits as fast as possible.
	Speed float64
	Clock timeutil.Clock
	// DataPort and PositionPort are reported on the generated packets.
	DataPort     int
	PositionPort int
}

// SyntheticSource generates a VLP-16 style packet stream: a wall at a
// per-channel range seen by a sensor spinning at the model's rotation rate,
// with firing packets at the nominal packet period.
type SyntheticSource struct {
	cfg       SyntheticConfig
	startUs   uint64
	periodUs  float64
	stepCenti float64
	firing    int
	pending   *RawPacket
}

// NewSyntheticSource returns a generator for cfg.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Start.IsZero() {
		cfg.Start = cfg.Clock.Now()
	}
	if cfg.DataPort == 0 {
		cfg.DataPort = DefaultDataPort
	}
	if cfg.PositionPort == 0 {
		cfg.PositionPort = DefaultPositionPort
	}
	m := cfg.Model
	blockUs := float64(m.FiringsPerBlock) * m.FiringSequenceUs()
	return &SyntheticSource{
		cfg:       cfg,
		startUs:   timing.FromTime(cfg.Start),
		periodUs:  m.NominalPacketPeriodUs(),
		stepCenti: blockUs / 1e6 * m.RotationHz * 36000,
	}
}

// Next returns the next synthetic packet.
func (s *SyntheticSource) Next(ctx context.Context) (RawPacket, error) {
	if err := ctx.Err(); err != nil {
		return RawPacket{}, err
	}
	if s.pending != nil {
		pkt := *s.pending
		s.pending = nil
		return pkt, nil
	}
	if s.cfg.Packets > 0 && s.firing >= s.cfg.Packets {
		return RawPacket{}, ErrEndOfStream
	}
	if s.cfg.Speed > 0 && s.firing > 0 {
		delay := time.Duration(s.periodUs / s.cfg.Speed * float64(time.Microsecond))
		select {
		case <-ctx.Done():
			return RawPacket{}, ctx.Err()
		case <-s.cfg.Clock.After(delay):
		}
	}

	k := s.firing
	s.firing++
	nowUs := s.startUs + uint64(math.Floor(float64(k)*s.periodUs))
	if s.cfg.JitterEvery > 0 && k > 0 && k%s.cfg.JitterEvery == 0 {
		nowUs += uint64(s.cfg.JitterUs)
	}
	firing := s.firingPacket(k, nowUs)

	if s.cfg.PositionEvery > 0 && k%s.cfg.PositionEvery == 0 {
		s.pending = &firing
		return s.positionPacket(nowUs), nil
	}
	return firing, nil
}

func (s *SyntheticSource) firingPacket(k int, nowUs uint64) RawPacket {
	m := s.cfg.Model
	pkt := &parse.FiringPacket{
		Timestamp:  uint32(nowUs - timing.TopOfHour(nowUs)),
		ReturnMode: 0x37,
		ProductID:  0x22,
		Blocks:     make([]parse.FiringBlock, m.BlocksPerPacket),
	}
	perBlock := m.MeasurementsPerBlock()
	for b := range pkt.Blocks {
		az := math.Mod(float64(k*m.BlocksPerPacket+b)*s.stepCenti, 36000)
		block := &pkt.Blocks[b]
		block.Azimuth = uint16(az)
		block.Measurements = make([]parse.FiringMeasurement, perBlock)
		for j := range block.Measurements {
			ch := j % m.Channels
			rangeM := 10 + 0.25*float64(ch)
			block.Measurements[j] = parse.FiringMeasurement{
				Distance:     uint16(rangeM / m.DistanceUnitM),
				Reflectivity: uint8(10 * ch),
				Channel:      uint8(ch),
			}
		}
	}
	// The model validates block and measurement counts, so encoding cannot fail.
	data, _ := parse.EncodeFiringPacket(m, pkt)
	return RawPacket{
		Data:           data,
		DeclaredLength: m.FiringDeclaredLength(),
		CaptureTime:    timing.ToTime(nowUs),
		Port:           s.cfg.DataPort,
	}
}

func (s *SyntheticSource) positionPacket(nowUs uint64) RawPacket {
	m := s.cfg.Model
	data := parse.EncodePositionPacket(m, &parse.PositionPacket{
		Timestamp: uint32(nowUs - timing.TopOfHour(nowUs)),
		PPSStatus: 2,
		NMEA:      gps.FormatRMC(timing.ToTime(nowUs)),
	})
	return RawPacket{
		Data:           data,
		DeclaredLength: m.PositionDeclaredLength(),
		CaptureTime:    timing.ToTime(nowUs),
		Port:           s.cfg.PositionPort,
	}
}

// Close is a no-op.
func (s *SyntheticSource) Close() error { return nil }
