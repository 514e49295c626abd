package parse

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
)

// BuildResult reports what Build wrote into the caller's buffer.
type BuildResult struct {
	// N is the number of points written to dst[:N].
	N int
	// Truncated is set when dst was shorter than the packet's point count.
	Truncated bool
	// ClampedBlocks counts blocks whose raw azimuth exceeded 35999.
	ClampedBlocks int
	// DeltaAzimuth is the per-firing-slot increment applied to the packet, in radians.
	DeltaAzimuth float64
	// PacketStartUs is the absolute time of the packet's first firing.
	PacketStartUs uint64
}

// Err folds the non-fatal conditions of a build into one error, or nil.
func (r BuildResult) Err() error {
	var errs []error
	if r.Truncated {
		errs = append(errs, fmt.Errorf("wrote %d points: %w", r.N, ErrCapacityExceeded))
	}
	if r.ClampedBlocks > 0 {
		errs = append(errs, fmt.Errorf("%d blocks clamped: %w", r.ClampedBlocks, ErrAzimuthRange))
	}
	return errors.Join(errs...)
}

// Builder turns decoded firing packets into timestamped points.
// It holds scratch space and must not be shared between goroutines.
type Builder struct {
	model    *sensor.Model
	azimuths []float64
	halves   []float64
}

// NewBuilder returns a builder for the given model.
func NewBuilder(model *sensor.Model) *Builder {
	return &Builder{
		model:    model,
		azimuths: make([]float64, model.BlocksPerPacket),
		halves:   make([]float64, 0, model.BlocksPerPacket),
	}
}

// Build writes the points of pkt into dst in block, firing slot, channel order
// and stops when dst is full. Size dst with Model.PointsPerPacket to avoid
// truncation. hourBoundaryUs is the absolute start of the hour the packet
// timestamp counts from.
func (b *Builder) Build(dst []Point, pkt *FiringPacket, hourBoundaryUs uint64) BuildResult {
	m := b.model
	res := BuildResult{PacketStartUs: timing.PacketStartTime(hourBoundaryUs, pkt.Timestamp)}

	blocks := pkt.Blocks
	if len(blocks) > len(b.azimuths) {
		blocks = blocks[:len(b.azimuths)]
	}
	azimuths := b.azimuths[:len(blocks)]
	for i := range blocks {
		az, clamped := DecodeAzimuth(blocks[i].Azimuth)
		if clamped {
			res.ClampedBlocks++
		}
		azimuths[i] = az
	}

	if m.DeltaAzimuth == sensor.DeltaAzimuthFixed || len(azimuths) < 2 {
		res.DeltaAzimuth = m.FixedDeltaAzimuth()
	} else {
		res.DeltaAzimuth = b.rmsDeltaAzimuth(azimuths)
	}

	channelStep := m.ChannelAzimuthStep()
	perBlock := m.MeasurementsPerBlock()
	n := 0
build:
	for bi := range blocks {
		measurements := blocks[bi].Measurements
		if len(measurements) > perBlock {
			measurements = measurements[:perBlock]
		}
		for j, meas := range measurements {
			if n == len(dst) {
				res.Truncated = true
				break build
			}
			slot := j / m.Channels
			ch := j % m.Channels
			az := azimuths[bi] + float64(slot)*res.DeltaAzimuth + float64(ch)*channelStep
			dst[n] = Point{
				Distance:     float64(meas.Distance) * m.DistanceUnitM,
				Polar:        m.PolarAngle(ch),
				Azimuth:      NormalizeAngle(az),
				Reflectivity: meas.Reflectivity,
				Channel:      ch,
				Timestamp:    timing.PointTime(res.PacketStartUs, m.PointTimeOffsetNs(bi*perBlock+j)),
			}
			n++
		}
	}
	res.N = n
	return res
}

// BuildPoints allocates a full-size buffer and returns the built points.
func (b *Builder) BuildPoints(pkt *FiringPacket, hourBoundaryUs uint64) ([]Point, BuildResult) {
	dst := make([]Point, b.model.PointsPerPacket())
	res := b.Build(dst, pkt, hourBoundaryUs)
	return dst[:res.N], res
}

// rmsDeltaAzimuth is the root mean square of half the successive block azimuth
// differences over len-1 degrees of freedom. A negative difference is a
// wrap through ±π and gains half a turn.
func (b *Builder) rmsDeltaAzimuth(azimuths []float64) float64 {
	halves := b.halves[:0]
	for i := 1; i < len(azimuths); i++ {
		d := 0.5 * (azimuths[i] - azimuths[i-1])
		if d < 0 {
			d += math.Pi
		}
		halves = append(halves, d)
	}
	b.halves = halves
	return math.Sqrt(floats.Dot(halves, halves) / float64(len(halves)))
}

// DeltaAzimuth computes the RMS per-firing azimuth increment for a set of
// block azimuths in radians.
func DeltaAzimuth(azimuths []float64) float64 {
	if len(azimuths) < 2 {
		return 0
	}
	b := Builder{halves: make([]float64, 0, len(azimuths)-1)}
	return b.rmsDeltaAzimuth(azimuths)
}
