package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidartime/internal/db"
	"github.com/banshee-data/lidartime/internal/gps"
	"github.com/banshee-data/lidartime/internal/lidar/cadence"
	"github.com/banshee-data/lidartime/internal/lidar/network"
	"github.com/banshee-data/lidartime/internal/lidar/parse"
	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
	"github.com/banshee-data/lidartime/internal/monitoring"
	"github.com/banshee-data/lidartime/internal/report"
	"github.com/banshee-data/lidartime/internal/timeutil"
)

// Per-packet log sampling: the first logFirst occurrences, then every logEvery-th.
const (
	logFirst = 5
	logEvery = 1000
)

// PointSink receives the points of each firing packet. The slice is reused
// after the call returns.
type PointSink func(points []parse.Point, res parse.BuildResult)

// EventStore persists cadence violations.
type EventStore interface {
	InsertCadenceEvent(e db.CadenceEvent) (int64, error)
}

// HealthReporter receives the packet cadence state after every firing packet.
type HealthReporter interface {
	Update(state cadence.State)
}

// Forwarder receives a copy of every raw packet.
type Forwarder interface {
	ForwardAsync(packet []byte)
}

// Config wires the optional collaborators of a Pipeline. Only Model is
// required.
type Config struct {
	Model *sensor.Model
	// Reference is shared with other time sources such as a GPS serial
	// reader. A fresh one is used when nil.
	Reference *timing.Reference
	SessionID string

	Stats     *monitoring.PacketStats
	Metrics   *monitoring.Collector
	Health    HealthReporter
	Events    EventStore
	Forwarder Forwarder
	Recorder  *report.Recorder
	Sink      PointSink

	// TrackPoints runs the per-point firing/recharge tracker.
	TrackPoints bool
	// LogInterval is the period of throughput log lines; zero disables them.
	LogInterval  time.Duration
	DebugPackets int
	Clock        timeutil.Clock
}

// Summary totals a pipeline run.
type Summary struct {
	SessionID       string
	FiringPackets   uint64
	PositionPackets uint64
	UnknownPackets  uint64
	DecodeErrors    uint64
	Points          uint64
	ClampedBlocks   uint64
	TruncatedBuilds uint64
	ReferenceFixes  uint64
	Packet          cadence.Counts
	Point           cadence.Counts
	FirstPacketUs   uint64
	LastPacketUs    uint64
}

// DBSummary converts the summary into the stored session counters.
func (s Summary) DBSummary() db.SessionSummary {
	return db.SessionSummary{
		FiringPackets:          s.FiringPackets,
		PositionPackets:        s.PositionPackets,
		UnknownPackets:         s.UnknownPackets,
		DecodeErrors:           s.DecodeErrors,
		Points:                 s.Points,
		ClampedBlocks:          s.ClampedBlocks,
		GoodPackets:            s.Packet.Of(cadence.StateGood),
		MonotonicityViolations: s.Packet.Of(cadence.StateMonotonicityViolation),
		TimingViolations:       s.Packet.Of(cadence.StateTimingViolation),
		FirstPacketUs:          s.FirstPacketUs,
		LastPacketUs:           s.LastPacketUs,
	}
}

// Pipeline processes raw packets one at a time. HandlePacket and Run must not
// be called concurrently; Summary may be called from any goroutine.
type Pipeline struct {
	cfg       Config
	decoder   *parse.Decoder
	builder   *parse.Builder
	validator *cadence.Validator
	tracker   *cadence.PointTracker
	ref       *timing.Reference
	points    []parse.Point

	mu      sync.Mutex
	summary Summary

	// lastStartUs is the latest packet start seen, and anchorRefUs the
	// reference value it was resolved under.
	lastStartUs    uint64
	anchorRefUs    uint64
	fallbackLogged bool
	eventErrors    uint64
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Model == nil {
		return nil, errors.New("pipeline: model is required")
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Reference == nil {
		cfg.Reference = &timing.Reference{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	p := &Pipeline{
		cfg:       cfg,
		decoder:   parse.NewDecoder(cfg.Model),
		builder:   parse.NewBuilder(cfg.Model),
		validator: cadence.NewModelValidator(cfg.Model),
		ref:       cfg.Reference,
		points:    make([]parse.Point, cfg.Model.PointsPerPacket()),
		summary:   Summary{SessionID: cfg.SessionID},
	}
	if cfg.TrackPoints {
		p.tracker = cadence.NewPointTracker(cadence.PointConfigForModel(cfg.Model))
	}
	if cfg.DebugPackets > 0 {
		p.decoder.SetDebugPackets(cfg.DebugPackets)
	}
	return p, nil
}

// SessionID identifies this run in logs and the event store.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// Reference returns the absolute time reference the pipeline resolves hours against.
func (p *Pipeline) Reference() *timing.Reference { return p.ref }

// Summary returns a snapshot of the run totals.
func (p *Pipeline) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.summary
	s.Packet = p.validator.Counts()
	if p.tracker != nil {
		s.Point = p.tracker.Counts()
	}
	return s
}

// Run pulls packets from src until it is exhausted or ctx is done. Per-packet
// errors are logged and skipped. Exhaustion returns a nil error;
// cancellation returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context, src network.PacketSource) (Summary, error) {
	monitoring.Logf("[pipeline] session %s started (model %s)", p.cfg.SessionID, p.cfg.Model.Name)

	if p.cfg.Stats != nil && p.cfg.LogInterval > 0 {
		statsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go p.logStats(statsCtx)
	}

	var skipped uint64
	for {
		if err := ctx.Err(); err != nil {
			return p.finish(err)
		}
		pkt, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, network.ErrTimeout):
			continue
		case errors.Is(err, network.ErrEndOfStream):
			return p.finish(nil)
		case ctx.Err() != nil:
			return p.finish(ctx.Err())
		default:
			return p.finish(fmt.Errorf("read packet: %w", err))
		}

		if err := p.HandlePacket(pkt); err != nil {
			skipped++
			if monitoring.Sampled(skipped, logFirst, logEvery) {
				monitoring.Logf("[pipeline] skipped packet %d (len %d): %v", skipped, pkt.DeclaredLength, err)
			}
		}
	}
}

func (p *Pipeline) finish(err error) (Summary, error) {
	s := p.Summary()
	monitoring.Logf("[pipeline] session %s: %d firing, %d position, %d unknown, %d decode errors, %s points, %d good, %d violations",
		s.SessionID, s.FiringPackets, s.PositionPackets, s.UnknownPackets, s.DecodeErrors,
		monitoring.FormatWithCommas(int64(s.Points)), s.Packet.Of(cadence.StateGood), s.Packet.Violations())
	return s, err
}

func (p *Pipeline) logStats(ctx context.Context) {
	ticker := p.cfg.Clock.NewTicker(p.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.cfg.Stats.LogStats()
		}
	}
}

// HandlePacket classifies, decodes and processes one raw packet.
func (p *Pipeline) HandlePacket(raw network.RawPacket) error {
	if p.cfg.Forwarder != nil {
		p.cfg.Forwarder.ForwardAsync(raw.Data)
	}

	kind := p.decoder.Classify(raw.DeclaredLength)
	p.cfg.Metrics.ObservePacket(kind.String())

	switch kind {
	case parse.PacketFiring:
		return p.handleFiring(raw)
	case parse.PacketPosition:
		return p.handlePosition(raw)
	default:
		p.mu.Lock()
		p.summary.UnknownPackets++
		p.mu.Unlock()
		if p.cfg.Stats != nil {
			p.cfg.Stats.AddDropped()
		}
		_, err := p.decoder.ClassifyErr(raw.DeclaredLength)
		return err
	}
}

func (p *Pipeline) handleFiring(raw network.RawPacket) error {
	pkt, err := p.decoder.DecodeFiringPacket(raw.Data)
	if err != nil {
		p.decodeFailed(parse.PacketFiring)
		return err
	}

	hour := p.hourFor(pkt.Timestamp, raw.CaptureTime)
	res := p.builder.Build(p.points, pkt, hour)
	p.lastStartUs = max(p.lastStartUs, res.PacketStartUs)
	points := p.points[:res.N]
	if err := res.Err(); err != nil {
		monitoring.Logf("[pipeline] packet at %d us: %v", res.PacketStartUs, err)
	}

	p.cfg.Metrics.ObserveBuild(res.N, res.ClampedBlocks, res.Truncated)
	if p.cfg.Stats != nil {
		p.cfg.Stats.AddFiring(len(raw.Data), res.N)
	}
	if p.cfg.Sink != nil {
		p.cfg.Sink(points, res)
	}

	p.mu.Lock()
	index := p.summary.FiringPackets
	p.summary.FiringPackets++
	p.summary.Points += uint64(res.N)
	p.summary.ClampedBlocks += uint64(res.ClampedBlocks)
	if res.Truncated {
		p.summary.TruncatedBuilds++
	}
	if p.summary.FirstPacketUs == 0 {
		p.summary.FirstPacketUs = res.PacketStartUs
	}
	p.summary.LastPacketUs = res.PacketStartUs

	if p.tracker != nil {
		for i := range points {
			p.tracker.Observe(points[i].Timestamp)
		}
	}
	obs := p.validator.Observe(res.PacketStartUs)
	p.mu.Unlock()

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.Add(res.PacketStartUs)
	}
	p.cfg.Metrics.ObserveCadence(obs.State.String(), obs.ConsecutiveGood, float64(obs.IntervalUs), obs.HasInterval)
	if p.cfg.Health != nil {
		p.cfg.Health.Update(obs.State)
	}
	if obs.State.IsViolation() {
		p.recordViolation(index, obs)
	}
	return nil
}

func (p *Pipeline) handlePosition(raw network.RawPacket) error {
	pkt, err := p.decoder.DecodePositionPacket(raw.Data)
	if err != nil {
		p.decodeFailed(parse.PacketPosition)
		return err
	}
	if p.cfg.Stats != nil {
		p.cfg.Stats.AddPosition(len(raw.Data))
	}

	p.mu.Lock()
	p.summary.PositionPackets++
	n := p.summary.PositionPackets
	p.mu.Unlock()

	us, err := gps.ParseTimeSentence(pkt.NMEA)
	if err != nil {
		// Receivers without a fix send an empty or invalid sentence.
		if monitoring.Sampled(n, 1, logEvery) {
			monitoring.Logf("[pipeline] position packet %d carries no usable time: %v", n, err)
		}
		return nil
	}
	p.ref.Set(us)

	p.mu.Lock()
	p.summary.ReferenceFixes++
	first := p.summary.ReferenceFixes == 1
	p.mu.Unlock()
	if first {
		monitoring.Logf("[pipeline] time reference acquired: %s", timing.ToTime(us).Format(time.RFC3339))
	}
	return nil
}

// hourFor resolves the top of the hour for a packet timestamp. A new
// reference fix is taken as is; between fixes the latest packet start is the
// anchor, so a stale fix cannot pull packets back into the previous hour.
// Without an absolute reference it falls back to the capture time, and
// without that to the stream itself starting at hour zero.
func (p *Pipeline) hourFor(offsetUs uint32, captured time.Time) uint64 {
	if ref, ok := p.ref.Get(); ok {
		anchor := ref
		if ref == p.anchorRefUs {
			anchor = max(ref, p.lastStartUs)
		}
		p.anchorRefUs = ref
		return timing.ResolveHour(anchor, offsetUs)
	}
	if !p.fallbackLogged {
		p.fallbackLogged = true
		monitoring.Logf("[pipeline] no absolute time reference yet, using capture time")
	}
	if !captured.IsZero() {
		return timing.ResolveHour(timing.FromTime(captured), offsetUs)
	}
	return timing.ResolveHour(p.lastStartUs, offsetUs)
}

func (p *Pipeline) decodeFailed(kind parse.PacketType) {
	p.cfg.Metrics.ObserveDecodeError(kind.String())
	if p.cfg.Stats != nil {
		p.cfg.Stats.AddDropped()
	}
	p.mu.Lock()
	p.summary.DecodeErrors++
	p.mu.Unlock()
}

func (p *Pipeline) recordViolation(index uint64, obs cadence.Observation) {
	if p.cfg.Stats != nil {
		p.cfg.Stats.AddViolation()
	}
	if p.cfg.Events == nil {
		return
	}

	e := db.CadenceEvent{
		SessionID:    p.cfg.SessionID,
		PacketIndex:  index,
		PacketTimeUs: obs.TimeUs,
		State:        obs.State.String(),
		Forgivable:   obs.Forgivable,
	}
	if obs.HasInterval {
		interval := int64(obs.IntervalUs)
		e.IntervalUs = &interval
	}
	if _, err := p.cfg.Events.InsertCadenceEvent(e); err != nil {
		p.eventErrors++
		if monitoring.Sampled(p.eventErrors, 1, logEvery) {
			monitoring.Logf("[pipeline] failed to store cadence event: %v", err)
		}
	}
}
