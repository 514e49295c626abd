package cadence

import (
	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

// PointObservation is the outcome of feeding one point timestamp to a
// PointTracker.
type PointObservation struct {
	State State
	// IntervalUs is the gap to the previous point; zero for the first point
	// and for monotonicity violations.
	IntervalUs uint64
	// Suspicious marks a recharge gap accepted only through the forgiveness margin.
	Suspicious      bool
	ConsecutiveGood uint64
}

// PointTrackerConfig holds the per-point timing windows.
type PointTrackerConfig struct {
	// Firings is the number of lasers fired in one sequence.
	Firings       int
	FiringMaxUs   uint64
	Recharge      Window
	ForgivenessUs uint64
}

// PointConfigForModel derives the per-point windows from a sensor model.
func PointConfigForModel(m *sensor.Model) PointTrackerConfig {
	return PointTrackerConfig{
		Firings:       m.Channels,
		FiringMaxUs:   m.Cadence.FiringMaxUs,
		Recharge:      Window{MinUs: m.Cadence.RechargeMinUs, MaxUs: m.Cadence.RechargeMaxUs},
		ForgivenessUs: m.Cadence.ForgivenessUs,
	}
}

// PointTracker follows the firing/recharge rhythm of individual point
// timestamps. Within a firing sequence successive points are at most
// FiringMaxUs apart; after Firings points the laser bank recharges and the next
// point arrives a Recharge gap later.
//
// The tracker starts Unknown and synchronises on the first recharge gap. A
// recharge gap begins a sequence (Recharging), the following points are
// Firing. Any gap that fits neither rhythm is a TimingViolation and drops the
// tracker back to Unknown until the next recharge gap.
type PointTracker struct {
	cfg PointTrackerConfig

	state           State
	count           int
	prev            uint64
	hasPrev         bool
	consecutiveGood uint64
	counts          Counts
}

// NewPointTracker returns a tracker in the Unknown state.
func NewPointTracker(cfg PointTrackerConfig) *PointTracker {
	return &PointTracker{cfg: cfg}
}

// Observe classifies one point timestamp. Points must be fed in decode order.
func (p *PointTracker) Observe(t uint64) PointObservation {
	var obs PointObservation
	switch {
	case !p.hasPrev:
		obs.State = StateUnknown
		p.prev, p.hasPrev = t, true
	case t < p.prev:
		obs.State = StateMonotonicityViolation
		monitoring.Logf("[cadence] sample time monotonicity violation: %d < %d, %d consecutive good samples",
			t, p.prev, p.consecutiveGood)
	default:
		d := t - p.prev
		obs.IntervalUs = d
		obs.State, obs.Suspicious = p.step(d)
		p.prev = t
	}

	switch {
	case obs.State == StateFiring || obs.State == StateRecharging:
		p.consecutiveGood++
	case obs.State.IsViolation():
		p.consecutiveGood = 0
	}
	p.counts[obs.State]++
	obs.ConsecutiveGood = p.consecutiveGood
	return obs
}

func (p *PointTracker) step(d uint64) (State, bool) {
	switch p.state {
	case StateRecharging:
		if d <= p.cfg.FiringMaxUs {
			p.state, p.count = StateFiring, 1
			return StateFiring, false
		}
		monitoring.Logf("[cadence] firing gap %dus after recharge, resynchronising", d)
		return p.desync(), false

	case StateFiring:
		p.count++
		switch {
		case p.count < p.cfg.Firings && d <= p.cfg.FiringMaxUs:
			return StateFiring, false
		case p.count == p.cfg.Firings && p.cfg.Recharge.Contains(d):
			p.state = StateRecharging
			return StateRecharging, false
		case p.count == p.cfg.Firings && p.cfg.Recharge.Widen(p.cfg.ForgivenessUs).Contains(d):
			monitoring.Logf("[cadence] suspicious recharge time %dus, %d consecutive good samples",
				d, p.consecutiveGood)
			p.state = StateRecharging
			return StateRecharging, true
		case p.count == p.cfg.Firings:
			monitoring.Logf("[cadence] bad recharge time %dus, %d consecutive good samples", d, p.consecutiveGood)
		default:
			monitoring.Logf("[cadence] bad firing time %dus at firing %d, %d consecutive good samples",
				d, p.count, p.consecutiveGood)
		}
		return p.desync(), false

	default:
		p.count++
		if p.cfg.Recharge.Contains(d) {
			p.state, p.count = StateRecharging, 0
			return StateRecharging, false
		}
		if p.count >= p.cfg.Firings {
			monitoring.Logf("[cadence] %d samples without recharge sync", p.count)
			p.count = 0
		}
		return StateUnknown, false
	}
}

func (p *PointTracker) desync() State {
	p.state, p.count = StateUnknown, 0
	return StateTimingViolation
}

// State returns the tracker's current rhythm state: Unknown, Firing or Recharging.
func (p *PointTracker) State() State { return p.state }

// ConsecutiveGood returns the number of in-rhythm samples since the last violation.
func (p *PointTracker) ConsecutiveGood() uint64 { return p.consecutiveGood }

// Counts returns the per-state totals since creation or the last Reset.
func (p *PointTracker) Counts() Counts { return p.counts }

// Reset returns the tracker to its initial state.
func (p *PointTracker) Reset() {
	*p = PointTracker{cfg: p.cfg}
}
