package cadence

import (
	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

// Observation is the outcome of feeding one packet start time to a Validator.
type Observation struct {
	State State
	// TimeUs is the observed timestamp.
	TimeUs uint64
	// IntervalUs is TimeUs minus the previous accepted timestamp. It is only
	// meaningful when HasInterval is set.
	IntervalUs  uint64
	HasInterval bool
	// Forgivable marks a timing violation within the forgiveness margin of
	// the window.
	Forgivable      bool
	ConsecutiveGood uint64
}

// Validator classifies successive packet start times against the expected
// inter-packet period.
//
// The first observation is Unknown. A timestamp earlier than the previous
// accepted one is a MonotonicityViolation and is not accepted. Otherwise the
// timestamp is accepted and is Good if the interval lies in the window, a
// TimingViolation if not.
type Validator struct {
	window      Window
	forgiveness uint64

	prev            uint64
	hasPrev         bool
	state           State
	consecutiveGood uint64
	counts          Counts
}

// NewValidator returns a validator for the given window. Intervals outside
// the window but within forgivenessUs of it are still violations, flagged
// Forgivable.
func NewValidator(window Window, forgivenessUs uint64) *Validator {
	return &Validator{window: window, forgiveness: forgivenessUs}
}

// NewModelValidator returns a validator using the model's cadence settings.
func NewModelValidator(m *sensor.Model) *Validator {
	return NewValidator(PacketWindow(m), m.Cadence.ForgivenessUs)
}

// Observe classifies t and updates the validator.
func (v *Validator) Observe(t uint64) Observation {
	obs := Observation{TimeUs: t}
	switch {
	case !v.hasPrev:
		obs.State = StateUnknown
		v.prev, v.hasPrev = t, true
	case t < v.prev:
		obs.State = StateMonotonicityViolation
		monitoring.Logf("[cadence] packet monotonicity violation: %d < %d, %d consecutive good packets",
			t, v.prev, v.consecutiveGood)
	default:
		d := t - v.prev
		obs.IntervalUs, obs.HasInterval = d, true
		if v.window.Contains(d) {
			obs.State = StateGood
		} else {
			obs.State = StateTimingViolation
			obs.Forgivable = v.forgiveness > 0 && v.window.Widen(v.forgiveness).Contains(d)
			if obs.Forgivable {
				monitoring.Logf("[cadence] suspicious time between packets %dus, %d consecutive good packets",
					d, v.consecutiveGood)
			} else {
				monitoring.Logf("[cadence] time between packets %dus outside [%d, %d], %d consecutive good packets",
					d, v.window.MinUs, v.window.MaxUs, v.consecutiveGood)
			}
		}
		v.prev = t
	}

	if obs.State == StateGood {
		v.consecutiveGood++
	} else if obs.State.IsViolation() {
		v.consecutiveGood = 0
	}
	v.state = obs.State
	v.counts[obs.State]++
	obs.ConsecutiveGood = v.consecutiveGood
	return obs
}

// State returns the state of the most recent observation.
func (v *Validator) State() State { return v.state }

// ConsecutiveGood returns the number of Good observations since the last violation.
func (v *Validator) ConsecutiveGood() uint64 { return v.consecutiveGood }

// Counts returns the per-state totals since creation or the last Reset.
func (v *Validator) Counts() Counts { return v.counts }

// Window returns the tolerance window.
func (v *Validator) Window() Window { return v.window }

// Reset returns the validator to its initial state.
func (v *Validator) Reset() {
	*v = Validator{window: v.window, forgiveness: v.forgiveness}
}
