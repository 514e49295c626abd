// Package cadence checks that sensor timestamps advance at the rate the
// sensor's geometry predicts. Validator works on packet start times and
// PointTracker on individual point times. Both are health signals only and
// never affect the point cloud.
//
// Neither type is safe for concurrent use; feed each from a single goroutine.
package cadence

import "github.com/banshee-data/lidartime/internal/lidar/sensor"

// State is the health state reported for one observed timestamp.
type State int

const (
	StateUnknown State = iota
	StateFiring
	StateRecharging
	StateGood
	StateMonotonicityViolation
	StateTimingViolation

	numStates
)

var stateNames = [numStates]string{
	StateUnknown:               "unknown",
	StateFiring:                "firing",
	StateRecharging:            "recharging",
	StateGood:                  "good",
	StateMonotonicityViolation: "monotonicity_violation",
	StateTimingViolation:       "timing_violation",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return "invalid"
	}
	return stateNames[s]
}

// IsViolation reports whether s is one of the violation states.
func (s State) IsViolation() bool {
	return s == StateMonotonicityViolation || s == StateTimingViolation
}

// Window is a closed interval of microseconds.
type Window struct {
	MinUs uint64
	MaxUs uint64
}

// Contains reports whether MinUs <= d <= MaxUs.
func (w Window) Contains(d uint64) bool {
	return w.MinUs <= d && d <= w.MaxUs
}

// Widen returns the window grown by margin on both sides, never below zero.
func (w Window) Widen(margin uint64) Window {
	lo := uint64(0)
	if w.MinUs > margin {
		lo = w.MinUs - margin
	}
	return Window{MinUs: lo, MaxUs: w.MaxUs + margin}
}

// PacketWindow returns the model's inter-packet tolerance window.
func PacketWindow(m *sensor.Model) Window {
	return Window{MinUs: m.Cadence.PacketPeriodMinUs, MaxUs: m.Cadence.PacketPeriodMaxUs}
}

// Counts tallies observations by state.
type Counts [numStates]uint64

// Of returns the count for one state.
func (c *Counts) Of(s State) uint64 {
	if s < 0 || s >= numStates {
		return 0
	}
	return c[s]
}

// Violations is the sum of both violation states.
func (c *Counts) Violations() uint64 {
	return c[StateMonotonicityViolation] + c[StateTimingViolation]
}

// Total is the number of observations.
func (c *Counts) Total() uint64 {
	var n uint64
	for _, v := range c {
		n += v
	}
	return n
}
