package cadence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

func muteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(monitoring.ResetLogger)
}

func observeAll(v *Validator, ts ...uint64) []State {
	states := make([]State, len(ts))
	for i, t := range ts {
		states[i] = v.Observe(t).State
	}
	return states
}

func TestValidatorSequence(t *testing.T) {
	muteLogs(t)
	v := NewValidator(Window{MinUs: 53, MaxUs: 57}, 0)

	got := observeAll(v, 1000, 1055, 1110, 1200)
	assert.Equal(t, []State{StateUnknown, StateGood, StateGood, StateTimingViolation}, got)
	assert.Equal(t, StateTimingViolation, v.State())
	assert.Zero(t, v.ConsecutiveGood())
}

func TestValidatorMonotonicityDoesNotAdvance(t *testing.T) {
	muteLogs(t)
	v := NewValidator(Window{MinUs: 53, MaxUs: 57}, 0)

	got := observeAll(v, 1000, 900)
	assert.Equal(t, []State{StateUnknown, StateMonotonicityViolation}, got)

	// 1055 is still measured from 1000.
	obs := v.Observe(1055)
	assert.Equal(t, StateGood, obs.State)
	assert.Equal(t, uint64(55), obs.IntervalUs)
}

func TestValidatorResynchronisesAfterTimingViolation(t *testing.T) {
	muteLogs(t)
	v := NewValidator(Window{MinUs: 53, MaxUs: 57}, 0)

	got := observeAll(v, 1000, 2000, 2055, 2110)
	assert.Equal(t, []State{StateUnknown, StateTimingViolation, StateGood, StateGood}, got)
	assert.Equal(t, uint64(2), v.ConsecutiveGood())
}

func TestValidatorWindowIsClosed(t *testing.T) {
	muteLogs(t)
	v := NewValidator(Window{MinUs: 53, MaxUs: 57}, 0)

	got := observeAll(v, 0, 53, 110, 162, 220)
	assert.Equal(t, []State{StateUnknown, StateGood, StateGood, StateTimingViolation, StateTimingViolation}, got)
}

func TestValidatorForgivable(t *testing.T) {
	muteLogs(t)
	v := NewValidator(Window{MinUs: 53, MaxUs: 57}, 2)

	v.Observe(0)
	obs := v.Observe(59)
	assert.Equal(t, StateTimingViolation, obs.State)
	assert.True(t, obs.Forgivable)

	obs = v.Observe(119)
	assert.Equal(t, StateTimingViolation, obs.State)
	assert.False(t, obs.Forgivable)
}

func TestValidatorCountsAndReset(t *testing.T) {
	muteLogs(t)
	v := NewValidator(Window{MinUs: 53, MaxUs: 57}, 0)
	observeAll(v, 1000, 1055, 900, 1110, 1500)

	c := v.Counts()
	assert.Equal(t, uint64(1), c.Of(StateUnknown))
	assert.Equal(t, uint64(2), c.Of(StateGood))
	assert.Equal(t, uint64(1), c.Of(StateMonotonicityViolation))
	assert.Equal(t, uint64(1), c.Of(StateTimingViolation))
	assert.Equal(t, uint64(2), c.Violations())
	assert.Equal(t, uint64(5), c.Total())

	v.Reset()
	assert.Equal(t, StateUnknown, v.State())
	resetCounts := v.Counts()
	assert.Zero(t, resetCounts.Total())
	assert.Equal(t, StateUnknown, v.Observe(5000).State)
	assert.Equal(t, Window{MinUs: 53, MaxUs: 57}, v.Window())
}

func TestModelValidatorUsesNominalPacketPeriod(t *testing.T) {
	muteLogs(t)
	m, err := sensor.LoadEmbeddedModel("vlp16")
	require.NoError(t, err)

	v := NewModelValidator(m)
	assert.Equal(t, Window{MinUs: 1325, MaxUs: 1329}, v.Window())

	start := uint64(3_600_000_000)
	got := observeAll(v, start, start+1327, start+2654, start+2654+1328, start+2654+1328+1400)
	assert.Equal(t, []State{StateUnknown, StateGood, StateGood, StateGood, StateTimingViolation}, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "good", StateGood.String())
	assert.Equal(t, "monotonicity_violation", StateMonotonicityViolation.String())
	assert.Equal(t, "invalid", State(99).String())
	assert.True(t, StateTimingViolation.IsViolation())
	assert.False(t, StateRecharging.IsViolation())
}

func TestWindowWiden(t *testing.T) {
	assert.Equal(t, Window{MinUs: 51, MaxUs: 59}, Window{MinUs: 53, MaxUs: 57}.Widen(2))
	assert.Equal(t, Window{MinUs: 0, MaxUs: 5}, Window{MinUs: 1, MaxUs: 3}.Widen(2))
}
