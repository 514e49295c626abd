package cadence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
)

// pointTimes returns n point timestamps of a VLP-16 packet starting at start,
// truncated to whole microseconds the way the builder produces them.
func pointTimes(t *testing.T, m *sensor.Model, start uint64, n int) []uint64 {
	t.Helper()
	out := make([]uint64, n)
	for i := range out {
		out[i] = timing.PointTime(start, m.PointTimeOffsetNs(i))
	}
	return out
}

func vlp16(t *testing.T) *sensor.Model {
	t.Helper()
	m, err := sensor.LoadEmbeddedModel("vlp16")
	require.NoError(t, err)
	return m
}

func TestPointTrackerFollowsFiringRhythm(t *testing.T) {
	muteLogs(t)
	m := vlp16(t)
	tr := NewPointTracker(PointConfigForModel(m))

	times := pointTimes(t, m, 1_000_000, m.PointsPerPacket())
	var states []State
	for _, ts := range times {
		states = append(states, tr.Observe(ts).State)
	}

	// Points 0..15 belong to the first sequence, which the tracker cannot
	// place until it sees the recharge gap before point 16.
	for i := 0; i < 16; i++ {
		assert.Equal(t, StateUnknown, states[i], "point %d", i)
	}
	for seq := 1; seq < 24; seq++ {
		base := seq * 16
		assert.Equal(t, StateRecharging, states[base], "sequence %d start", seq)
		for ch := 1; ch < 16; ch++ {
			assert.Equal(t, StateFiring, states[base+ch], "sequence %d channel %d", seq, ch)
		}
	}
	assert.Equal(t, uint64(384-16), tr.ConsecutiveGood())
	trCounts := tr.Counts()
	assert.Zero(t, trCounts.Violations())
}

func TestPointTrackerAcrossPackets(t *testing.T) {
	muteLogs(t)
	m := vlp16(t)
	tr := NewPointTracker(PointConfigForModel(m))

	first := pointTimes(t, m, 1_000_000, m.PointsPerPacket())
	second := pointTimes(t, m, 1_000_000+1327, m.PointsPerPacket())
	for _, ts := range first {
		tr.Observe(ts)
	}
	obs := tr.Observe(second[0])
	assert.Equal(t, StateRecharging, obs.State)
	for _, ts := range second[1:] {
		obs = tr.Observe(ts)
		require.False(t, obs.State.IsViolation(), "unexpected %s after %dus", obs.State, obs.IntervalUs)
	}
}

func TestPointTrackerViolations(t *testing.T) {
	muteLogs(t)
	cfg := PointTrackerConfig{Firings: 4, FiringMaxUs: 3, Recharge: Window{MinUs: 19, MaxUs: 22}, ForgivenessUs: 2}

	tests := []struct {
		name    string
		times   []uint64
		want    []State
		suspect int
	}{
		{
			name:  "sync then full sequence",
			times: []uint64{0, 2, 4, 6, 26, 28, 30, 32, 53},
			want: []State{StateUnknown, StateUnknown, StateUnknown, StateUnknown,
				StateRecharging, StateFiring, StateFiring, StateFiring, StateRecharging},
			suspect: -1,
		},
		{
			name:  "forgivable recharge",
			times: []uint64{0, 20, 22, 24, 26, 50},
			want: []State{StateUnknown, StateRecharging, StateFiring, StateFiring, StateFiring,
				StateRecharging},
			suspect: 5,
		},
		{
			name:    "bad recharge",
			times:   []uint64{0, 20, 22, 24, 26, 60},
			want:    []State{StateUnknown, StateRecharging, StateFiring, StateFiring, StateFiring, StateTimingViolation},
			suspect: -1,
		},
		{
			name:    "bad firing gap",
			times:   []uint64{0, 20, 22, 30},
			want:    []State{StateUnknown, StateRecharging, StateFiring, StateTimingViolation},
			suspect: -1,
		},
		{
			name:    "recharge gap followed by long gap",
			times:   []uint64{0, 20, 40},
			want:    []State{StateUnknown, StateRecharging, StateTimingViolation},
			suspect: -1,
		},
		{
			name:    "monotonicity",
			times:   []uint64{0, 20, 10, 22},
			want:    []State{StateUnknown, StateRecharging, StateMonotonicityViolation, StateFiring},
			suspect: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewPointTracker(cfg)
			for i, ts := range tt.times {
				obs := tr.Observe(ts)
				assert.Equal(t, tt.want[i], obs.State, "sample %d at %d", i, ts)
				assert.Equal(t, i == tt.suspect, obs.Suspicious, "sample %d suspicious", i)
			}
		})
	}
}

func TestPointTrackerReset(t *testing.T) {
	muteLogs(t)
	tr := NewPointTracker(PointTrackerConfig{Firings: 2, FiringMaxUs: 3, Recharge: Window{MinUs: 19, MaxUs: 22}})
	tr.Observe(0)
	tr.Observe(20)
	assert.Equal(t, StateRecharging, tr.State())

	tr.Reset()
	assert.Equal(t, StateUnknown, tr.State())
	assert.Zero(t, tr.ConsecutiveGood())
	assert.Equal(t, StateUnknown, tr.Observe(100).State)
}
