package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopOfHour(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 27, 13, 500_000_000, time.UTC)
	want := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, FromTime(want), TopOfHour(FromTime(ts)))
	assert.Equal(t, FromTime(want), TopOfHour(FromTime(want)))
}

func TestPacketStartAndPointTime(t *testing.T) {
	hour := FromTime(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))
	start := PacketStartTime(hour, 1_000_000)
	assert.Equal(t, hour+1_000_000, start)

	// 55.296us rounds down.
	assert.Equal(t, start+55, PointTime(start, 55_296))
	assert.Equal(t, start, PointTime(start, 999))
	assert.Equal(t, start+1306, PointTime(start, 1_306_368))
}

func TestResolveHour(t *testing.T) {
	base := FromTime(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))
	minute := uint64(time.Minute / time.Microsecond)

	tests := []struct {
		name      string
		reference uint64
		offset    uint32
		want      uint64
	}{
		{"same hour", base + 10*minute, uint32(11 * minute), base},
		{"packet from previous hour", base + 1*minute, uint32(59 * minute), base - HourUs},
		{"stale reference", base + 59*minute, uint32(1 * minute), base + HourUs},
		{"exactly half an hour apart", base, uint32(30 * minute), base},
		{"epoch start never underflows", 1 * minute, uint32(59 * minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveHour(tt.reference, tt.offset))
		})
	}
}

func TestPacketStartTime_MonotonicAcrossHourWrap(t *testing.T) {
	hour := FromTime(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))
	const periodUs = 1327

	// Offsets climb towards the top of the hour, then wrap to zero.
	offset := uint32(HourUs - 5*periodUs)
	prev := PacketStartTime(hour, offset)
	for i := 0; i < 10; i++ {
		offset = uint32((uint64(offset) + periodUs) % HourUs)
		start := PacketStartTime(ResolveHour(prev, offset), offset)
		require.Equal(t, prev+periodUs, start, "packet %d", i)
		prev = start
	}
	assert.Equal(t, hour+HourUs, TopOfHour(prev))
}

func TestTimeConversionRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 27, 13, 123_456_000, time.UTC)
	assert.True(t, ts.Equal(ToTime(FromTime(ts))))
}

func TestReference(t *testing.T) {
	var r Reference
	_, ok := r.Get()
	assert.False(t, ok)
	_, ok = r.HourFor(0)
	assert.False(t, ok)

	base := FromTime(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))
	r.Set(base + 42)
	got, ok := r.Get()
	require.True(t, ok)
	assert.Equal(t, base+42, got)

	hour, ok := r.HourFor(100)
	require.True(t, ok)
	assert.Equal(t, base, hour)
}
