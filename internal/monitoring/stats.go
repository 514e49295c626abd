package monitoring

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/lidartime/internal/timeutil"
)

// PacketStats accumulates per-interval throughput counters for periodic log
// lines. It is safe for concurrent use.
type PacketStats struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	firing     int64
	position   int64
	bytes      int64
	dropped    int64
	points     int64
	violations int64
	lastReset  time.Time
}

// StatsSnapshot is one interval of PacketStats.
type StatsSnapshot struct {
	Firing     int64
	Position   int64
	Bytes      int64
	Dropped    int64
	Points     int64
	Violations int64
	Duration   time.Duration
}

// NewPacketStats creates a PacketStats using clock, or the real clock if nil.
func NewPacketStats(clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketStats{clock: clock, lastReset: clock.Now()}
}

// AddFiring counts one firing packet and the points built from it.
func (ps *PacketStats) AddFiring(bytes, points int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.firing++
	ps.bytes += int64(bytes)
	ps.points += int64(points)
}

// AddPosition counts one position packet.
func (ps *PacketStats) AddPosition(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.position++
	ps.bytes += int64(bytes)
}

// AddDropped counts a packet that was not decoded or not forwarded.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropped++
}

// AddViolation counts a cadence violation.
func (ps *PacketStats) AddViolation() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.violations++
}

// GetAndReset returns current stats and resets counters.
func (ps *PacketStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	s := StatsSnapshot{
		Firing:     ps.firing,
		Position:   ps.position,
		Bytes:      ps.bytes,
		Dropped:    ps.dropped,
		Points:     ps.points,
		Violations: ps.violations,
		Duration:   now.Sub(ps.lastReset),
	}
	ps.firing, ps.position, ps.bytes, ps.dropped, ps.points, ps.violations = 0, 0, 0, 0, 0, 0
	ps.lastReset = now
	return s
}

// LogStats logs the rates since the previous call and resets the counters.
// Nothing is logged for an idle interval.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if s.Firing == 0 && s.Position == 0 && s.Dropped == 0 {
		return
	}
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	msg := fmt.Sprintf("Lidar stats (/sec): %.2f MB, %.1f firing, %.1f position, %s points",
		float64(s.Bytes)/secs/(1024*1024), float64(s.Firing)/secs, float64(s.Position)/secs,
		FormatWithCommas(int64(float64(s.Points)/secs)))
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", s.Dropped)
	}
	if s.Violations > 0 {
		msg += fmt.Sprintf(", %d cadence violations", s.Violations)
	}
	Logf("%s", msg)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(char)
	}
	return b.String()
}
