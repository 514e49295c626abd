// Package report summarises inter-packet intervals of a decode session and
// renders them as charts.
package report

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidartime/internal/lidar/cadence"
)

// DefaultMaxSamples bounds the packet times a Recorder keeps; about ten
// minutes of VLP-16 traffic.
const DefaultMaxSamples = 450_000

// Summary describes the distribution of inter-packet intervals in microseconds.
type Summary struct {
	Count    int
	MeanUs   float64
	StdDevUs float64
	MinUs    float64
	MaxUs    float64
	P50Us    float64
	P95Us    float64
	P99Us    float64
	// InWindow counts intervals inside the cadence tolerance window.
	InWindow    int
	OutOfWindow int
	Window      cadence.Window
}

// Intervals returns the differences between successive packet times. Times
// that go backwards yield negative intervals.
func Intervals(timesUs []uint64) []float64 {
	if len(timesUs) < 2 {
		return nil
	}
	out := make([]float64, len(timesUs)-1)
	for i := 1; i < len(timesUs); i++ {
		out[i-1] = float64(int64(timesUs[i] - timesUs[i-1]))
	}
	return out
}

// Summarize computes interval statistics against the tolerance window.
func Summarize(intervals []float64, window cadence.Window) Summary {
	s := Summary{Count: len(intervals), Window: window}
	if len(intervals) == 0 {
		return s
	}

	sorted := make([]float64, len(intervals))
	copy(sorted, intervals)
	sort.Float64s(sorted)

	s.MinUs = sorted[0]
	s.MaxUs = sorted[len(sorted)-1]
	s.MeanUs, s.StdDevUs = stat.MeanStdDev(sorted, nil)
	if math.IsNaN(s.StdDevUs) {
		s.StdDevUs = 0
	}
	s.P50Us = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P95Us = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.P99Us = stat.Quantile(0.99, stat.Empirical, sorted, nil)

	for _, v := range intervals {
		if v >= 0 && window.Contains(uint64(v)) {
			s.InWindow++
		} else {
			s.OutOfWindow++
		}
	}
	return s
}

// Recorder collects firing packet times for a report. It is safe for
// concurrent use and stops recording once full.
type Recorder struct {
	mu      sync.Mutex
	times   []uint64
	max     int
	dropped uint64
}

// NewRecorder returns a Recorder keeping at most maxSamples times
// (DefaultMaxSamples when maxSamples <= 0).
func NewRecorder(maxSamples int) *Recorder {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Recorder{max: maxSamples}
}

// Add records a packet time.
func (r *Recorder) Add(timeUs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.times) >= r.max {
		r.dropped++
		return
	}
	r.times = append(r.times, timeUs)
}

// Times returns a copy of the recorded times.
func (r *Recorder) Times() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.times))
	copy(out, r.times)
	return out
}

// Dropped returns how many times were discarded after the recorder filled.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
