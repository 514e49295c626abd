package report

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidartime/internal/lidar/cadence"
)

var testWindow = cadence.Window{MinUs: 53, MaxUs: 57}

func TestIntervals(t *testing.T) {
	assert.Nil(t, Intervals(nil))
	assert.Nil(t, Intervals([]uint64{5}))
	assert.Equal(t, []float64{55, 55, -10, 70}, Intervals([]uint64{0, 55, 110, 100, 170}))
}

func TestSummarize(t *testing.T) {
	intervals := []float64{55, 54, 56, 55, 60, -5}
	s := Summarize(intervals, testWindow)

	assert.Equal(t, 6, s.Count)
	assert.Equal(t, -5.0, s.MinUs)
	assert.Equal(t, 60.0, s.MaxUs)
	assert.InDelta(t, 45.833, s.MeanUs, 0.001)
	assert.Positive(t, s.StdDevUs)
	assert.Equal(t, 55.0, s.P50Us)
	assert.Equal(t, 60.0, s.P99Us)
	assert.Equal(t, 4, s.InWindow)
	assert.Equal(t, 2, s.OutOfWindow)
	assert.Equal(t, testWindow, s.Window)
}

func TestSummarize_EmptyAndSingle(t *testing.T) {
	empty := Summarize(nil, testWindow)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.MeanUs)

	single := Summarize([]float64{55}, testWindow)
	assert.Equal(t, 55.0, single.MeanUs)
	assert.Zero(t, single.StdDevUs)
	assert.Equal(t, 1, single.InWindow)
}

func TestRecorder_Bounded(t *testing.T) {
	r := NewRecorder(3)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			r.Add(v)
		}(uint64(i))
	}
	wg.Wait()

	assert.Len(t, r.Times(), 3)
	assert.Equal(t, uint64(2), r.Dropped())
}

func TestRenderHTML(t *testing.T) {
	intervals := []float64{55, 55, 54, 58}
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, "cadence", intervals, Summarize(intervals, testWindow)))

	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"), "expected an HTML document")
	assert.Contains(t, html, "cadence")
	assert.Contains(t, html, "interval")
}

func TestRenderPNG(t *testing.T) {
	intervals := []float64{55, 55, 54, 58, 56, 53}
	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, "cadence", intervals, Summarize(intervals, testWindow)))
	require.Greater(t, buf.Len(), 8)
	assert.Equal(t, []byte("\x89PNG"), buf.Bytes()[:4])

	assert.Error(t, RenderPNG(&buf, "empty", nil, Summary{}))
}
