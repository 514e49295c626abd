package report

import (
	"fmt"
	"image/color"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// maxChartPoints caps the samples drawn in the HTML chart.
const maxChartPoints = 20_000

// histogramBins is the bin count of the PNG histogram.
const histogramBins = 60

// RenderHTML writes an interactive line chart of the intervals with the
// tolerance window drawn as horizontal mark lines.
func RenderHTML(w io.Writer, title string, intervals []float64, sum Summary) error {
	stride := 1
	if len(intervals) > maxChartPoints {
		stride = (len(intervals) + maxChartPoints - 1) / maxChartPoints
	}

	x := make([]string, 0, len(intervals)/stride+1)
	data := make([]opts.LineData, 0, len(intervals)/stride+1)
	for i := 0; i < len(intervals); i += stride {
		x = append(x, strconv.Itoa(i+1))
		data = append(data, opts.LineData{Value: intervals[i]})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
			Subtitle: fmt.Sprintf("n=%d mean=%.3fus sd=%.3fus in-window=%d out=%d stride=%d",
				sum.Count, sum.MeanUs, sum.StdDevUs, sum.InWindow, sum.OutOfWindow, stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "packet", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "interval (us)", NameLocation: "middle", NameGap: 50, Scale: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("interval", data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithMarkLineNameYAxisItemOpts(
				opts.MarkLineNameYAxisItem{Name: "min", YAxis: float64(sum.Window.MinUs)},
				opts.MarkLineNameYAxisItem{Name: "max", YAxis: float64(sum.Window.MaxUs)},
			),
		)
	return line.Render(w)
}

// RenderPNG writes a histogram of the intervals with the tolerance window
// bounds as vertical lines.
func RenderPNG(w io.Writer, title string, intervals []float64, sum Summary) error {
	if len(intervals) == 0 {
		return fmt.Errorf("render png: no intervals")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Interval (us)"
	p.Y.Label.Text = "Packets"

	hist, err := plotter.NewHist(plotter.Values(intervals), histogramBins)
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	hist.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	p.Add(hist)

	var peak float64
	for _, b := range hist.Bins {
		if b.Weight > peak {
			peak = b.Weight
		}
	}
	for _, bound := range []struct {
		name string
		us   uint64
	}{{"window min", sum.Window.MinUs}, {"window max", sum.Window.MaxUs}} {
		l, err := plotter.NewLine(plotter.XYs{{X: float64(bound.us), Y: 0}, {X: float64(bound.us), Y: peak}})
		if err != nil {
			return fmt.Errorf("render png: %w", err)
		}
		l.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
		l.Width = vg.Points(1)
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(l)
		p.Legend.Add(bound.name, l)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
