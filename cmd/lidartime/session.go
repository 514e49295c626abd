package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lidartime/internal/db"
	"github.com/banshee-data/lidartime/internal/lidar/cadence"
	"github.com/banshee-data/lidartime/internal/lidar/network"
	"github.com/banshee-data/lidartime/internal/lidar/parse"
	"github.com/banshee-data/lidartime/internal/lidar/pipeline"
	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
	"github.com/banshee-data/lidartime/internal/monitoring"
	"github.com/banshee-data/lidartime/internal/report"
)

const defaultLogInterval = 10 * time.Second

// runSession drives src through a pipeline configured from the shared flags
// and extra, then stores, reports and prints the outcome. Cancellation ends
// the session normally.
func runSession(ctx context.Context, out io.Writer, opts *rootOptions, m *sensor.Model, sourceName string, src network.PacketSource, extra pipeline.Config) (pipeline.Summary, error) {
	cfg := extra
	cfg.Model = m
	cfg.TrackPoints = opts.trackPoints
	cfg.DebugPackets = opts.debugPackets
	if cfg.Stats == nil {
		cfg.Stats = monitoring.NewPacketStats(nil)
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = defaultLogInterval
	}
	if opts.reportDir != "" {
		cfg.Recorder = report.NewRecorder(0)
	}

	if opts.pointsCSV != "" {
		f, err := os.Create(opts.pointsCSV)
		if err != nil {
			return pipeline.Summary{}, fmt.Errorf("create points file: %w", err)
		}
		defer f.Close()
		pw := newPointWriter(f)
		defer pw.Flush()
		cfg.Sink = chainSinks(cfg.Sink, pw.Write)
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	var store *db.DB
	if opts.dbPath != "" {
		var err error
		if store, err = db.NewDB(opts.dbPath); err != nil {
			return pipeline.Summary{}, err
		}
		defer store.Close()
		if err := store.CreateSession(db.Session{
			SessionID: cfg.SessionID,
			Source:    sourceName,
			Model:     m.Name,
			StartedAt: int64(timing.FromTime(time.Now())),
		}); err != nil {
			return pipeline.Summary{}, err
		}
		cfg.Events = store
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	sum, err := p.Run(ctx, src)
	if err != nil && !errors.Is(err, context.Canceled) {
		return sum, err
	}

	if store != nil {
		if err := store.FinishSession(sum.SessionID, int64(timing.FromTime(time.Now())), sum.DBSummary()); err != nil {
			return sum, err
		}
	}
	window := cadence.PacketWindow(m)
	if cfg.Recorder != nil {
		if err := writeReport(opts.reportDir, sourceName, cfg.Recorder, window); err != nil {
			return sum, err
		}
	}
	printSummary(out, sum, window)
	return sum, nil
}

func chainSinks(a, b pipeline.PointSink) pipeline.PointSink {
	if a == nil {
		return b
	}
	return func(points []parse.Point, res parse.BuildResult) {
		a(points, res)
		b(points, res)
	}
}

// pointWriter writes decoded points as CSV rows.
type pointWriter struct {
	w   *csv.Writer
	row []string
	err error
}

func newPointWriter(w io.Writer) *pointWriter {
	pw := &pointWriter{w: csv.NewWriter(w), row: make([]string, 6)}
	pw.err = pw.w.Write([]string{"timestamp_us", "channel", "azimuth_rad", "polar_rad", "distance_m", "reflectivity"})
	return pw
}

func (pw *pointWriter) Write(points []parse.Point, _ parse.BuildResult) {
	if pw.err != nil {
		return
	}
	for i := range points {
		pt := &points[i]
		pw.row[0] = strconv.FormatUint(pt.Timestamp, 10)
		pw.row[1] = strconv.Itoa(pt.Channel)
		pw.row[2] = strconv.FormatFloat(pt.Azimuth, 'f', 6, 64)
		pw.row[3] = strconv.FormatFloat(pt.Polar, 'f', 6, 64)
		pw.row[4] = strconv.FormatFloat(pt.Distance, 'f', 3, 64)
		pw.row[5] = strconv.Itoa(int(pt.Reflectivity))
		if pw.err = pw.w.Write(pw.row); pw.err != nil {
			monitoring.Logf("points csv: %v", pw.err)
			return
		}
	}
}

func (pw *pointWriter) Flush() {
	pw.w.Flush()
	if err := pw.w.Error(); err != nil {
		monitoring.Logf("points csv: %v", err)
	}
}

// reportFile is the YAML form of a cadence report summary.
type reportFile struct {
	Source      string  `yaml:"source"`
	Intervals   int     `yaml:"intervals"`
	MeanUs      float64 `yaml:"mean_us"`
	StdDevUs    float64 `yaml:"stddev_us"`
	MinUs       float64 `yaml:"min_us"`
	MaxUs       float64 `yaml:"max_us"`
	P50Us       float64 `yaml:"p50_us"`
	P95Us       float64 `yaml:"p95_us"`
	P99Us       float64 `yaml:"p99_us"`
	InWindow    int     `yaml:"in_window"`
	OutOfWindow int     `yaml:"out_of_window"`
	WindowMinUs uint64  `yaml:"window_min_us"`
	WindowMaxUs uint64  `yaml:"window_max_us"`
	Dropped     uint64  `yaml:"dropped_samples,omitempty"`
}

// writeReport writes summary.yaml, cadence.html and, when there are
// intervals, cadence.png into dir.
func writeReport(dir, source string, rec *report.Recorder, window cadence.Window) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	intervals := report.Intervals(rec.Times())
	sum := report.Summarize(intervals, window)

	data, err := yaml.Marshal(reportFile{
		Source:      source,
		Intervals:   sum.Count,
		MeanUs:      sum.MeanUs,
		StdDevUs:    sum.StdDevUs,
		MinUs:       sum.MinUs,
		MaxUs:       sum.MaxUs,
		P50Us:       sum.P50Us,
		P95Us:       sum.P95Us,
		P99Us:       sum.P99Us,
		InWindow:    sum.InWindow,
		OutOfWindow: sum.OutOfWindow,
		WindowMinUs: window.MinUs,
		WindowMaxUs: window.MaxUs,
		Dropped:     rec.Dropped(),
	})
	if err != nil {
		return fmt.Errorf("encode report summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("write report summary: %w", err)
	}

	title := "Packet intervals: " + filepath.Base(source)
	if err := writeFile(filepath.Join(dir, "cadence.html"), func(w io.Writer) error {
		return report.RenderHTML(w, title, intervals, sum)
	}); err != nil {
		return err
	}
	if len(intervals) > 0 {
		if err := writeFile(filepath.Join(dir, "cadence.png"), func(w io.Writer) error {
			return report.RenderPNG(w, title, intervals, sum)
		}); err != nil {
			return err
		}
	}
	monitoring.Logf("cadence report written to %s", dir)
	return nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

func printSummary(out io.Writer, s pipeline.Summary, window cadence.Window) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", s.SessionID)
	fmt.Fprintf(tw, "firing packets\t%d\n", s.FiringPackets)
	fmt.Fprintf(tw, "position packets\t%d\n", s.PositionPackets)
	fmt.Fprintf(tw, "unknown packets\t%d\n", s.UnknownPackets)
	fmt.Fprintf(tw, "decode errors\t%d\n", s.DecodeErrors)
	fmt.Fprintf(tw, "points\t%s\n", monitoring.FormatWithCommas(int64(s.Points)))
	fmt.Fprintf(tw, "clamped blocks\t%d\n", s.ClampedBlocks)
	fmt.Fprintf(tw, "time reference fixes\t%d\n", s.ReferenceFixes)
	if s.FiringPackets > 0 {
		fmt.Fprintf(tw, "first packet\t%s\n", timing.ToTime(s.FirstPacketUs).Format(time.RFC3339Nano))
		fmt.Fprintf(tw, "last packet\t%s\n", timing.ToTime(s.LastPacketUs).Format(time.RFC3339Nano))
	}
	fmt.Fprintf(tw, "cadence window\t[%d, %d] us\n", window.MinUs, window.MaxUs)
	for _, st := range []cadence.State{cadence.StateUnknown, cadence.StateGood, cadence.StateMonotonicityViolation, cadence.StateTimingViolation} {
		fmt.Fprintf(tw, "packets %s\t%d\n", st, s.Packet.Of(st))
	}
	if s.Point.Total() > 0 {
		for _, st := range []cadence.State{cadence.StateUnknown, cadence.StateFiring, cadence.StateRecharging, cadence.StateMonotonicityViolation, cadence.StateTimingViolation} {
			fmt.Fprintf(tw, "points %s\t%d\n", st, s.Point.Of(st))
		}
	}
	tw.Flush()
}
