package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
	"github.com/banshee-data/lidartime/internal/logger"
	"github.com/banshee-data/lidartime/internal/version"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	logLevel     string
	modelPath    string
	dbPath       string
	reportDir    string
	pointsCSV    string
	trackPoints  bool
	debugPackets int

	log *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "lidartime",
		Short: "Decode VLP-16 packet streams and validate their timing.",
		Long: `lidartime decodes Velodyne VLP-16 firing and position packets from capture
files, live UDP sockets or a built-in generator. Each firing packet becomes
384 points with absolute microsecond timestamps, and the interval between
packets is checked against the sensor's nominal cadence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, ok := logger.ParseLevel(opts.logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", opts.logLevel)
			}
			logger.SetLevel(level)
			opts.log = logger.New(cmd.ErrOrStderr())
			logger.Install(opts.log)
			cmd.SetContext(logger.ToContext(cmd.Context(), opts.log))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&opts.modelPath, "model", "", "sensor model YAML file (default: embedded VLP-16)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite file for sessions and cadence events (disabled when empty)")
	flags.StringVar(&opts.reportDir, "report-dir", "", "directory for the cadence report (disabled when empty)")
	flags.StringVar(&opts.pointsCSV, "points-csv", "", "write every decoded point to this CSV file")
	flags.BoolVar(&opts.trackPoints, "track-points", false, "check the firing/recharge rhythm of individual points")
	flags.IntVar(&opts.debugPackets, "debug-packets", 0, "log the layout of the first N decoded packets")

	root.AddCommand(
		newDecodeCmd(opts),
		newListenCmd(opts),
		newSimulateCmd(opts),
	)
	version.AttachCobraVersionCommand(root)
	return root
}

// loadModel returns the --model file, or the embedded VLP-16 model.
func (o *rootOptions) loadModel() (*sensor.Model, error) {
	if o.modelPath == "" {
		return sensor.LoadEmbeddedModel("vlp16")
	}
	m, err := sensor.LoadModel(o.modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", o.modelPath, err)
	}
	return m, nil
}
