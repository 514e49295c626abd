package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidartime/internal/api/health"
	"github.com/banshee-data/lidartime/internal/db"
	"github.com/banshee-data/lidartime/internal/gps"
	"github.com/banshee-data/lidartime/internal/lidar/network"
	"github.com/banshee-data/lidartime/internal/lidar/pipeline"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

type listenOptions struct {
	address      string
	dataPort     int
	positionPort int
	rcvBuf       int
	forward      string
	httpListen   string
	healthListen string
	gpsDevice    string
	gps          gps.PortOptions
}

func newListenCmd(opts *rootOptions) *cobra.Command {
	lo := &listenOptions{}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Decode live sensor traffic from the data and position UDP ports.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListen(cmd, opts, lo)
		},
	}
	f := cmd.Flags()
	f.StringVar(&lo.address, "address", "", "local address to bind (default: all interfaces)")
	f.IntVar(&lo.dataPort, "data-port", network.DefaultDataPort, "UDP port of firing data packets")
	f.IntVar(&lo.positionPort, "position-port", network.DefaultPositionPort, "UDP port of position packets")
	f.IntVar(&lo.rcvBuf, "rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	f.StringVar(&lo.forward, "forward", "", "also forward every packet to this host:port")
	f.StringVar(&lo.httpListen, "http-listen", "", "serve /metrics and /debug/ on this address")
	f.StringVar(&lo.healthListen, "health-listen", "", "serve gRPC health checks on this address")
	f.StringVar(&lo.gpsDevice, "gps-serial", "", "serial device of a GPS receiver providing NMEA time")
	f.IntVar(&lo.gps.BaudRate, "gps-baud", 4800, "GPS serial baud rate")
	f.StringVar(&lo.gps.Parity, "gps-parity", "N", "GPS serial parity: N, E or O")
	return cmd
}

func runListen(cmd *cobra.Command, opts *rootOptions, lo *listenOptions) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m, err := opts.loadModel()
	if err != nil {
		return err
	}

	stats := monitoring.NewPacketStats(nil)
	extra := pipeline.Config{
		Reference: &timing.Reference{},
		Stats:     stats,
	}

	if lo.gpsDevice != "" {
		serialSrc, err := gps.OpenSerialSource(lo.gpsDevice, lo.gps, extra.Reference)
		if err != nil {
			return err
		}
		defer serialSrc.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serialSrc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("GPS serial reader stopped: %v", err)
			}
		}()
	}

	if lo.httpListen != "" {
		reg := prometheus.NewRegistry()
		metrics, err := monitoring.NewCollector(reg)
		if err != nil {
			return err
		}
		extra.Metrics = metrics

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if opts.dbPath != "" {
			// A second handle on the same file for the admin console.
			adminDB, err := db.NewDB(opts.dbPath)
			if err != nil {
				return err
			}
			defer adminDB.Close()
			if err := adminDB.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		server := &http.Server{Addr: lo.httpListen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, server)
		}()
	}

	if lo.healthListen != "" {
		hs := health.NewServer(lo.healthListen)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
		extra.Health = hs
	}

	if lo.forward != "" {
		fwd, err := network.NewPacketForwarder(lo.forward, stats, 0)
		if err != nil {
			return err
		}
		fwd.Start(ctx)
		defer fwd.Close()
		extra.Forwarder = fwd
	}

	src, err := network.NewUDPSource(network.UDPConfig{
		Address:        lo.address,
		DataPort:       lo.dataPort,
		PositionPort:   lo.positionPort,
		RcvBuf:         lo.rcvBuf,
		LinkHeaderSize: m.LinkHeaderSize,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = runSession(ctx, cmd.OutOrStdout(), opts, m, "udp", src, extra)
	cancel()
	return err
}

func serveHTTP(ctx context.Context, server *http.Server) {
	go func() {
		monitoring.Logf("Starting HTTP server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
}
