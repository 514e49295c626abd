package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/lidartime/internal/lidar/network"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

type simulateOptions struct {
	packets        int
	speed          float64
	positionEvery  int
	jitterEvery    int
	jitterUs       int
	dataTarget     string
	positionTarget string
	pcapPath       string
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	so := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic sensor stream to UDP targets or a pcap file.",
		Long: `simulate emits firing packets at the model's nominal cadence, preceded by a
position packet with an NMEA time sentence every --position-every packets.
Packets are sent to the UDP targets, or recorded to --pcap for later decoding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, opts, so)
		},
	}
	f := cmd.Flags()
	f.IntVar(&so.packets, "packets", 0, "firing packets to emit; 0 runs until interrupted")
	f.Float64Var(&so.speed, "speed", 1, "pace relative to the nominal packet period; 0 emits as fast as possible")
	f.IntVar(&so.positionEvery, "position-every", 754, "emit a position packet every N firing packets; 0 disables")
	f.IntVar(&so.jitterEvery, "jitter-every", 0, "delay every N-th firing packet by --jitter-us")
	f.IntVar(&so.jitterUs, "jitter-us", 50, "delay applied to jittered packets in microseconds")
	f.StringVar(&so.dataTarget, "data-target", fmt.Sprintf("127.0.0.1:%d", network.DefaultDataPort), "host:port receiving firing packets")
	f.StringVar(&so.positionTarget, "position-target", fmt.Sprintf("127.0.0.1:%d", network.DefaultPositionPort), "host:port receiving position packets")
	f.StringVar(&so.pcapPath, "pcap", "", "record to this pcap file instead of sending")
	return cmd
}

// packetSink is where simulate delivers generated packets.
type packetSink func(pkt network.RawPacket) error

func runSimulate(cmd *cobra.Command, opts *rootOptions, so *simulateOptions) error {
	ctx := cmd.Context()
	m, err := opts.loadModel()
	if err != nil {
		return err
	}

	var sink packetSink
	if so.pcapPath != "" {
		if so.packets <= 0 {
			return errors.New("--pcap needs a bounded --packets count")
		}
		f, err := os.Create(so.pcapPath)
		if err != nil {
			return fmt.Errorf("create pcap: %w", err)
		}
		defer f.Close()
		w, err := network.NewPCAPWriter(f)
		if err != nil {
			return err
		}
		sink = w.WritePacket
		// Recording does not need real-time pacing.
		so.speed = 0
	} else {
		stats := monitoring.NewPacketStats(nil)
		dataFwd, err := network.NewPacketForwarder(so.dataTarget, stats, 0)
		if err != nil {
			return err
		}
		dataFwd.Start(ctx)
		defer dataFwd.Close()
		posFwd, err := network.NewPacketForwarder(so.positionTarget, stats, 0)
		if err != nil {
			return err
		}
		posFwd.Start(ctx)
		defer posFwd.Close()

		sink = func(pkt network.RawPacket) error {
			if pkt.Port == network.DefaultPositionPort {
				posFwd.ForwardAsync(pkt.Data)
			} else {
				dataFwd.ForwardAsync(pkt.Data)
			}
			return nil
		}
	}

	src := network.NewSyntheticSource(network.SyntheticConfig{
		Model:         m,
		Packets:       so.packets,
		PositionEvery: so.positionEvery,
		JitterEvery:   so.jitterEvery,
		JitterUs:      so.jitterUs,
		Speed:         so.speed,
	})
	defer src.Close()

	sent := 0
	for {
		pkt, err := src.Next(ctx)
		if errors.Is(err, network.ErrEndOfStream) || errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			return err
		}
		if err := sink(pkt); err != nil {
			return err
		}
		sent++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d packets\n", sent)
	return nil
}
