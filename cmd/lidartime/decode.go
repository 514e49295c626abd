package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidartime/internal/lidar/network"
	"github.com/banshee-data/lidartime/internal/lidar/pipeline"
)

func newDecodeCmd(opts *rootOptions) *cobra.Command {
	var (
		ports   []int
		speed   float64
		forward string
	)
	cmd := &cobra.Command{
		Use:   "decode <capture.pcap>",
		Short: "Decode a pcap or pcapng capture of sensor traffic.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.loadModel()
			if err != nil {
				return err
			}
			src, err := network.OpenPCAP(args[0], network.PCAPConfig{
				Ports:          ports,
				LinkHeaderSize: m.LinkHeaderSize,
				Speed:          speed,
			})
			if err != nil {
				return err
			}
			defer src.Close()

			var extra pipeline.Config
			if forward != "" {
				fwd, err := network.NewPacketForwarder(forward, nil, 0)
				if err != nil {
					return err
				}
				fwd.Start(cmd.Context())
				defer fwd.Close()
				extra.Forwarder = fwd
			}

			_, err = runSession(cmd.Context(), cmd.OutOrStdout(), opts, m, args[0], src, extra)
			return err
		},
	}
	cmd.Flags().IntSliceVar(&ports, "ports", []int{network.DefaultDataPort, network.DefaultPositionPort},
		"UDP destination ports to read; empty reads every UDP packet")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay at capture pace times this factor; 0 reads as fast as possible")
	cmd.Flags().StringVar(&forward, "forward", "", "also forward every packet to this host:port")
	return cmd
}
