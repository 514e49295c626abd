package network

import (
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Addresses used on frames written by PCAPWriter, matching a factory
// configured sensor broadcasting on its default subnet.
var (
	sensorMAC = net.HardwareAddr{0x60, 0x76, 0x88, 0x00, 0x00, 0x01}
	sensorIP  = net.IPv4(192, 168, 1, 201)
	sensorSrc = layers.UDPPort(2368)
)

// PCAPWriter records raw packets to a classic pcap stream as Ethernet/IPv4/UDP
// broadcast frames, so captures can be replayed by PCAPSource.
type PCAPWriter struct {
	w      *pcapgo.Writer
	opts   gopacket.SerializeOptions
	buf    gopacket.SerializeBuffer
	frames int
}

// NewPCAPWriter writes the pcap file header to w.
func NewPCAPWriter(w io.Writer) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &PCAPWriter{
		w:    pw,
		opts: gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		buf:  gopacket.NewSerializeBuffer(),
	}, nil
}

// WritePacket frames pkt.Data for pkt.Port and records it at pkt.CaptureTime.
func (p *PCAPWriter) WritePacket(pkt RawPacket) error {
	eth := &layers.Ethernet{
		SrcMAC:       sensorMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    sensorIP,
		DstIP:    net.IPv4bcast,
	}
	udp := &layers.UDP{SrcPort: sensorSrc, DstPort: layers.UDPPort(pkt.Port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	if err := gopacket.SerializeLayers(p.buf, p.opts, eth, ip, udp, gopacket.Payload(pkt.Data)); err != nil {
		return fmt.Errorf("serialize frame: %w", err)
	}
	data := p.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: pkt.CaptureTime, CaptureLength: len(data), Length: len(data)}
	if err := p.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write frame %d: %w", p.frames, err)
	}
	p.frames++
	return nil
}

// Frames returns the number of frames written.
func (p *PCAPWriter) Frames() int { return p.frames }
