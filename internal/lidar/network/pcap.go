package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lidartime/internal/monitoring"
	"github.com/banshee-data/lidartime/internal/timeutil"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// frameReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type frameReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAPConfig configures a PCAPSource.
type PCAPConfig struct {
	// Ports restricts the source to UDP packets sent to these ports. Empty
	// accepts every UDP packet.
	Ports []int
	// LinkHeaderSize is added to the UDP payload length to form the declared
	// length when the capture is not Ethernet framed.
	LinkHeaderSize int
	// Speed replays packets at capture pace multiplied by Speed. Zero reads
	// as fast as possible.
	Speed float64
	// Clock paces replay. Defaults to the real clock.
	Clock timeutil.Clock
}

// PCAPSource reads UDP payloads from a pcap or pcapng capture file using the
// pure Go reader, so no libpcap is required.
type PCAPSource struct {
	closer   io.Closer
	reader   frameReader
	link     layers.LinkType
	ports    map[uint16]bool
	header   int
	speed    float64
	clock    timeutil.Clock
	frames   int
	skipped  int
	lastCapt time.Time
}

// OpenPCAP opens a capture file.
func OpenPCAP(path string, cfg PCAPConfig) (*PCAPSource, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	src, err := NewPCAPSource(f, cfg)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}
	src.closer = f
	return src, nil
}

// NewPCAPSource reads a capture from r, detecting pcap or pcapng format.
func NewPCAPSource(r io.Reader, cfg PCAPConfig) (*PCAPSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	var fr frameReader
	if bytes.Equal(magic, pcapngMagic) {
		fr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		fr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, err
	}

	src := &PCAPSource{
		reader: fr,
		link:   fr.LinkType(),
		header: cfg.LinkHeaderSize,
		speed:  cfg.Speed,
		clock:  cfg.Clock,
	}
	if src.clock == nil {
		src.clock = timeutil.RealClock{}
	}
	if len(cfg.Ports) > 0 {
		src.ports = make(map[uint16]bool, len(cfg.Ports))
		for _, p := range cfg.Ports {
			src.ports[uint16(p)] = true
		}
	}
	return src, nil
}

// Next returns the next matching UDP payload.
func (s *PCAPSource) Next(ctx context.Context) (RawPacket, error) {
	for {
		if err := ctx.Err(); err != nil {
			return RawPacket{}, err
		}
		data, ci, err := s.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP file reading complete: %d frames read, %d skipped", s.frames, s.skipped)
			return RawPacket{}, ErrEndOfStream
		}
		if err != nil {
			return RawPacket{}, fmt.Errorf("read PCAP frame %d: %w", s.frames+1, err)
		}
		s.frames++

		pkt := gopacket.NewPacket(data, s.link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			s.skipped++
			continue
		}
		if s.ports != nil && !s.ports[uint16(udp.DstPort)] {
			s.skipped++
			continue
		}

		if err := s.pace(ctx, ci.Timestamp); err != nil {
			return RawPacket{}, err
		}

		declared := len(udp.Payload) + s.header
		if s.link == layers.LinkTypeEthernet {
			declared = ci.Length
		}
		return RawPacket{
			Data:           udp.Payload,
			DeclaredLength: declared,
			CaptureTime:    ci.Timestamp,
			Port:           int(udp.DstPort),
		}, nil
	}
}

func (s *PCAPSource) pace(ctx context.Context, capture time.Time) error {
	if s.speed <= 0 {
		return nil
	}
	defer func() { s.lastCapt = capture }()
	if s.lastCapt.IsZero() {
		return nil
	}
	delay := time.Duration(float64(capture.Sub(s.lastCapt)) / s.speed)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(delay):
		return nil
	}
}

// Frames returns the number of frames read so far, including skipped ones.
func (s *PCAPSource) Frames() int { return s.frames }

// Close closes the underlying file when the source was opened from a path.
func (s *PCAPSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
