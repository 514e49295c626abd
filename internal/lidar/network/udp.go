package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/lidartime/internal/monitoring"
	"github.com/banshee-data/lidartime/internal/timeutil"
)

// UDPConfig configures a UDPSource.
type UDPConfig struct {
	// Address is the local address to bind; empty binds all interfaces.
	Address      string
	DataPort     int
	PositionPort int
	// RcvBuf is the requested socket receive buffer in bytes.
	RcvBuf int
	// Wait bounds each Next call. Defaults to one second.
	Wait time.Duration
	// LinkHeaderSize is added to the datagram length to form the declared length.
	LinkHeaderSize int
	Factory        UDPSocketFactory
	Clock          timeutil.Clock
}

// readDeadline is how long a socket read blocks before re-checking for close.
const readDeadline = 100 * time.Millisecond

const maxDatagram = 2048

// UDPSource multiplexes the firing-data and position sockets of a live sensor.
type UDPSource struct {
	cfg     UDPConfig
	sockets []UDPSocket
	packets chan RawPacket
	errs    chan error
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	timeouts uint64
}

// NewUDPSource binds both ports and starts reading.
func NewUDPSource(cfg UDPConfig) (*UDPSource, error) {
	if cfg.DataPort == 0 {
		cfg.DataPort = DefaultDataPort
	}
	if cfg.PositionPort == 0 {
		cfg.PositionPort = DefaultPositionPort
	}
	if cfg.Wait <= 0 {
		cfg.Wait = time.Second
	}
	if cfg.Factory == nil {
		cfg.Factory = NewRealUDPSocketFactory()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	s := &UDPSource{
		cfg:     cfg,
		packets: make(chan RawPacket, 64),
		errs:    make(chan error, 2),
		done:    make(chan struct{}),
	}
	for _, port := range []int{cfg.DataPort, cfg.PositionPort} {
		sock, err := s.listen(port)
		if err != nil {
			s.closeSockets()
			return nil, err
		}
		s.sockets = append(s.sockets, sock)
	}

	for i, sock := range s.sockets {
		port := cfg.DataPort
		if i == 1 {
			port = cfg.PositionPort
		}
		s.wg.Add(1)
		go s.read(sock, port)
	}
	monitoring.Logf("UDP source listening on %s ports %d (data) and %d (position) with receive buffer %d bytes",
		displayAddr(cfg.Address), cfg.DataPort, cfg.PositionPort, cfg.RcvBuf)
	return s, nil
}

func (s *UDPSource) listen(port int) (UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.Address, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := s.cfg.Factory.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", port, err)
	}
	if s.cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(s.cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", s.cfg.RcvBuf, err)
		}
	}
	return sock, nil
}

func (s *UDPSource) read(sock UDPSocket, port int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		buf := make([]byte, maxDatagram)
		_ = sock.SetReadDeadline(s.cfg.Clock.Now().Add(readDeadline))
		n, _, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			// One reader per slot, so this never blocks.
			s.errs <- fmt.Errorf("UDP read on port %d: %w", port, err)
			return
		}

		pkt := RawPacket{
			Data:           buf[:n],
			DeclaredLength: n + s.cfg.LinkHeaderSize,
			CaptureTime:    s.cfg.Clock.Now(),
			Port:           port,
		}
		select {
		case s.packets <- pkt:
		case <-s.done:
			return
		}
	}
}

// Next waits up to the configured bound for a packet from either socket.
func (s *UDPSource) Next(ctx context.Context) (RawPacket, error) {
	select {
	case <-s.done:
		return RawPacket{}, ErrEndOfStream
	case pkt := <-s.packets:
		return pkt, nil
	default:
	}
	select {
	case pkt := <-s.packets:
		return pkt, nil
	case err := <-s.errs:
		return RawPacket{}, err
	case <-s.done:
		return RawPacket{}, ErrEndOfStream
	case <-ctx.Done():
		return RawPacket{}, ctx.Err()
	case <-s.cfg.Clock.After(s.cfg.Wait):
		s.timeouts++
		if monitoring.Sampled(s.timeouts, 1, 60) {
			monitoring.Logf("UDP source: no packet within %v (%d timeouts)", s.cfg.Wait, s.timeouts)
		}
		return RawPacket{}, ErrTimeout
	}
}

// Close stops the readers and closes both sockets.
func (s *UDPSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.closeSockets()
		s.wg.Wait()
	})
	return err
}

func (s *UDPSource) closeSockets() error {
	var errs []error
	for _, sock := range s.sockets {
		if err := sock.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func displayAddr(addr string) string {
	if addr == "" {
		return "*"
	}
	return addr
}
