package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lidartime/internal/monitoring"
)

// DropCounter receives a count for every packet the forwarder could not send.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder handles asynchronous forwarding of UDP packets to another address.
// It provides non-blocking packet forwarding with error tracking and logging.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string
	done        chan struct{}
	started     atomic.Bool
}

// NewPacketForwarder creates a forwarder that sends packets to address (host:port).
func NewPacketForwarder(address string, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return newPacketForwarder(conn, address, stats, logInterval), nil
}

func newPacketForwarder(conn net.Conn, address string, stats DropCounter, logInterval time.Duration) *PacketForwarder {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
		done:        make(chan struct{}),
	}
}

// Start begins the packet forwarding goroutine that processes packets from the channel.
// It logs dropped packets at the specified interval and stops when ctx is done
// or the forwarder is closed.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.started.Store(true)
	go func() {
		defer close(f.done)
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
					if f.stats != nil {
						f.stats.AddDropped()
					}
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Logf("Dropped %d forwarded packets to %s due to errors (latest: %v)", droppedCount, f.address, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet without blocking. If the queue is full
// the packet is dropped and counted.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close waits for queued packets to be written, if the forwarder was started,
// and closes the connection. ForwardAsync must not be called after Close.
func (f *PacketForwarder) Close() error {
	close(f.channel)
	if f.started.Load() {
		<-f.done
	}
	return f.conn.Close()
}
