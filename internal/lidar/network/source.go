// Package network delivers raw LiDAR packets from capture files, live UDP
// sockets or a synthetic generator, and forwards packets to UDP destinations.
package network

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEndOfStream is returned by PacketSource.Next when no packets remain.
	ErrEndOfStream = errors.New("end of packet stream")
	// ErrTimeout is returned by PacketSource.Next when the bounded wait
	// elapsed without a packet. Callers check for cancellation and retry.
	ErrTimeout = errors.New("timed out waiting for packet")
)

// Default VLP-16 ports.
const (
	DefaultDataPort     = 8309
	DefaultPositionPort = 8308
)

// RawPacket is one UDP payload and the length of the frame it arrived in.
type RawPacket struct {
	Data []byte
	// DeclaredLength is the on-wire length including the link-layer header.
	DeclaredLength int
	// CaptureTime is when the packet was captured or received.
	CaptureTime time.Time
	// Port is the UDP destination port.
	Port int
}

// PacketSource yields raw packets one at a time. Next blocks until a packet is
// available, the source is exhausted (ErrEndOfStream), the bounded wait
// elapses (ErrTimeout) or ctx is done.
//
// The returned Data is only valid until the next call to Next.
type PacketSource interface {
	Next(ctx context.Context) (RawPacket, error)
	Close() error
}
