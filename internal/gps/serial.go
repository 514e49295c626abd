package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/lidartime/internal/lidar/timing"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

// PortOptions describes the serial connection to a GPS receiver.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Normalize validates the options and applies NMEA 0183 defaults (4800 8N1)
// for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 4800
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialSource reads NMEA sentences from a GPS receiver and keeps a time
// reference current with every RMC or ZDA fix.
type SerialSource struct {
	port io.ReadCloser
	ref  *timing.Reference

	fixes   atomic.Uint64
	skipped atomic.Uint64
}

// NewSerialSource wraps an already open port.
func NewSerialSource(port io.ReadCloser, ref *timing.Reference) *SerialSource {
	return &SerialSource{port: port, ref: ref}
}

// OpenSerialSource opens the serial device at path.
func OpenSerialSource(path string, opts PortOptions, ref *timing.Reference) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open gps serial port %s: %w", path, err)
	}
	return NewSerialSource(port, ref), nil
}

// Run reads sentences until ctx is cancelled or the port reaches EOF.
// Sentences without a time fix are skipped.
func (s *SerialSource) Run(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return fmt.Errorf("read gps serial port: %w", err)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return fmt.Errorf("read gps serial port: %w", err)
				default:
					return nil
				}
			}
			s.handle(line)
		}
	}
}

func (s *SerialSource) handle(line string) {
	us, err := ParseTimeSentence(line)
	if err != nil {
		if !errors.Is(err, ErrUnparseableSentence) || monitoring.Sampled(s.skipped.Add(1), 3, 100) {
			monitoring.Logf("[gps] skipping sentence %q: %v", line, err)
		}
		return
	}
	s.ref.Set(us)
	if n := s.fixes.Add(1); n == 1 {
		monitoring.Logf("[gps] first fix %s", timing.ToTime(us).Format("2006-01-02T15:04:05.000Z"))
	}
}

// Fixes returns the number of sentences that updated the reference.
func (s *SerialSource) Fixes() uint64 { return s.fixes.Load() }

// Close closes the underlying port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
