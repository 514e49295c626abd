// Package gps turns NMEA time sentences, from a LiDAR position packet or a
// GPS receiver on a serial port, into an absolute time reference.
package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/lidartime/internal/lidar/timing"
)

// ErrUnparseableSentence is returned for sentences that carry no usable
// date and time.
var ErrUnparseableSentence = errors.New("unparseable time sentence")

// ParseTimeSentence returns the UTC time carried by an RMC or ZDA sentence as
// microseconds since the Unix epoch.
func ParseTimeSentence(text string) (uint64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("empty sentence: %w", ErrUnparseableSentence)
	}
	s, err := nmea.Parse(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnparseableSentence, err)
	}

	switch m := s.(type) {
	case nmea.RMC:
		if !m.Time.Valid || !m.Date.Valid {
			return 0, fmt.Errorf("%s without date and time: %w", m.Prefix(), ErrUnparseableSentence)
		}
		return toMicros(2000+m.Date.YY, m.Date.MM, m.Date.DD, m.Time), nil
	case nmea.ZDA:
		if !m.Time.Valid || m.Year == 0 {
			return 0, fmt.Errorf("%s without date and time: %w", m.Prefix(), ErrUnparseableSentence)
		}
		return toMicros(int(m.Year), int(m.Month), int(m.Day), m.Time), nil
	default:
		return 0, fmt.Errorf("%s carries no date: %w", s.Prefix(), ErrUnparseableSentence)
	}
}

func toMicros(year, month, day int, t nmea.Time) uint64 {
	ts := time.Date(year, time.Month(month), day, t.Hour, t.Minute, t.Second,
		t.Millisecond*int(time.Millisecond), time.UTC)
	return timing.FromTime(ts)
}

// FormatRMC renders t as a GPRMC sentence with a fixed position, as emitted
// by a receiver with a valid fix.
func FormatRMC(t time.Time) string {
	t = t.UTC()
	body := fmt.Sprintf("GPRMC,%02d%02d%02d.%03d,A,4807.038,N,01131.000,E,0.0,0.0,%02d%02d%02d,0.0,E",
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond),
		t.Day(), int(t.Month()), t.Year()%100)
	return fmt.Sprintf("$%s*%02X", body, checksum(body))
}

func checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}
