package gps

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidartime/internal/lidar/timing"
)

func withChecksum(body string) string {
	return fmt.Sprintf("$%s*%02X", body, checksum(body))
}

func TestParseTimeSentenceRMC(t *testing.T) {
	s := withChecksum("GPRMC,142713.250,A,4807.038,N,01131.000,E,022.4,084.4,050324,003.1,W")
	got, err := ParseTimeSentence(s + "\r\n")
	require.NoError(t, err)

	want := time.Date(2024, 3, 5, 14, 27, 13, 250_000_000, time.UTC)
	assert.Equal(t, timing.FromTime(want), got)
	assert.Equal(t, timing.FromTime(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)), timing.TopOfHour(got))
}

func TestParseTimeSentenceRMCNavigationWarningKeepsTime(t *testing.T) {
	s := withChecksum("GPRMC,000001,V,4807.038,N,01131.000,E,000.0,000.0,010124,000.0,E")
	got, err := ParseTimeSentence(s)
	require.NoError(t, err)
	assert.Equal(t, timing.FromTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)), got)
}

func TestParseTimeSentenceZDA(t *testing.T) {
	s := withChecksum("GPZDA,201530.00,04,07,2023,00,00")
	got, err := ParseTimeSentence(s)
	require.NoError(t, err)
	assert.Equal(t, timing.FromTime(time.Date(2023, 7, 4, 20, 15, 30, 0, time.UTC)), got)
}

func TestParseTimeSentenceErrors(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"garbage":      "hello",
		"bad checksum": "$GPRMC,142713,A,4807.038,N,01131.000,E,022.4,084.4,050324,003.1,W*00",
		"no date":      withChecksum("GPRMC,142713,A,4807.038,N,01131.000,E,022.4,084.4,,003.1,W"),
		"no time type": withChecksum("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"),
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTimeSentence(s)
			assert.ErrorIs(t, err, ErrUnparseableSentence)
		})
	}
}

func TestFormatRMCRoundTrip(t *testing.T) {
	ts := time.Date(2031, 12, 31, 23, 59, 58, 125_000_000, time.UTC)
	s := FormatRMC(ts)
	assert.Less(t, len(s), 72, "must fit the position packet field")

	got, err := ParseTimeSentence(s)
	require.NoError(t, err)
	assert.Equal(t, timing.FromTime(ts), got)
}
