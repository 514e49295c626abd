package parse

import (
	"math"

	"github.com/banshee-data/lidartime/internal/lidar/sensor"
)

const (
	halfTurnUnits = 18000
	fullTurnUnits = 36000
)

// DecodeAzimuth converts a raw azimuth in hundredths of a degree into radians
// in (-π, π]. Values above 35999 are clamped and reported with clamped=true.
func DecodeAzimuth(raw uint16) (radians float64, clamped bool) {
	v := int(raw)
	if v > sensor.MaxAzimuth {
		v = sensor.MaxAzimuth
		clamped = true
	}
	switch {
	case v == halfTurnUnits:
		return math.Pi, clamped
	case v > halfTurnUnits:
		v -= fullTurnUnits
	}
	return float64(v) * math.Pi / halfTurnUnits, clamped
}

// EncodeAzimuth is the inverse of DecodeAzimuth, rounding to the nearest
// hundredth of a degree.
func EncodeAzimuth(radians float64) uint16 {
	units := int(math.Round(radians * halfTurnUnits / math.Pi))
	units %= fullTurnUnits
	if units < 0 {
		units += fullTurnUnits
	}
	return uint16(units)
}

// NormalizeAngle wraps an angle into (-π, π].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
