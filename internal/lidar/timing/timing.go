// Package timing reconstructs absolute point timestamps from the sensor's
// microseconds-since-top-of-hour counter and an external hour reference.
//
// All absolute times are microseconds since the Unix epoch.
package timing

import (
	"sync/atomic"
	"time"
)

// HourUs is one hour in microseconds.
const HourUs uint64 = 3_600_000_000

const halfHourUs = HourUs / 2

// TopOfHour truncates an absolute time down to the start of its hour.
func TopOfHour(us uint64) uint64 {
	return us / HourUs * HourUs
}

// PacketStartTime combines an hour boundary with a packet's in-hour offset.
func PacketStartTime(hourBoundaryUs uint64, offsetUs uint32) uint64 {
	return hourBoundaryUs + uint64(offsetUs)
}

// PointTime adds an intra-packet firing delay, truncated to whole microseconds.
func PointTime(packetStartUs uint64, offsetNs int64) uint64 {
	return packetStartUs + uint64(offsetNs/1000)
}

// ResolveHour returns the hour boundary that places offsetUs closest to the
// reference time. A packet stamped 59:59.9 that is decoded against a reference
// taken just after the hour rolled over belongs to the previous hour, and the
// reverse holds for a stale reference.
func ResolveHour(referenceUs uint64, offsetUs uint32) uint64 {
	hour := TopOfHour(referenceUs)
	within := referenceUs - hour
	off := uint64(offsetUs)
	switch {
	case off > within && off-within > halfHourUs:
		if hour >= HourUs {
			return hour - HourUs
		}
		return hour
	case within > off && within-off > halfHourUs:
		return hour + HourUs
	default:
		return hour
	}
}

// FromTime converts a time.Time to microseconds since the epoch.
func FromTime(t time.Time) uint64 {
	return uint64(t.UnixMicro())
}

// ToTime converts microseconds since the epoch to a UTC time.Time.
func ToTime(us uint64) time.Time {
	return time.UnixMicro(int64(us)).UTC()
}

// Reference holds the most recent absolute time reference. The zero value
// holds no reference. It is safe for concurrent use.
type Reference struct {
	us atomic.Uint64
}

// Set records a new absolute reference.
func (r *Reference) Set(us uint64) { r.us.Store(us) }

// Get returns the current reference and whether one has been set.
func (r *Reference) Get() (uint64, bool) {
	v := r.us.Load()
	return v, v != 0
}

// HourFor resolves the hour boundary for a packet offset against the current
// reference. ok is false when no reference has been set.
func (r *Reference) HourFor(offsetUs uint32) (hour uint64, ok bool) {
	ref, ok := r.Get()
	if !ok {
		return 0, false
	}
	return ResolveHour(ref, offsetUs), true
}
