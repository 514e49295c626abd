// Package pipeline orchestrates the per-packet flow of a decode session.
//
// A Pipeline pulls raw packets from a network.PacketSource, classifies and
// decodes them, builds timestamped points and feeds packet start times to
// the cadence validator. Results fan out to the optional collaborators in
// Config: prometheus metrics, the gRPC health surface, the cadence event
// store, a raw packet forwarder and a caller-supplied point sink.
//
// Position packets carry an NMEA sentence. A parsed fix becomes the absolute
// time reference that firing packet hour offsets are resolved against. Until
// one arrives, the capture time of the packet stands in.
//
// The pipeline owns no domain logic; it delegates to the parse, timing and
// cadence packages.
package pipeline
