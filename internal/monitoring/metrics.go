package monitoring

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of a decode pipeline. A nil
// *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Packets          *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	Points           prometheus.Counter
	ClampedAzimuths  prometheus.Counter
	TruncatedBuilds  prometheus.Counter
	CadenceEvents    *prometheus.CounterVec
	CadenceState     *prometheus.GaugeVec
	ConsecutiveGood  prometheus.Gauge
	PacketIntervalUs prometheus.Histogram

	mu        sync.Mutex
	lastState string
}

// NewCollector registers the pipeline metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice against the same
// registry reuses the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lidar_packets_total",
		Help: "Packets received, labeled by classified type (firing, position, unknown).",
	}, []string{"type"}), "lidar_packets_total")
	if err != nil {
		return nil, err
	}
	decodeErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lidar_decode_errors_total",
		Help: "Packets that failed to decode, labeled by packet type.",
	}, []string{"type"}), "lidar_decode_errors_total")
	if err != nil {
		return nil, err
	}
	points, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lidar_points_total",
		Help: "Points emitted by the point cloud builder.",
	}), "lidar_points_total")
	if err != nil {
		return nil, err
	}
	clamped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lidar_azimuth_clamped_total",
		Help: "Blocks whose raw azimuth exceeded 35999 and was clamped.",
	}), "lidar_azimuth_clamped_total")
	if err != nil {
		return nil, err
	}
	truncated, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lidar_build_truncated_total",
		Help: "Packets whose points did not fit the output buffer.",
	}), "lidar_build_truncated_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lidar_cadence_observations_total",
		Help: "Cadence validator observations, labeled by resulting state.",
	}, []string{"state"}), "lidar_cadence_observations_total")
	if err != nil {
		return nil, err
	}
	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lidar_cadence_state",
		Help: "1 for the cadence validator's current state, 0 otherwise.",
	}, []string{"state"}), "lidar_cadence_state")
	if err != nil {
		return nil, err
	}
	good, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lidar_cadence_consecutive_good",
		Help: "Consecutive firing packets observed inside the cadence window.",
	}), "lidar_cadence_consecutive_good")
	if err != nil {
		return nil, err
	}
	interval, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lidar_packet_interval_us",
		Help:    "Interval between successive firing packet timestamps in microseconds.",
		Buckets: []float64{1000, 1250, 1320, 1325, 1327, 1329, 1335, 1400, 2000, 5000},
	}), "lidar_packet_interval_us")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		Packets:          packets,
		DecodeErrors:     decodeErrors,
		Points:           points,
		ClampedAzimuths:  clamped,
		TruncatedBuilds:  truncated,
		CadenceEvents:    events,
		CadenceState:     state,
		ConsecutiveGood:  good,
		PacketIntervalUs: interval,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePacket counts a received packet of the given type.
func (c *Collector) ObservePacket(packetType string) {
	if c == nil {
		return
	}
	c.Packets.WithLabelValues(packetType).Inc()
}

// ObserveDecodeError counts a packet that failed to decode.
func (c *Collector) ObserveDecodeError(packetType string) {
	if c == nil {
		return
	}
	c.DecodeErrors.WithLabelValues(packetType).Inc()
}

// ObserveBuild records the outcome of building one firing packet.
func (c *Collector) ObserveBuild(points, clampedBlocks int, truncated bool) {
	if c == nil {
		return
	}
	c.Points.Add(float64(points))
	if clampedBlocks > 0 {
		c.ClampedAzimuths.Add(float64(clampedBlocks))
	}
	if truncated {
		c.TruncatedBuilds.Inc()
	}
}

// ObserveCadence records one validator observation. intervalUs is ignored
// when hasInterval is false.
func (c *Collector) ObserveCadence(state string, consecutiveGood uint64, intervalUs float64, hasInterval bool) {
	if c == nil {
		return
	}
	c.CadenceEvents.WithLabelValues(state).Inc()
	c.ConsecutiveGood.Set(float64(consecutiveGood))
	if hasInterval {
		c.PacketIntervalUs.Observe(intervalUs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastState != "" && c.lastState != state {
		c.CadenceState.WithLabelValues(c.lastState).Set(0)
	}
	c.CadenceState.WithLabelValues(state).Set(1)
	c.lastState = state
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
