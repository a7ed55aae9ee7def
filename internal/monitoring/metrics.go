package monitoring

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DecoderCollector bundles the Prometheus metrics of the packet decode
// pipeline. Every series is labelled by sensor id so several interpreters
// can share one registry.
type DecoderCollector struct {
	gatherer prometheus.Gatherer

	Packets         *prometheus.CounterVec
	PacketsRejected *prometheus.CounterVec
	Points          *prometheus.CounterVec
	Frames          *prometheus.CounterVec
	DroppedBlocks   *prometheus.CounterVec
	RPM             *prometheus.GaugeVec
}

// NewDecoderCollector registers the decoder metrics against reg, defaulting
// to the global Prometheus registry when nil. Registering twice against the
// same registry returns collectors bound to the existing series.
func NewDecoderCollector(reg prometheus.Registerer) (*DecoderCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &DecoderCollector{gatherer: gatherer}
	var err error
	counters := []struct {
		dst  **prometheus.CounterVec
		name string
		help string
	}{
		{&c.Packets, "hdl_packets_total", "Data packets accepted by the decoder."},
		{&c.PacketsRejected, "hdl_packets_rejected_total", "Buffers rejected as malformed data packets."},
		{&c.Points, "hdl_points_total", "Calibrated points emitted."},
		{&c.Frames, "hdl_frames_total", "Frames sealed."},
		{&c.DroppedBlocks, "hdl_dropped_blocks_total", "Firing blocks dropped for an unrecognised laser layout."},
	}
	for _, ctr := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: ctr.name, Help: ctr.help}, []string{"sensor"})
		if *ctr.dst, err = registerCounterVec(reg, vec, ctr.name); err != nil {
			return nil, err
		}
	}

	rpm := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hdl_rpm",
		Help: "Estimated spin rate in rotations per minute.",
	}, []string{"sensor"})
	if c.RPM, err = registerGaugeVec(reg, rpm, "hdl_rpm"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes the collector's registry over HTTP.
func (c *DecoderCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SensorMetrics are the series of one sensor.
type SensorMetrics struct {
	Packets         prometheus.Counter
	PacketsRejected prometheus.Counter
	Points          prometheus.Counter
	Frames          prometheus.Counter
	DroppedBlocks   prometheus.Counter
	RPM             prometheus.Gauge
}

// ForSensor binds the collector to one sensor id. A nil collector yields
// nil, which the interpreter treats as metrics disabled.
func (c *DecoderCollector) ForSensor(sensorID string) *SensorMetrics {
	if c == nil {
		return nil
	}
	return &SensorMetrics{
		Packets:         c.Packets.WithLabelValues(sensorID),
		PacketsRejected: c.PacketsRejected.WithLabelValues(sensorID),
		Points:          c.Points.WithLabelValues(sensorID),
		Frames:          c.Frames.WithLabelValues(sensorID),
		DroppedBlocks:   c.DroppedBlocks.WithLabelValues(sensorID),
		RPM:             c.RPM.WithLabelValues(sensorID),
	}
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
