// Package metrics exports camlink's Prometheus metrics. All methods are
// safe on a nil *Metrics, so components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/camlink/media"
)

const namespace = "camlink"

// Metrics holds the collectors for one endpoint role.
type Metrics struct {
	frames      *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	frameSize   prometheus.Histogram
	withheld    prometheus.Counter
	motionScore prometheus.Gauge
	alarms      prometheus.Counter
	commands    *prometheus.CounterVec
	connState   prometheus.Gauge
	fps         prometheus.Gauge
}

// New registers the collectors on reg under the given role label
// ("sender" or "receiver").
func New(reg prometheus.Registerer, role string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"role": role}

	return &Metrics{
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_total",
			Help:        "Frames sent or received, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),

		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "payload_bytes_total",
			Help:        "Payload bytes sent or received, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),

		frameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "frame_size_bytes",
			Help:        "Size of video frames",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(512, 2, 12),
		}),

		withheld: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_withheld_total",
			Help:        "Pictures dropped before the first config frame",
			ConstLabels: labels,
		}),

		motionScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "motion_score",
			Help:        "Most recent motion score",
			ConstLabels: labels,
		}),

		alarms: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "motion_alarms_total",
			Help:        "Motion alarms raised",
			ConstLabels: labels,
		}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "control_commands_total",
			Help:        "Control commands handled, by key and result",
			ConstLabels: labels,
		}, []string{"key", "result"}),

		connState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connection_state",
			Help:        "Connection state: 0 listening, 1 connecting, 2 connected, 3 closed",
			ConstLabels: labels,
		}),

		fps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "frames_per_second",
			Help:        "Pictures per second over the last reporting window",
			ConstLabels: labels,
		}),
	}
}

// Frame records one frame of the given kind and payload size.
func (m *Metrics) Frame(kind media.Kind, size int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind.String()).Inc()
	m.bytes.WithLabelValues(kind.String()).Add(float64(size))
	if kind.IsVideo() {
		m.frameSize.Observe(float64(size))
	}
}

func (m *Metrics) Withheld() {
	if m == nil {
		return
	}
	m.withheld.Inc()
}

func (m *Metrics) MotionScore(score uint8) {
	if m == nil {
		return
	}
	m.motionScore.Set(float64(score))
}

func (m *Metrics) Alarm() {
	if m == nil {
		return
	}
	m.alarms.Inc()
}

// Command records a handled control command; err nil counts as applied.
func (m *Metrics) Command(key string, err error) {
	if m == nil {
		return
	}
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	m.commands.WithLabelValues(key, result).Inc()
}

// ConnState records the numeric value of a transport.State.
func (m *Metrics) ConnState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

func (m *Metrics) FPS(fps float64) {
	if m == nil {
		return
	}
	m.fps.Set(fps)
}
