package bus

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink exposes event-bus activity as Prometheus metrics:
// events published per type and source, and a gauge tracking the
// retained history size. Register it as a catch-all subscriber so it
// observes every published event.
type PrometheusSink struct {
	published *prometheus.CounterVec
	history   prometheus.GaugeFunc
}

// NewPrometheusSink registers the sink's metrics against registry and
// wires its history gauge to bus.
func NewPrometheusSink(registry prometheus.Registerer, b *Bus) *PrometheusSink {
	s := &PrometheusSink{
		published: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "evoseal",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total events published on the event bus, by type and source.",
		}, []string{"type", "source"}),
	}
	s.history = promauto.With(registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "evoseal",
		Subsystem: "bus",
		Name:      "history_size",
		Help:      "Number of events currently retained in the bus's bounded history ring buffer.",
	}, func() float64 {
		return float64(b.GetMetrics().HistorySize)
	})
	return s
}

// Handle implements Handler.
func (s *PrometheusSink) Handle(_ context.Context, event Event) error {
	s.published.WithLabelValues(event.Type, event.Source).Inc()
	return nil
}
