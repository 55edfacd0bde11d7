// Package metrics exposes Prometheus counters and gauges for the
// daemon's source activity, following client_golang's own idiomatic
// promauto registration pattern directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric the daemon publishes. It is safe to
// construct once and share across all sources.
type Registry struct {
	LocateRequestsTotal   *prometheus.CounterVec
	SubmitRequestsTotal   *prometheus.CounterVec
	NmeaReconnectsTotal   prometheus.Counter
	ModemCapabilityState  *prometheus.GaugeVec
	AvailableAccuracy     *prometheus.GaugeVec
	LocationUpdatesTotal  *prometheus.CounterVec
}

// New registers every metric with prometheus.DefaultRegisterer via
// promauto's default factory.
func New() *Registry {
	return &Registry{
		LocateRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclued",
			Name:      "locate_requests_total",
			Help:      "Total locate requests issued by web-using sources, by source and outcome.",
		}, []string{"source", "outcome"}),

		SubmitRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclued",
			Name:      "submit_requests_total",
			Help:      "Total crowd-submission requests issued, by outcome.",
		}, []string{"outcome"}),

		NmeaReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "geoclued",
			Name:      "nmea_reconnects_total",
			Help:      "Total NMEA multiplexer reconnection attempts.",
		}),

		ModemCapabilityState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "geoclued",
			Name:      "modem_capability_available",
			Help:      "Whether a modem capability (3g, cdma, gps) is currently available (1) or not (0).",
		}, []string{"capability"}),

		AvailableAccuracy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "geoclued",
			Name:      "source_available_accuracy_level",
			Help:      "Each source's currently declared available-accuracy-level, as an ordinal 0-5.",
		}, []string{"source"}),

		LocationUpdatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclued",
			Name:      "location_updates_total",
			Help:      "Total LocationValue updates published, by source.",
		}, []string{"source"}),
	}
}
