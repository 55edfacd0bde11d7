package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRegistersAllMetricsWithoutPanicking is the package's only test
// function: promauto registers against prometheus.DefaultRegisterer, so
// calling New() more than once per test binary would panic on duplicate
// registration. Every metric field is exercised once here instead of
// splitting into several New()-calling tests.
func TestNewRegistersAllMetricsWithoutPanicking(t *testing.T) {
	reg := New()
	require.NotNil(t, reg.LocateRequestsTotal)
	require.NotNil(t, reg.SubmitRequestsTotal)
	require.NotNil(t, reg.NmeaReconnectsTotal)
	require.NotNil(t, reg.ModemCapabilityState)
	require.NotNil(t, reg.AvailableAccuracy)
	require.NotNil(t, reg.LocationUpdatesTotal)

	assert.NotPanics(t, func() {
		reg.LocateRequestsTotal.WithLabelValues("wifi", "ok").Inc()
		reg.SubmitRequestsTotal.WithLabelValues("ok").Inc()
		reg.NmeaReconnectsTotal.Inc()
		reg.ModemCapabilityState.WithLabelValues("3g").Set(1)
		reg.AvailableAccuracy.WithLabelValues("wifi").Set(3)
		reg.LocationUpdatesTotal.WithLabelValues("wifi").Inc()
	})
}
