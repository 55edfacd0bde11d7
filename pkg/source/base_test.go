package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

func newTestBase(t *testing.T, activate func(context.Context) error, deactivate func()) *Base {
	t.Helper()
	if activate == nil {
		activate = func(context.Context) error { return nil }
	}
	if deactivate == nil {
		deactivate = func() {}
	}
	return NewBase(logx.New("test", "error"), Hooks{Activate: activate, Deactivate: deactivate})
}

func TestStartStopRefCounting(t *testing.T) {
	activations := 0
	deactivations := 0
	b := newTestBase(t, func(context.Context) error {
		activations++
		return nil
	}, func() {
		deactivations++
	})

	assert.Equal(t, StartOK, b.Start())
	assert.Equal(t, StartAlreadyStarted, b.Start())
	assert.True(t, b.Active())
	assert.Equal(t, 1, activations)

	assert.Equal(t, StopStillUsed, b.Stop())
	assert.True(t, b.Active())

	assert.Equal(t, StopOK, b.Stop())
	assert.False(t, b.Active())
	assert.Equal(t, 1, deactivations)

	assert.Equal(t, StopFailed, b.Stop())
}

func TestStartFailurePropagates(t *testing.T) {
	b := newTestBase(t, func(context.Context) error {
		return geo.NewError(geo.KindProviderFailure, "boom")
	}, nil)
	assert.Equal(t, StartFailed, b.Start())
	assert.False(t, b.Active())
}

func TestSetLocationNoopWhileInactive(t *testing.T) {
	b := newTestBase(t, nil, nil)
	b.SetLocation(geo.LocationValue{Latitude: 1, Longitude: 2})
	_, ok := b.Location()
	assert.False(t, ok, "an inactive source must never publish a location")
}

func TestSetLocationPublishesWhileActive(t *testing.T) {
	b := newTestBase(t, nil, nil)
	require.Equal(t, StartOK, b.Start())

	var received geo.LocationValue
	b.SubscribeLocation(func(loc geo.LocationValue) { received = loc })

	b.SetLocation(geo.LocationValue{Latitude: 5, Longitude: 6})
	assert.Equal(t, 5.0, received.Latitude)

	loc, ok := b.Location()
	require.True(t, ok)
	assert.Equal(t, 6.0, loc.Longitude)
}

func TestClearLocation(t *testing.T) {
	b := newTestBase(t, nil, nil)
	require.Equal(t, StartOK, b.Start())
	b.SetLocation(geo.LocationValue{Latitude: 1})
	b.ClearLocation()
	_, ok := b.Location()
	assert.False(t, ok)
}

func TestAccuracyBeforeLocationOrdering(t *testing.T) {
	b := newTestBase(t, nil, nil)
	require.Equal(t, StartOK, b.Start())

	var order []string
	b.SubscribeAccuracy(func(geo.AccuracyLevel) { order = append(order, "accuracy") })
	b.SubscribeLocation(func(geo.LocationValue) { order = append(order, "location") })

	b.SetAccuracyLevel(geo.AccuracyStreet)
	b.SetLocation(geo.LocationValue{})

	require.Len(t, order, 2)
	assert.Equal(t, "accuracy", order[0])
	assert.Equal(t, "location", order[1])
}

func TestSetAccuracyLevelDedupsIdenticalValue(t *testing.T) {
	b := newTestBase(t, nil, nil)
	calls := 0
	b.SubscribeAccuracy(func(geo.AccuracyLevel) { calls++ })

	b.SetAccuracyLevel(geo.AccuracyCity)
	b.SetAccuracyLevel(geo.AccuracyCity)
	assert.Equal(t, 1, calls)

	b.SetAccuracyLevel(geo.AccuracyStreet)
	assert.Equal(t, 2, calls)
}
