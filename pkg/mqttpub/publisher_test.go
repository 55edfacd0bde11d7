package mqttpub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

func TestDefaultConfigIsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost", cfg.Broker)
	assert.Equal(t, 1883, cfg.Port)
	assert.True(t, cfg.Retain)
}

func TestConnectNoopWhenDisabled(t *testing.T) {
	p := New(DefaultConfig(), logx.New("test", "error"))
	require.NoError(t, p.Connect())
	assert.False(t, p.IsConnected())
}

func TestPublishLocationNoopWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, logx.New("test", "error"))
	require.NoError(t, p.Connect())

	err := p.PublishLocation("wifi", geo.LocationValue{Latitude: 1, Longitude: 2, Timestamp: time.Now()})
	assert.NoError(t, err)
}

func TestPublishAccuracyNoopWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, logx.New("test", "error"))
	require.NoError(t, p.Connect())

	err := p.PublishAccuracy("wifi", geo.AccuracyStreet)
	assert.NoError(t, err)
}

func TestOmitUnknownNilsOutSentinel(t *testing.T) {
	assert.Nil(t, omitUnknown(geo.Unknown))
	v := omitUnknown(12.5)
	require.NotNil(t, v)
	assert.Equal(t, 12.5, *v)
}

func TestDisconnectWithoutConnectIsSafe(t *testing.T) {
	p := New(DefaultConfig(), logx.New("test", "error"))
	assert.NotPanics(t, p.Disconnect)
}
