package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocationValueValid(t *testing.T) {
	ok := LocationValue{Latitude: 59.3, Longitude: 18.1, Accuracy: 10}
	assert.True(t, ok.Valid())

	badLat := LocationValue{Latitude: 91, Longitude: 0}
	assert.False(t, badLat.Valid())

	badLon := LocationValue{Latitude: 0, Longitude: 181}
	assert.False(t, badLon.Valid())

	negAccuracy := LocationValue{Accuracy: -5}
	assert.False(t, negAccuracy.Valid())

	unknownAccuracy := LocationValue{Accuracy: Unknown}
	assert.True(t, unknownAccuracy.Valid())
}

func TestLocationValueHasAccuracy(t *testing.T) {
	assert.True(t, LocationValue{Accuracy: 5}.HasAccuracy())
	assert.False(t, LocationValue{Accuracy: Unknown}.HasAccuracy())
}

func TestLocationValueString(t *testing.T) {
	l := LocationValue{Latitude: 1, Longitude: 2, Accuracy: Unknown, Timestamp: time.Now(), Description: "test"}
	s := l.String()
	assert.Contains(t, s, "unknown")
	assert.Contains(t, s, "test")
}

func TestAccuracyLevelOrdering(t *testing.T) {
	assert.True(t, AccuracyExact > AccuracyStreet)
	assert.True(t, AccuracyStreet > AccuracyNeighborhood)
	assert.True(t, AccuracyNeighborhood > AccuracyCity)
	assert.True(t, AccuracyCity > AccuracyCountry)
	assert.True(t, AccuracyCountry > AccuracyNone)
}

func TestAccuracyLevelString(t *testing.T) {
	assert.Equal(t, "STREET", AccuracyStreet.String())
	assert.Equal(t, "UNKNOWN", AccuracyLevel(99).String())
}

func TestParseAccuracyLevel(t *testing.T) {
	assert.Equal(t, AccuracyCity, ParseAccuracyLevel("CITY"))
	assert.Equal(t, AccuracyExact, ParseAccuracyLevel(""))
	assert.Equal(t, AccuracyExact, ParseAccuracyLevel("garbage"))
}
