package static

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

func writeLocationFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geolocation")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReloadPublishesExactLocation(t *testing.T) {
	path := writeLocationFile(t, "59.33\n18.07\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	loc, ok := s.Location()
	require.True(t, ok)
	assert.Equal(t, 59.33, loc.Latitude)
	assert.Equal(t, 18.07, loc.Longitude)
	assert.Equal(t, geo.AccuracyExact, s.AvailableAccuracyLevel())
}

func TestReloadCapsAccuracyWhenScrambled(t *testing.T) {
	path := writeLocationFile(t, "59.33\n18.07\n")
	s := New(path, true, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	assert.Equal(t, geo.AccuracyCity, s.AvailableAccuracyLevel())
}

func TestReloadParsesAltitudeAndAccuracy(t *testing.T) {
	path := writeLocationFile(t, "59.33\n18.07\n100\n5\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	loc, ok := s.Location()
	require.True(t, ok)
	assert.Equal(t, 100.0, loc.Altitude)
	assert.Equal(t, 5.0, loc.Accuracy)
}

func TestReloadIgnoresCommentsAndBlankLines(t *testing.T) {
	path := writeLocationFile(t, "# latitude\n59.33\n\n# longitude\n18.07\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	loc, ok := s.Location()
	require.True(t, ok)
	assert.Equal(t, 59.33, loc.Latitude)
}

func TestReloadTooFewFieldsClearsLocation(t *testing.T) {
	path := writeLocationFile(t, "59.33\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	_, ok := s.Location()
	assert.False(t, ok)
	assert.Equal(t, geo.AccuracyNone, s.AvailableAccuracyLevel())
}

func TestReloadMalformedLineClearsLocation(t *testing.T) {
	path := writeLocationFile(t, "59.33\nnot-a-number\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	_, ok := s.Location()
	assert.False(t, ok)
	assert.Equal(t, geo.AccuracyNone, s.AvailableAccuracyLevel())
}

func TestCheckForChangeDetectsFileRemoval(t *testing.T) {
	path := writeLocationFile(t, "59.33\n18.07\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	_, ok := s.Location()
	require.True(t, ok)

	require.NoError(t, os.Remove(path))
	s.checkForChange()

	_, ok = s.Location()
	assert.False(t, ok)
	assert.Equal(t, geo.AccuracyNone, s.AvailableAccuracyLevel())
}

func TestCheckForChangeReloadsOnModification(t *testing.T) {
	path := writeLocationFile(t, "59.33\n18.07\n")
	s := New(path, false, logx.New("test", "error"))
	s.Start()
	t.Cleanup(func() { s.Stop() })

	// force a distinguishable mtime
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	s.checkForChange()

	require.NoError(t, os.WriteFile(path, []byte("1.0\n2.0\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	s.checkForChange()

	loc, ok := s.Location()
	require.True(t, ok)
	assert.Equal(t, 1.0, loc.Latitude)
}
