// Package static implements StaticSource: a file-watched,
// operator-configured coordinate source with optional scrambling.
package static

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/source"
)

const monitorRateLimit = 2500 * time.Millisecond

// Source reads latitude/longitude/altitude/accuracy from a plain-text
// file, one decimal number per non-comment line, and republishes it
// whenever the file changes. A rate-limited mtime poll stands in for a
// file-change-notification API, since there's no portable equivalent to
// one in this stack.
type Source struct {
	*source.Base

	logger          *logx.Logger
	path            string
	scrambleLoc     bool

	mu       sync.Mutex
	lastMod  time.Time
	stopPoll chan struct{}
}

// New creates a Source reading from path. scrambleLocation, if true,
// caps the published accuracy level at CITY instead of EXACT (spec
// §4.6); the numeric accuracy value in the LocationValue itself is
// unaffected and always comes straight from the file.
func New(path string, scrambleLocation bool, logger *logx.Logger) *Source {
	s := &Source{logger: logger, path: path, scrambleLoc: scrambleLocation}
	s.Base = source.NewBase(logger, source.Hooks{
		Activate:   s.activate,
		Deactivate: s.deactivate,
	})
	return s
}

func (s *Source) activate(_ context.Context) error {
	return nil
}

func (s *Source) deactivate() {
	s.mu.Lock()
	if s.stopPoll != nil {
		close(s.stopPoll)
		s.stopPoll = nil
	}
	s.mu.Unlock()
}

// Start wraps Base.Start and kicks off the initial load plus the
// polling loop on the first activation.
func (s *Source) Start() source.StartResult {
	result := s.Base.Start()
	if result == source.StartOK {
		s.reload()
		s.mu.Lock()
		stop := make(chan struct{})
		s.stopPoll = stop
		s.mu.Unlock()
		go s.pollLoop(stop)
	}
	return result
}

func (s *Source) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(monitorRateLimit)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.checkForChange()
		}
	}
}

func (s *Source) checkForChange() {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			hadMod := !s.lastMod.IsZero()
			s.lastMod = time.Time{}
			s.mu.Unlock()
			if hadMod {
				s.logger.Debug("static location file removed", "path", s.path)
				s.SetAccuracyLevel(geo.AccuracyNone)
				s.ClearLocation()
			}
		}
		return
	}

	s.mu.Lock()
	changed := !info.ModTime().Equal(s.lastMod)
	s.lastMod = info.ModTime()
	s.mu.Unlock()

	if changed {
		s.reload()
	}
}

// reload performs the initial or change-triggered (re)load: a missing
// file is a quiet no-op, a malformed line clears the current location
// and logs a warning.
func (s *Source) reload() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("static location file open failed", "path", s.path, "error", err.Error())
		}
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		s.mu.Lock()
		s.lastMod = info.ModTime()
		s.mu.Unlock()
	}

	values := make([]float64, 0, 4)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			s.logger.Warn("static location file malformed line", "path", s.path, "line", line)
			s.SetAccuracyLevel(geo.AccuracyNone)
			s.ClearLocation()
			return
		}
		values = append(values, v)
		if len(values) == 4 {
			break
		}
	}

	if len(values) < 2 {
		s.logger.Warn("static location file has too few fields", "path", s.path)
		s.SetAccuracyLevel(geo.AccuracyNone)
		s.ClearLocation()
		return
	}

	loc := geo.LocationValue{
		Latitude:  values[0],
		Longitude: values[1],
		Altitude:  geo.Unknown,
		Accuracy:  geo.Unknown,
		Speed:     geo.Unknown,
		Heading:   geo.Unknown,
		Timestamp: time.Now(),
	}
	if len(values) > 2 {
		loc.Altitude = values[2]
	}
	if len(values) > 3 {
		loc.Accuracy = values[3]
	}

	// Update accuracy before location so subscribers never observe them
	// out of order.
	level := geo.AccuracyExact
	if s.scrambleLoc {
		level = geo.AccuracyCity
	}
	s.SetAccuracyLevel(level)
	s.SetLocation(loc)
}
