// Package modemgps implements ModemGPSSource: a thin composition of
// SourceBase with a modem's onboard GNSS receiver, reusing pkg/nmea's
// sentence parsing to turn the modem's raw GGA/RMC pair into a
// LocationValue.
package modemgps

import (
	"context"
	"sync"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/nmea"
	"github.com/markus-lassfolk/geoclued/pkg/source"
)

// adapter is the narrow slice of *modem.Adapter this source needs. It is
// expressed as an interface rather than importing pkg/modem directly so
// main.go can finish constructing the modem.Adapter (whose Callbacks
// must already reference this Source's HandleFixGPS) before handing the
// adapter back in via SetAdapter.
type adapter interface {
	EnableGPS()
	DisableGPS()
}

// Source composes SourceBase with a modem's raw-NMEA fix stream: every
// GGA/RMC pair the modem reports is merged into one LocationValue and
// published at EXACT accuracy, the same as a directly-attached GPS fix.
type Source struct {
	*source.Base

	logger *logx.Logger

	mu      sync.Mutex
	adapter adapter
}

// New creates a Source. The caller is expected to wire the returned
// Source's HandleFixGPS method to modem.Callbacks.OnFixGPS, then call
// SetAdapter once the modem.Adapter exists.
func New(logger *logx.Logger) *Source {
	s := &Source{logger: logger}
	s.Base = source.NewBase(logger, source.Hooks{
		Activate:   s.activate,
		Deactivate: s.deactivate,
	})
	return s
}

// SetAdapter wires the modem.Adapter this source requests its GPS
// capability from. Breaking this out of New avoids a construction-order
// cycle: the adapter's Callbacks must reference HandleFixGPS before the
// adapter itself exists.
func (s *Source) SetAdapter(a adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapter = a
}

func (s *Source) activate(_ context.Context) error {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	if a != nil {
		a.EnableGPS()
	}
	return nil
}

func (s *Source) deactivate() {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	if a != nil {
		a.DisableGPS()
	}
	s.SetAccuracyLevel(geo.AccuracyNone)
	s.ClearLocation()
}

// HandleFixGPS is the modem adapter's OnFixGPS callback: it validates and
// decodes the raw GGA/RMC sentences the modem reports and publishes the
// merged fix at EXACT accuracy. Either sentence may be empty; one that
// fails checksum or fix validation is treated as absent, matching the
// NMEA multiplexer's own per-sentence validation.
func (s *Source) HandleFixGPS(gga, rmc string) {
	var lastGGA, lastRMC geo.LocationValue
	var haveGGA, haveRMC bool

	if gga != "" && nmea.ChecksumValid(gga) {
		lastGGA, haveGGA = nmea.ParseGGA(gga)
	}
	if rmc != "" && nmea.ChecksumValid(rmc) {
		lastRMC, haveRMC = nmea.ParseRMC(rmc)
	}
	if !haveGGA && !haveRMC {
		return
	}

	merged := nmea.Merge(lastGGA, lastRMC, haveGGA, haveRMC)
	s.SetAccuracyLevel(geo.AccuracyExact)
	s.SetLocation(merged)
}
