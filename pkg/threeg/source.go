// Package threeg implements ThreeGSource: a thin composition of the
// shared web-locate engine with the modem adapter's 3GPP fix stream as
// its evidence provider.
package threeg

import (
	"context"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/modem"
	"github.com/markus-lassfolk/geoclued/pkg/source"
	"github.com/markus-lassfolk/geoclued/pkg/webquery"
	"github.com/markus-lassfolk/geoclued/pkg/websource"
)

// defaultRepeatRefreshInterval is used when the caller passes a
// non-positive repeatRefresh, matching config.Default()'s 25-minute
// ThreeGRepeatRefresh.
const defaultRepeatRefreshInterval = 25 * time.Minute

// Source composes WebSourceEngine with the modem adapter's 3GPP fix
// stream: every accepted tower change updates the shared MozillaQuery
// and triggers a refresh, and a repeat timer re-issues that refresh
// while the tower remains valid so a stale-but-accurate 3G fix is not
// evicted by a fresher-but-coarser GeoIP answer.
type Source struct {
	*source.Base

	logger              *logx.Logger
	query               *webquery.Query
	engine              *websource.Engine
	repeatRefreshPeriod time.Duration

	mu         sync.Mutex
	towerValid bool
	ticker     *time.Ticker
	stop       chan struct{}
}

// New wires a Source to the given shared Query and adapter. The caller
// is expected to have already attached adapter's OnFix3GPP/OnNoFix3G
// callbacks to this Source's HandleFix3GPP/HandleNoFix methods.
// repeatRefresh is the 3GPP staleness timer (config.Config's
// ThreeGRepeatRefresh); a non-positive value falls back to
// defaultRepeatRefreshInterval.
func New(query *webquery.Query, locateURL, submitURL, nickname string, repeatRefresh time.Duration, logger *logx.Logger) *Source {
	if repeatRefresh <= 0 {
		repeatRefresh = defaultRepeatRefreshInterval
	}
	s := &Source{logger: logger, query: query, repeatRefreshPeriod: repeatRefresh}
	s.Base = source.NewBase(logger, source.Hooks{
		Activate:   s.activate,
		Deactivate: s.deactivate,
	})
	s.engine = websource.New(websource.Config{
		Query:           query,
		BuildQuery:      s.buildQuery,
		ComputeAccuracy: s.computeAccuracy,
		SetAccuracy:     s.SetAccuracyLevel,
		SetLocation:     s.SetLocation,
		IsActive:        s.Active,
		LocateURL:       locateURL,
		SubmitURL:       submitURL,
		Nickname:        nickname,
	}, logger)
	return s
}

// SetLocator swaps the engine's locate transport, e.g. to
// webquery.GoogleLocator when an operator supplies a Google API key.
func (s *Source) SetLocator(l websource.Locator) {
	s.engine.SetLocator(l)
}

// SetMetricsHooks wires the engine's locate/submit observability
// callbacks, e.g. to pkg/metrics counters.
func (s *Source) SetMetricsHooks(onLocateResult, onSubmitResult func(outcome string)) {
	s.engine.SetMetricsHooks(onLocateResult, onSubmitResult)
}

func (s *Source) buildQuery() ([]byte, string, error) {
	s.mu.Lock()
	valid := s.towerValid
	s.mu.Unlock()
	if !valid {
		return nil, "", geo.NewError(geo.KindNotInitialized, "no 3GPP tower")
	}
	body, err := s.query.BuildLocate(false, true)
	return body, "3gpp", err
}

func (s *Source) computeAccuracy() geo.AccuracyLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.towerValid {
		return geo.AccuracyStreet
	}
	return geo.AccuracyNone
}

// HandleFix3GPP is the modem adapter's OnFix3GPP callback: it updates
// the retained tower and requests a refresh.
func (s *Source) HandleFix3GPP(fix modem.Fix3GPP) {
	s.query.SetTower(fix.Tower)

	s.mu.Lock()
	s.towerValid = true
	s.mu.Unlock()

	s.SetAccuracyLevel(geo.AccuracyStreet)
	go s.engine.Refresh(context.Background())
	s.armRepeatTimer()
}

// HandleNoFix is the modem adapter's OnNoFix3G callback.
func (s *Source) HandleNoFix() {
	s.query.ClearTower()
	s.mu.Lock()
	s.towerValid = false
	s.mu.Unlock()
	s.SetAccuracyLevel(geo.AccuracyNone)
	s.disarmRepeatTimer()
}

func (s *Source) armRepeatTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.repeatRefreshPeriod)
	s.stop = make(chan struct{})
	ticker, stop := s.ticker, s.stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				valid := s.towerValid
				s.mu.Unlock()
				if valid {
					s.engine.Refresh(context.Background())
				}
			}
		}
	}()
}

func (s *Source) disarmRepeatTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.ticker = nil
		s.stop = nil
	}
}

func (s *Source) activate(ctx context.Context) error {
	s.engine.OnNetworkChange(false)
	return nil
}

func (s *Source) deactivate() {
	s.disarmRepeatTimer()
}

// Close releases the engine's reachability probes.
func (s *Source) Close() {
	s.engine.Close()
	s.disarmRepeatTimer()
}
