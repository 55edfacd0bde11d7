package wifi

import (
	"context"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/source"
	"github.com/markus-lassfolk/geoclued/pkg/webquery"
	"github.com/markus-lassfolk/geoclued/pkg/websource"
)

const scanInterval = 30 * time.Second

// Source composes WebSourceEngine with a Scanner: it periodically
// rescans, keeps the latest BSS list for the shared MozillaQuery, marks
// submission dedup dirty on churn, and refreshes the engine (spec
// §4.7's "WifiSource supplies the BSS list and notifies the engine of
// BSS churn via mark_bss_dirty").
type Source struct {
	*source.Base

	logger  *logx.Logger
	scanner *Scanner
	query   *webquery.Query
	engine  *websource.Engine

	bsses []geo.BSS
	stop  chan struct{}
}

// New wires a Source around device and the single shared MozillaQuery
// instance common to Wi-Fi, 3GPP and submission.
func New(device string, query *webquery.Query, locateURL, submitURL, nickname string, logger *logx.Logger) *Source {
	s := &Source{
		logger:  logger,
		scanner: NewScanner(device, logger),
		query:   query,
	}
	query.SetWifiProvider(s)
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

// BSSList implements webquery.WifiProvider.
func (s *Source) BSSList() []geo.BSS {
	return s.bsses
}

func (s *Source) buildQuery() ([]byte, string, error) {
	if len(geo.NonIgnored(s.bsses)) < 2 {
		return nil, "", geo.NewError(geo.KindNotInitialized, "fewer than 2 usable BSS entries")
	}
	body, err := s.query.BuildLocate(true, false)
	return body, "wifi", err
}

func (s *Source) computeAccuracy() geo.AccuracyLevel {
	if len(geo.NonIgnored(s.bsses)) >= 2 {
		return geo.AccuracyStreet
	}
	return geo.AccuracyNone
}

func (s *Source) activate(ctx context.Context) error {
	s.engine.OnNetworkChange(false)
	stop := make(chan struct{})
	s.stop = stop
	go s.scanLoop(ctx, stop)
	return nil
}

func (s *Source) deactivate() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Source) scanLoop(ctx context.Context, stop chan struct{}) {
	s.rescan(ctx)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rescan(ctx)
		}
	}
}

func (s *Source) rescan(ctx context.Context) {
	bsses, err := s.scanner.Scan(ctx)
	if err != nil {
		s.logger.Debug("wifi scan failed", "error", err.Error())
		return
	}

	changed := bssSetChanged(s.bsses, bsses)
	s.bsses = bsses

	s.SetAccuracyLevel(s.computeAccuracy())

	if changed {
		s.query.MarkBSSDirty()
	}
	s.engine.Refresh(ctx)
}

func bssSetChanged(old, next []geo.BSS) bool {
	if len(old) != len(next) {
		return true
	}
	seen := make(map[string]bool, len(old))
	for _, b := range old {
		seen[b.BSSID] = true
	}
	for _, b := range next {
		if !seen[b.BSSID] {
			return true
		}
	}
	return false
}
