// Package websource implements the reachability-tracked, single-flight
// query engine shared by the Wi-Fi and 3GPP sources, plus the
// opportunistic crowd-submission path.
package websource

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/webquery"
)

// submitMinInterval and submitMaxAccuracy gate the opportunistic submit
// hook.
const (
	submitMinInterval  = 60 * time.Second
	submitMaxAccuracyM = 100.0
)

// BuildQueryFunc lets the concrete source (Wi-Fi or 3GPP) decide what
// evidence to include, and report geo.KindNotInitialized when required
// evidence is absent.
type BuildQueryFunc func() (body []byte, inputKind string, err error)

// AccuracyFunc recomputes the source's available-accuracy-level from
// currently held evidence.
type AccuracyFunc func() geo.AccuracyLevel

// Locator abstracts the locate-request transport. Leaving Config.Locator
// nil uses the Mozilla-style JSON POST (webquery.Locate) against
// LocateURL; an alternate backend such as webquery.GoogleLocator can be
// substituted without touching the reachability/single-flight/ordering
// logic below.
type Locator interface {
	Locate(ctx context.Context, query *webquery.Query, inputKind string) (geo.LocationValue, error)
}

// Engine is the shared reachability-tracked, single-flight locate
// engine used by every web-backed location source.
type Engine struct {
	logger     *logx.Logger
	perfLogger *logx.PerformanceLogger
	httpClient *http.Client
	query      *webquery.Query

	buildQuery      BuildQueryFunc
	computeAccuracy AccuracyFunc
	setAccuracy     func(geo.AccuracyLevel)
	setLocation     func(geo.LocationValue)
	isActive        func() bool
	locator         Locator
	onLocateResult  func(outcome string)
	onSubmitResult  func(outcome string)

	locateURL   string
	submitURL   string
	nickname    string

	reach *Reachability

	mu              sync.Mutex
	locateReachable bool
	submitReachable bool
	inFlight        bool
	lastSubmittedTS time.Time
}

// Config bundles an Engine's construction parameters.
type Config struct {
	HTTPClient      *http.Client
	Query           *webquery.Query
	BuildQuery      BuildQueryFunc
	ComputeAccuracy AccuracyFunc
	SetAccuracy     func(geo.AccuracyLevel)
	SetLocation     func(geo.LocationValue)
	IsActive        func() bool
	LocateURL       string
	SubmitURL       string
	Nickname        string
	Locator         Locator

	// OnLocateResult and OnSubmitResult are optional observability hooks,
	// e.g. wired to pkg/metrics counters by the caller; outcome is "ok" or
	// "error". Left nil, no metrics are recorded.
	OnLocateResult func(outcome string)
	OnSubmitResult func(outcome string)
}

// New creates an Engine. The HTTP client defaults to one with the
// platform-default timeout behavior if cfg.HTTPClient is nil.
func New(cfg Config, logger *logx.Logger) *Engine {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	e := &Engine{
		logger:          logger,
		perfLogger:      logx.NewPerformanceLogger(logger),
		httpClient:      client,
		query:           cfg.Query,
		buildQuery:      cfg.BuildQuery,
		computeAccuracy: cfg.ComputeAccuracy,
		setAccuracy:     cfg.SetAccuracy,
		setLocation:     cfg.SetLocation,
		isActive:        cfg.IsActive,
		locateURL:       cfg.LocateURL,
		submitURL:       cfg.SubmitURL,
		nickname:        cfg.Nickname,
		locator:         cfg.Locator,
		onLocateResult:  cfg.OnLocateResult,
		onSubmitResult:  cfg.OnSubmitResult,
	}
	e.reach = NewReachability(client, logger, e.onReachabilityChange)
	return e
}

// SetLocator swaps the locate transport, e.g. to move a source from the
// Mozilla-style POST to webquery.GoogleLocator after a config reload
// supplies an API key. Passing nil restores the default transport.
func (e *Engine) SetLocator(l Locator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locator = l
}

// SetMetricsHooks wires observability callbacks (e.g. pkg/metrics
// counters) after construction, since the source-specific label (the
// source name) is only known to the caller assembling main.go's source
// list, not to Engine itself.
func (e *Engine) SetMetricsHooks(onLocateResult, onSubmitResult func(outcome string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLocateResult = onLocateResult
	e.onSubmitResult = onSubmitResult
}

// SetNickname updates the submission nickname, used when an operator
// config reload changes wifi.submission-nick. A reload replaces the
// nickname outright; it does not preserve whatever was configured
// before.
func (e *Engine) SetNickname(nick string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nickname = nick
}

// OnNetworkChange must be called whenever the platform reports a
// network or connectivity change. It cancels outstanding probes and
// issues fresh ones for both URLs.
func (e *Engine) OnNetworkChange(fullConnectivity bool) {
	e.reach.SetFullConnectivity(fullConnectivity)
	urls := []string{}
	if e.locateURL != "" {
		urls = append(urls, e.locateURL)
	}
	if e.submitURL != "" {
		urls = append(urls, e.submitURL)
	}
	e.reach.Probe(urls)
}

func (e *Engine) onReachabilityChange(url string, reachable bool) {
	e.mu.Lock()
	wasLocateReachable := e.locateReachable
	switch url {
	case e.locateURL:
		e.locateReachable = reachable
	case e.submitURL:
		e.submitReachable = reachable
	}
	e.mu.Unlock()

	if e.setAccuracy != nil {
		e.setAccuracy(e.computeAccuracy())
	}

	// A false->true transition of locate reachability triggers exactly
	// one refresh.
	if url == e.locateURL && !wasLocateReachable && reachable {
		go e.Refresh(context.Background())
	}
}

// Refresh executes the locate operation end to end: check activity and
// reachability, build the evidence body, issue the request, and publish
// the resulting location. It is safe to call concurrently: only one
// request is ever in flight.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.setAccuracy != nil {
		e.setAccuracy(e.computeAccuracy())
	}

	if e.isActive != nil && !e.isActive() {
		e.logger.Debug("refresh skipped: source inactive")
		return geo.NewError(geo.KindNotInitialized, "source inactive")
	}

	e.mu.Lock()
	if !e.locateReachable {
		e.mu.Unlock()
		e.logger.Debug("refresh skipped: locate URL unreachable", "url", e.locateURL)
		return geo.NewError(geo.KindNetworkUnreachable, "%s", e.locateURL)
	}
	if e.inFlight {
		e.mu.Unlock()
		e.logger.Debug("refresh skipped: request already pending")
		return geo.NewError(geo.KindPending, "")
	}
	e.inFlight = true
	locator := e.locator
	onLocateResult := e.onLocateResult
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	body, inputKind, err := e.buildQuery()
	if err != nil {
		e.logger.Debug("refresh skipped: no evidence to build query", "error", err.Error())
		return err
	}

	op := e.perfLogger.StartOperation(ctx, "locate_request")
	var loc geo.LocationValue
	if locator != nil {
		loc, err = locator.Locate(ctx, e.query, inputKind)
	} else {
		loc, err = webquery.Locate(ctx, e.httpClient, e.locateURL, body, inputKind)
	}
	op.Complete(err)
	if err != nil {
		if onLocateResult != nil {
			onLocateResult("error")
		}
		if kind, ok := geo.KindOf(err); ok && kind == geo.KindServerError {
			e.logger.Warn("locate request failed", "error", err.Error())
		} else {
			e.logger.Debug("locate request failed", "error", err.Error())
		}
		return err
	}
	if onLocateResult != nil {
		onLocateResult("ok")
	}

	if e.setLocation != nil {
		e.setLocation(loc)
	}
	return nil
}

// ObserveSubmitSource wires the opportunistic submission hook: feed it
// the submit-source's location notification stream (e.g. a GNSS
// source). The caller is expected to unsubscribe (stop sending) when
// the submit source is torn down; there is no independent ownership to
// release here.
func (e *Engine) ObserveSubmitSource(loc geo.LocationValue) {
	e.mu.Lock()
	submitReachable := e.submitReachable
	submitURL := e.submitURL
	last := e.lastSubmittedTS
	e.mu.Unlock()

	if submitURL == "" || !submitReachable {
		return
	}
	if !loc.HasAccuracy() || loc.Accuracy > submitMaxAccuracyM {
		return
	}
	if loc.Timestamp.Before(last.Add(submitMinInterval)) {
		return
	}

	e.mu.Lock()
	e.lastSubmittedTS = loc.Timestamp
	nickname := e.nickname
	onSubmitResult := e.onSubmitResult
	e.mu.Unlock()

	body, ok, err := e.query.BuildSubmit(loc, nickname)
	if err != nil || !ok {
		return
	}
	// Dedup flags are set before the POST is dispatched, not after
	// completion, to avoid retry storms -- a failed POST leaves them set
	// until the next dirty event (covered explicitly in tests).
	e.query.MarkSubmitted()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := webquery.Submit(ctx, e.httpClient, submitURL, nickname, body)
		if err != nil {
			e.logger.Warn("submit request failed", "error", err.Error())
		}
		if onSubmitResult != nil {
			if err != nil {
				onSubmitResult("error")
			} else {
				onSubmitResult("ok")
			}
		}
	}()
}

// Close releases the engine's reachability probes.
func (e *Engine) Close() {
	e.reach.Close()
}
