package websource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/webquery"
)

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Query == nil {
		cfg.Query = webquery.New()
	}
	if cfg.BuildQuery == nil {
		cfg.BuildQuery = func() ([]byte, string, error) { return []byte(`{}`), "wifi", nil }
	}
	if cfg.ComputeAccuracy == nil {
		cfg.ComputeAccuracy = func() geo.AccuracyLevel { return geo.AccuracyStreet }
	}
	if cfg.SetAccuracy == nil {
		cfg.SetAccuracy = func(geo.AccuracyLevel) {}
	}
	if cfg.IsActive == nil {
		cfg.IsActive = func() bool { return true }
	}
	return New(cfg, logx.New("test", "error"))
}

func TestRefreshFailsWhenInactive(t *testing.T) {
	e := testEngine(t, Config{IsActive: func() bool { return false }})
	err := e.Refresh(context.Background())
	require.Error(t, err)
	kind, _ := geo.KindOf(err)
	assert.Equal(t, geo.KindNotInitialized, kind)
}

func TestRefreshFailsWhenLocateUnreachable(t *testing.T) {
	e := testEngine(t, Config{})
	err := e.Refresh(context.Background())
	require.Error(t, err)
	kind, _ := geo.KindOf(err)
	assert.Equal(t, geo.KindNetworkUnreachable, kind)
}

func TestRefreshSucceedsAndPublishesLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location":{"lat":1,"lng":2},"accuracy":10}`))
	}))
	defer server.Close()

	var published geo.LocationValue
	e := testEngine(t, Config{
		LocateURL:   server.URL,
		SetLocation: func(loc geo.LocationValue) { published = loc },
	})
	e.onReachabilityChange(server.URL, true)

	err := e.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, published.Latitude)
}

func TestRefreshPropagatesBuildQueryError(t *testing.T) {
	e := testEngine(t, Config{
		LocateURL: "http://example.invalid",
		BuildQuery: func() ([]byte, string, error) {
			return nil, "", geo.NewError(geo.KindNotInitialized, "no evidence")
		},
	})
	e.onReachabilityChange("http://example.invalid", true)

	err := e.Refresh(context.Background())
	require.Error(t, err)
	kind, _ := geo.KindOf(err)
	assert.Equal(t, geo.KindNotInitialized, kind)
}

func TestRefreshSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location":{"lat":1,"lng":2},"accuracy":10}`))
	}))
	defer server.Close()

	e := testEngine(t, Config{
		LocateURL: server.URL,
		BuildQuery: func() ([]byte, string, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return []byte(`{}`), "wifi", nil
		},
	})
	e.onReachabilityChange(server.URL, true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.Refresh(context.Background())
	}()

	time.Sleep(50 * time.Millisecond) // let the first Refresh reach buildQuery
	err := e.Refresh(context.Background())
	require.Error(t, err)
	kind, _ := geo.KindOf(err)
	assert.Equal(t, geo.KindPending, kind)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReachabilityFalseToTrueTriggersRefresh(t *testing.T) {
	refreshed := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location":{"lat":1,"lng":2},"accuracy":10}`))
	}))
	defer server.Close()

	e := testEngine(t, Config{
		LocateURL:   server.URL,
		SetLocation: func(geo.LocationValue) { refreshed <- struct{}{} },
	})

	e.onReachabilityChange(server.URL, true)

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the false->true reachability transition to trigger a refresh")
	}
}

func TestObserveSubmitSourceGatesOnAccuracyAndReachability(t *testing.T) {
	var submitted int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submitted, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := testEngine(t, Config{SubmitURL: server.URL})

	// submit unreachable: gated out.
	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&submitted))

	e.onReachabilityChange(server.URL, true)

	// accuracy too coarse: gated out.
	e.ObserveSubmitSource(geo.LocationValue{Accuracy: submitMaxAccuracyM + 1, Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&submitted))

	// good accuracy, reachable: accepted.
	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&submitted))
}

func TestObserveSubmitSourceThrottlesWithinMinInterval(t *testing.T) {
	var submitted int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submitted, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := testEngine(t, Config{SubmitURL: server.URL})
	e.onReachabilityChange(server.URL, true)

	now := time.Now()
	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: now})
	time.Sleep(50 * time.Millisecond)
	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: now.Add(5 * time.Second)})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&submitted), "a second submission inside the 60s window must be throttled")
}

// TestSubmitDedupSurvivesPOSTFailure documents the resolved open
// question: dedup flags are set before the POST is dispatched, so a
// failed submission still suppresses a retry until the evidence changes
// (no retry storm), even though this means a transient network failure
// can silently drop one submission.
func TestSubmitDedupSurvivesPOSTFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	query := webquery.New()
	e := testEngine(t, Config{SubmitURL: server.URL, Query: query})
	e.onReachabilityChange(server.URL, true)

	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	_, ok, err := query.BuildSubmit(geo.LocationValue{Timestamp: time.Now()}, "")
	require.NoError(t, err)
	assert.False(t, ok, "dedup flags must stay set even though the POST above failed server-side")
}

type fakeLocator struct {
	loc geo.LocationValue
	err error
}

func (f *fakeLocator) Locate(ctx context.Context, query *webquery.Query, inputKind string) (geo.LocationValue, error) {
	return f.loc, f.err
}

// TestSetLocatorBypassesHTTPTransport documents that swapping in an
// alternate Locator (e.g. webquery.GoogleLocator) replaces the Mozilla
// POST entirely -- LocateURL is then only used for reachability probing.
func TestSetLocatorBypassesHTTPTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("the Mozilla HTTP transport must not be hit once a Locator is set")
	}))
	defer server.Close()

	locator := &fakeLocator{loc: geo.LocationValue{Latitude: 41, Longitude: 9}}
	var published geo.LocationValue
	e := testEngine(t, Config{
		LocateURL:   server.URL,
		SetLocation: func(loc geo.LocationValue) { published = loc },
	})
	e.SetLocator(locator)
	e.onReachabilityChange(server.URL, true)

	err := e.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41.0, published.Latitude)
}

func TestSetMetricsHooksReportsLocateOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location":{"lat":1,"lng":2},"accuracy":10}`))
	}))
	defer server.Close()

	var outcomes []string
	e := testEngine(t, Config{LocateURL: server.URL})
	e.SetMetricsHooks(func(outcome string) { outcomes = append(outcomes, outcome) }, nil)
	e.onReachabilityChange(server.URL, true)

	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, []string{"ok"}, outcomes)
}

func TestSetMetricsHooksReportsLocateError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var outcomes []string
	e := testEngine(t, Config{LocateURL: server.URL})
	e.SetMetricsHooks(func(outcome string) { outcomes = append(outcomes, outcome) }, nil)
	e.onReachabilityChange(server.URL, true)

	require.Error(t, e.Refresh(context.Background()))
	assert.Equal(t, []string{"error"}, outcomes)
}

func TestSetMetricsHooksReportsSubmitOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	submitted := make(chan string, 1)
	e := testEngine(t, Config{SubmitURL: server.URL})
	e.SetMetricsHooks(nil, func(outcome string) { submitted <- outcome })
	e.onReachabilityChange(server.URL, true)

	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: time.Now()})

	select {
	case outcome := <-submitted:
		assert.Equal(t, "ok", outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a submit outcome")
	}
}

// TestNicknameReloadReplaces documents the resolved open question: a
// mid-run config reload replaces the submission nickname outright, it
// does not preserve whatever the engine was constructed with.
func TestNicknameReloadReplaces(t *testing.T) {
	seen := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("X-Nickname")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := testEngine(t, Config{SubmitURL: server.URL, Nickname: "original"})
	e.onReachabilityChange(server.URL, true)
	e.SetNickname("reloaded")

	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: time.Now()})

	select {
	case nick := <-seen:
		assert.Equal(t, "reloaded", nick)
	case <-time.After(2 * time.Second):
		t.Fatal("submit request never arrived")
	}
}

// TestNicknameReloadDefaults documents the other half: a reload that
// omits the nickname (the empty string) is honored as-is rather than
// falling back to whatever nickname was previously configured -- the
// default-substitution ("geoclue" for a too-short value) is pkg/config's
// job, not the engine's.
func TestNicknameReloadDefaults(t *testing.T) {
	seen := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("X-Nickname")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := testEngine(t, Config{SubmitURL: server.URL, Nickname: "original"})
	e.onReachabilityChange(server.URL, true)
	e.SetNickname("")

	e.ObserveSubmitSource(geo.LocationValue{Accuracy: 10, Timestamp: time.Now()})

	select {
	case nick := <-seen:
		assert.Equal(t, "", nick)
	case <-time.After(2 * time.Second):
		t.Fatal("submit request never arrived")
	}
}
