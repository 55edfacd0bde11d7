package websource

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

// Reachability tracks whether a set of named URLs are reachable,
// modeled on a periodic-probe idiom: a minimal in-process prober stands
// in for a platform network monitor so the reachability state machine
// is fully exercised rather than stubbed.
type Reachability struct {
	logger *logx.Logger
	client *http.Client

	mu       sync.Mutex
	state    map[string]bool
	fullNet  bool // NetworkMonitor's "full internet connectivity" override
	onChange func(url string, reachable bool)

	cancel context.CancelFunc
}

// NewReachability creates a tracker. onChange is invoked (from the
// prober's goroutine) whenever a tracked URL's reachability flips.
func NewReachability(client *http.Client, logger *logx.Logger, onChange func(url string, reachable bool)) *Reachability {
	return &Reachability{
		logger:   logger,
		client:   client,
		state:    make(map[string]bool),
		onChange: onChange,
	}
}

// SetFullConnectivity records the platform's "full internet
// connectivity" override: a URL is reachable if either the prober can
// reach the host or the platform reports full connectivity.
func (r *Reachability) SetFullConnectivity(full bool) {
	r.mu.Lock()
	r.fullNet = full
	r.mu.Unlock()
}

// Reachable reports the last known reachability of rawURL.
func (r *Reachability) Reachable(rawURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fullNet {
		return true
	}
	return r.state[rawURL]
}

// Probe cancels any outstanding probes and issues new ones for the
// given URLs, one per URL: call this on any network-change or
// connectivity-change event. Each probe's context is cancelled
// automatically by the next call to Probe, so a superseded probe can
// never publish stale reachability.
func (r *Reachability) Probe(urls []string) {
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, u := range urls {
		if u == "" {
			continue
		}
		go r.probeOne(ctx, u)
	}
}

func (r *Reachability) probeOne(ctx context.Context, rawURL string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, parsed.String(), nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	reachable := err == nil
	if resp != nil {
		resp.Body.Close()
	}

	select {
	case <-ctx.Done():
		// Cancelled by a newer Probe call; never publish this result.
		return
	default:
	}

	r.mu.Lock()
	was := r.state[rawURL]
	r.state[rawURL] = reachable
	r.mu.Unlock()

	if reachable != was {
		r.logger.Debug("reachability changed", "url", rawURL, "reachable", reachable)
		if r.onChange != nil {
			r.onChange(rawURL, reachable)
		}
	}
}

// Close cancels any outstanding probes.
func (r *Reachability) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}
