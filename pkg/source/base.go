// Package source implements the contract every location source shares:
// ref-counted activation, last-known location, available-accuracy-level
// publication, and subscriber notification.
package source

import (
	"context"
	"sync"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

// StartResult is the outcome of Base.Start.
type StartResult int

const (
	StartOK StartResult = iota
	StartAlreadyStarted
	StartFailed
)

// StopResult is the outcome of Base.Stop.
type StopResult int

const (
	StopOK StopResult = iota
	StopStillUsed
	StopFailed
)

// Hooks are the provider-supplied activation callbacks a concrete source
// plugs into Base, avoiding the inheritance-hierarchy re-entry problem a
// virtual-base-class design would have: Base never calls back into a
// virtual parent, only into these function values the concrete source
// owns.
type Hooks struct {
	// Activate is invoked on the 0->1 transition. ctx is cancelled when
	// the source is deactivated; Activate should return once setup has
	// been kicked off, not block for the source's lifetime.
	Activate func(ctx context.Context) error
	// Deactivate is invoked on the 1->0 transition.
	Deactivate func()
}

// Base is the common state machine embedded by every concrete source.
type Base struct {
	logger *logx.Logger
	hooks  Hooks

	mu       sync.Mutex
	refs     int
	cancel   context.CancelFunc
	location *geo.LocationValue
	accuracy geo.AccuracyLevel

	locationSubs [](func(geo.LocationValue))
	accuracySubs [](func(geo.AccuracyLevel))
}

// NewBase constructs a Base in the Inactive state.
func NewBase(logger *logx.Logger, hooks Hooks) *Base {
	return &Base{logger: logger, hooks: hooks}
}

// Start increments the active-ref count, activating the provider on the
// 0->1 transition.
func (b *Base) Start() StartResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs > 0 {
		b.refs++
		return StartAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.hooks.Activate(ctx); err != nil {
		cancel()
		b.logger.Warn("source activation failed", "error", err.Error())
		return StartFailed
	}
	b.cancel = cancel
	b.refs = 1
	return StartOK
}

// Stop decrements the active-ref count, deactivating the provider on the
// 1->0 transition.
func (b *Base) Stop() StopResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs == 0 {
		return StopFailed
	}
	b.refs--
	if b.refs > 0 {
		return StopStillUsed
	}

	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.hooks.Deactivate()
	return StopOK
}

// Active reports whether the source has at least one active subscriber.
func (b *Base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs > 0
}

// Location returns the last emitted LocationValue, or ok=false if none
// has been emitted yet.
func (b *Base) Location() (geo.LocationValue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.location == nil {
		return geo.LocationValue{}, false
	}
	return *b.location, true
}

// AvailableAccuracyLevel returns the best accuracy this source can
// currently deliver, which may change while the source is inactive.
func (b *Base) AvailableAccuracyLevel() geo.AccuracyLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accuracy
}

// SetAccuracyLevel is called by the provider whenever its capability
// changes; it fires before any subsequent SetLocation so that a
// subscriber observing both always sees accuracy-before-location.
func (b *Base) SetAccuracyLevel(level geo.AccuracyLevel) {
	b.mu.Lock()
	if b.accuracy == level {
		b.mu.Unlock()
		return
	}
	b.accuracy = level
	subs := append([](func(geo.AccuracyLevel)){}, b.accuracySubs...)
	b.mu.Unlock()

	for _, cb := range subs {
		cb(level)
	}
}

// SetLocation is called by the provider to publish a new location. It is
// a no-op while the source is inactive: an inactive source never emits.
func (b *Base) SetLocation(loc geo.LocationValue) {
	b.mu.Lock()
	if b.refs == 0 {
		b.mu.Unlock()
		return
	}
	cp := loc
	b.location = &cp
	subs := append([](func(geo.LocationValue)){}, b.locationSubs...)
	b.mu.Unlock()

	for _, cb := range subs {
		cb(loc)
	}
}

// ClearLocation drops the current location without publishing a new
// one's worth of subscriber callbacks as a location (used when a
// source's evidence disappears, e.g. NO_FIX or a deleted static file).
func (b *Base) ClearLocation() {
	b.mu.Lock()
	b.location = nil
	b.mu.Unlock()
}

// SubscribeLocation registers a callback for location changes.
func (b *Base) SubscribeLocation(cb func(geo.LocationValue)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locationSubs = append(b.locationSubs, cb)
}

// SubscribeAccuracy registers a callback for accuracy-level changes.
func (b *Base) SubscribeAccuracy(cb func(geo.AccuracyLevel)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accuracySubs = append(b.accuracySubs, cb)
}
