package modem

import (
	"context"
	"strings"
	"sync"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

// Fix3GPP is delivered on every accepted 3GPP tower change (or forced
// re-emission via ignorePrevious).
type Fix3GPP struct {
	Tower geo.Tower3G
}

// Adapter is the modem attachment singleton: it attaches to at most one
// modem object at a time (single-modem policy),
// tracks which of {3G, CDMA, GPS} are currently available, and
// demultiplexes location-changed notifications into per-capability fix
// callbacks.
type Adapter struct {
	logger *logx.Logger
	bus    Bus

	onCap3G   func(bool)
	onCapCDMA func(bool)
	onCapGPS  func(bool)
	onFix3GPP func(Fix3GPP)
	onNoFix3G func()
	onFixCDMA func(lat, lon float64)
	onFixGPS  func(gga, rmc string)

	mu          sync.Mutex
	attached    *Modem
	notEnabled  map[string]*Modem // parked modems awaiting Enabled state
	caps        Capability        // currently-enabled capability bits (from location.setup)
	desiredCaps Capability
	availCaps   Capability // modem-declared available capabilities

	lastTower      geo.Tower3G
	haveLastTower  bool
	ignorePrevious bool

	refreshRateSeconds int
}

// Callbacks bundles the subscriber hooks wired to the three sources
// that compose over this adapter (ThreeGSource, a CDMA-backed source,
// and the GPS-NMEA source).
type Callbacks struct {
	OnCap3G   func(bool)
	OnCapCDMA func(bool)
	OnCapGPS  func(bool)
	OnFix3GPP func(Fix3GPP)
	OnNoFix3G func()
	OnFixCDMA func(lat, lon float64)
	OnFixGPS  func(gga, rmc string)
}

// New creates an Adapter and subscribes it to bus's modem-added/removed
// events.
func New(bus Bus, cb Callbacks, logger *logx.Logger) *Adapter {
	a := &Adapter{
		logger:             logger,
		bus:                bus,
		onCap3G:            cb.OnCap3G,
		onCapCDMA:          cb.OnCapCDMA,
		onCapGPS:           cb.OnCapGPS,
		onFix3GPP:          cb.OnFix3GPP,
		onNoFix3G:          cb.OnNoFix3G,
		onFixCDMA:          cb.OnFixCDMA,
		onFixGPS:           cb.OnFixGPS,
		notEnabled:         make(map[string]*Modem),
		refreshRateSeconds: 120,
	}
	bus.SubscribeModemAdded(a.onModemAdded)
	bus.SubscribeModemRemoved(a.onModemRemoved)
	return a
}

// SetRefreshRateSeconds updates the GPS refresh-rate threshold applied
// the next time a modem reaches Enabled.
func (a *Adapter) SetRefreshRateSeconds(seconds int) {
	a.mu.Lock()
	a.refreshRateSeconds = seconds
	a.mu.Unlock()
}

func (a *Adapter) onModemAdded(m *Modem) {
	a.mu.Lock()
	if a.attached != nil {
		a.mu.Unlock()
		a.logger.Debug("ignoring additional modem: single-modem policy", "path", m.Path)
		return
	}
	if _, _, _, ok := m.LocationCapabilities(); !ok {
		a.mu.Unlock()
		a.logger.Debug("modem has no location interface, skipping", "path", m.Path)
		return
	}

	if m.State() < StateEnabled {
		a.notEnabled[m.Path] = m
		a.mu.Unlock()
		m.SubscribeStateChanged(func(s State) { a.onModemStateChanged(m, s) })
		return
	}
	a.attached = m
	a.mu.Unlock()

	a.armModem(m)
}

func (a *Adapter) onModemStateChanged(m *Modem, s State) {
	if s < StateEnabled {
		return
	}
	a.mu.Lock()
	if _, parked := a.notEnabled[m.Path]; !parked {
		a.mu.Unlock()
		return
	}
	delete(a.notEnabled, m.Path)
	if a.attached != nil {
		a.mu.Unlock()
		return
	}
	a.attached = m
	a.mu.Unlock()

	a.armModem(m)
}

// armModem publishes availability bits, opportunistically enables
// A-GPS, and sets the GPS refresh rate on a newly attached modem.
func (a *Adapter) armModem(m *Modem) {
	has3GPP, hasCDMA, hasGPS, _ := m.LocationCapabilities()

	a.mu.Lock()
	avail := Capability(0)
	if has3GPP {
		avail |= Cap3GPP
	}
	if hasCDMA {
		avail |= CapCDMA
	}
	if hasGPS {
		avail |= CapGPSNMEA
	}
	a.availCaps = avail
	refreshSeconds := a.refreshRateSeconds
	a.mu.Unlock()

	if a.onCap3G != nil {
		a.onCap3G(has3GPP)
	}
	if a.onCapCDMA != nil {
		a.onCapCDMA(hasCDMA)
	}
	if a.onCapGPS != nil {
		a.onCapGPS(hasGPS)
	}

	if suplServer := m.SUPLServer(); suplServer != "" {
		// Prefer MSB (mobile-station-based) over MSA when a SUPL server
		// is configured.
		a.enableCapability(m, CapAGPSMSB)
	}

	m.SubscribeLocationChanged(func() { a.onLocationChanged(m) })

	ctx := context.Background()
	if err := m.SetGPSRefreshRate(ctx, refreshSeconds); err != nil {
		a.logger.Debug("set GPS refresh rate failed", "path", m.Path, "error", err.Error())
	}
}

// enableCapability sets bit in desiredCaps and reprograms location setup
// on the modem.
func (a *Adapter) enableCapability(m *Modem, bit Capability) {
	a.mu.Lock()
	a.desiredCaps |= bit
	enabled := a.caps | a.desiredCaps
	a.mu.Unlock()

	m.Setup(context.Background(), enabled, true, func(err error) {
		if err != nil {
			a.mu.Lock()
			a.desiredCaps &^= bit
			a.mu.Unlock()
			a.logger.Debug("location setup failed, clearing desired bit", "path", m.Path, "bit", bit)
			return
		}
		a.mu.Lock()
		a.caps |= bit
		a.ignorePrevious = true
		a.mu.Unlock()
		a.onLocationChanged(m)
	})
}

// disableCapability clears bit and reprograms location setup
// synchronously.
func (a *Adapter) disableCapability(m *Modem, bit Capability) {
	a.mu.Lock()
	a.desiredCaps &^= bit
	a.caps &^= bit
	enabled := a.caps | a.desiredCaps
	a.mu.Unlock()

	m.Setup(context.Background(), enabled, true, func(error) {})
}

// EnableCDMA and EnableGPS let a composing source request a capability
// explicitly.
func (a *Adapter) EnableCDMA() {
	a.mu.Lock()
	m := a.attached
	a.mu.Unlock()
	if m != nil {
		a.enableCapability(m, CapCDMA)
	}
}

func (a *Adapter) DisableCDMA() {
	a.mu.Lock()
	m := a.attached
	a.mu.Unlock()
	if m != nil {
		a.disableCapability(m, CapCDMA)
	}
}

func (a *Adapter) EnableGPS() {
	a.mu.Lock()
	m := a.attached
	a.mu.Unlock()
	if m != nil {
		a.enableCapability(m, CapGPSNMEA)
	}
}

func (a *Adapter) DisableGPS() {
	a.mu.Lock()
	m := a.attached
	a.mu.Unlock()
	if m != nil {
		a.disableCapability(m, CapGPSNMEA)
	}
}

func (a *Adapter) Enable3GPP() {
	a.mu.Lock()
	m := a.attached
	a.mu.Unlock()
	if m != nil {
		a.enableCapability(m, Cap3GPP)
	}
}

func (a *Adapter) Disable3GPP() {
	a.mu.Lock()
	m := a.attached
	a.mu.Unlock()
	if m != nil {
		a.disableCapability(m, Cap3GPP)
	}
}

// onLocationChanged dispatches fixes for whichever capabilities are
// currently enabled.
func (a *Adapter) onLocationChanged(m *Modem) {
	a.mu.Lock()
	caps := a.caps
	ignorePrevious := a.ignorePrevious
	a.ignorePrevious = false
	a.mu.Unlock()

	if caps&Cap3GPP != 0 {
		a.dispatch3GPP(m, ignorePrevious)
	}
	if caps&CapCDMA != 0 {
		a.dispatchCDMA(m)
	}
	if caps&CapGPSNMEA != 0 {
		a.dispatchGPS(m)
	}
}

func (a *Adapter) dispatch3GPP(m *Modem, ignorePrevious bool) {
	loc, ok := m.Location3GPP()
	if !ok {
		a.mu.Lock()
		a.haveLastTower = false
		a.mu.Unlock()
		if a.onNoFix3G != nil {
			a.onNoFix3G()
		}
		return
	}

	opc := loc.OperatorCode
	if opc == "" {
		if formatted, okFmt := geo.FormatOPC(loc.MCC, loc.MNC); okFmt {
			opc = formatted
		}
	}
	if opc == "" {
		return
	}

	tec := accessTechToTEC(loc.AccessTech)
	lac := loc.LAC
	if tec == geo.TEC4G {
		lac = loc.TrackingArea
	}

	tower := geo.Tower3G{OPC: opc, LAC: lac, CellID: loc.CellID, TEC: tec}

	a.mu.Lock()
	changed := !a.haveLastTower || !a.lastTower.Equal(tower)
	a.lastTower = tower
	a.haveLastTower = true
	a.mu.Unlock()

	if changed || ignorePrevious {
		if a.onFix3GPP != nil {
			a.onFix3GPP(Fix3GPP{Tower: tower})
		}
	}
}

func (a *Adapter) dispatchCDMA(m *Modem) {
	loc, ok := m.LocationCDMA()
	if !ok {
		return
	}
	if a.onFixCDMA != nil {
		a.onFixCDMA(loc.Latitude, loc.Longitude)
	}
}

func (a *Adapter) dispatchGPS(m *Modem) {
	loc, ok := m.LocationGPS()
	if !ok {
		return
	}
	if !HasType(loc.GGA, "GGA") {
		loc.GGA = ""
	}
	if !HasType(loc.RMC, "RMC") {
		loc.RMC = ""
	}
	if loc.GGA == "" && loc.RMC == "" {
		return
	}
	if a.onFixGPS != nil {
		a.onFixGPS(loc.GGA, loc.RMC)
	}
}

// HasType matches nmea.HasType's "$XX<type>" rule without importing the
// nmea package (ThreeGSource/GPS sources wire the two together one level
// up).
func HasType(sentence, t string) bool {
	if len(sentence) <= 6 || sentence[0] != '$' {
		return false
	}
	return strings.HasPrefix(sentence[3:], t)
}

func accessTechToTEC(tech string) geo.TEC {
	switch strings.ToUpper(tech) {
	case "GSM", "GPRS", "EDGE":
		return geo.TEC2G
	case "UMTS", "HSDPA", "HSUPA", "HSPA", "HSPA+":
		return geo.TEC3G
	case "LTE":
		return geo.TEC4G
	default:
		return geo.TECUnknown
	}
}

func (a *Adapter) onModemRemoved(path string) {
	a.mu.Lock()
	delete(a.notEnabled, path)
	if a.attached == nil || a.attached.Path != path {
		a.mu.Unlock()
		return
	}
	a.attached = nil
	a.caps = 0
	a.desiredCaps = 0
	a.haveLastTower = false
	a.mu.Unlock()

	if a.onCap3G != nil {
		a.onCap3G(false)
	}
	if a.onCapCDMA != nil {
		a.onCapCDMA(false)
	}
	if a.onCapGPS != nil {
		a.onCapGPS(false)
	}
	if a.onNoFix3G != nil {
		a.onNoFix3G()
	}
}
