// Package modem implements the state machine that turns a
// modem-control-bus object's location capabilities into per-capability
// availability bits and fix notifications. The bus itself (ModemManager's
// D-Bus surface) is out of this module's scope; Bus and Modem are the
// narrow interface this package consumes from it.
package modem

import "context"

// State mirrors ModemManager's MMModemState ordering closely enough for
// the "< Enabled" threshold check the adapter uses to decide whether a
// modem is ready to arm.
type State int

const (
	StateFailed State = iota
	StateUnknown
	StateInitializing
	StateLocked
	StateDisabled
	StateDisabling
	StateEnabling
	StateEnabled
	StateSearching
	StateRegistered
	StateDisconnecting
	StateConnecting
	StateConnected
)

// Capability is a bitmask over the three location streams ModemAdapter
// can enable (3GPP, CDMA, GPS-NMEA) plus the two A-GPS modes (MSA, MSB).
type Capability int

const (
	Cap3GPP Capability = 1 << iota
	CapCDMA
	CapGPSNMEA
	CapAGPSMSA
	CapAGPSMSB
)

// Location3GPP is the 3GPP sub-structure of a modem's location report.
type Location3GPP struct {
	OperatorCode string // combined MCC+MNC, empty if not reported this way
	MCC, MNC     int    // used when OperatorCode is empty and both < 1000
	LAC          int
	TrackingArea int // used instead of LAC when AccessTech is LTE
	CellID       int
	AccessTech   string // "GSM", "GPRS", "EDGE", "UMTS", "HSDPA", "HSUPA", "HSPA", "HSPA+", "LTE", ...
}

// LocationCDMA is the CDMA base-station sub-structure.
type LocationCDMA struct {
	Latitude, Longitude float64
}

// LocationGPS is the raw NMEA trace sub-structure.
type LocationGPS struct {
	GGA, RMC string // raw sentences; empty if not currently available
}

// Modem is the narrow view of a single modem-manager modem object that
// ModemAdapter needs.
type Modem struct {
	Path string

	// State returns the modem's current lifecycle state.
	State func() State

	// SubscribeStateChanged registers a callback for state transitions.
	SubscribeStateChanged func(cb func(State))

	// LocationCapabilities reports which of the three streams this modem
	// declares support for, and whether the location interface exists at
	// all (ok=false means skip this modem entirely).
	LocationCapabilities func() (has3GPP, hasCDMA, hasGPS bool, ok bool)

	// SUPLServer returns the configured A-GPS SUPL server, or "" if none.
	SUPLServer func() string

	// Setup programs location.setup(enabledCaps, signalLocation) on the
	// modem, asynchronously; done is invoked on completion (err nil on
	// success).
	Setup func(ctx context.Context, enabledCaps Capability, signalLocation bool, done func(error))

	// SetGPSRefreshRate sets the GPS refresh-rate time-threshold.
	SetGPSRefreshRate func(ctx context.Context, seconds int) error

	// SubscribeLocationChanged registers a callback fired on every
	// location-changed notification from the modem.
	SubscribeLocationChanged func(cb func())

	// Location3GPP/LocationCDMA/LocationGPS fetch the modem's current
	// per-capability location sub-structures. ok is false if that
	// sub-structure is absent from the current report.
	Location3GPP func() (Location3GPP, bool)
	LocationCDMA func() (LocationCDMA, bool)
	LocationGPS  func() (LocationGPS, bool)
}

// Bus is the modem-control-bus collaborator: it reports modem objects
// as they appear and disappear on the bus.
type Bus interface {
	SubscribeModemAdded(cb func(*Modem))
	SubscribeModemRemoved(cb func(path string))
}

// NullBus is a Bus that never reports a modem. It lets ModemAdapter be
// wired up on a system with no ModemManager-equivalent binding
// available, rather than making modem support a hard compile-time
// dependency of every deployment.
type NullBus struct{}

func (NullBus) SubscribeModemAdded(func(*Modem))   {}
func (NullBus) SubscribeModemRemoved(func(string)) {}
