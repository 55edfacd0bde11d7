package geo

import (
	"strconv"
)

// TEC (Tower Evidence Class) is our internal enum over cellular radio
// generations, used to pick the Mozilla-query radioType string.
type TEC int

const (
	TECUnknown TEC = iota
	TEC2G
	TEC3G
	TEC4G
	TECNoFix
)

func (t TEC) String() string {
	switch t {
	case TEC2G:
		return "2G"
	case TEC3G:
		return "3G"
	case TEC4G:
		return "4G"
	case TECNoFix:
		return "NO_FIX"
	default:
		return "UNKNOWN"
	}
}

// RadioType returns the Mozilla-query radioType string for this TEC, and
// false if the TEC has no radioType mapping (unknown/no-fix).
func (t TEC) RadioType() (string, bool) {
	switch t {
	case TEC2G:
		return "gsm", true
	case TEC3G:
		return "wcdma", true
	case TEC4G:
		return "lte", true
	default:
		return "", false
	}
}

// Tower3G is a single cellular tower observation. Identity is the tuple
// (OPC, LAC, CellID, TEC).
type Tower3G struct {
	OPC    string // six-digit operator code, MCC(3) || MNC(3)
	LAC    int    // location-area code, or tracking-area code when TEC == TEC4G
	CellID int
	TEC    TEC
}

// Equal reports tuple-identity, the comparison used to decide whether a
// dedup flag should survive a tower update.
func (t Tower3G) Equal(o Tower3G) bool {
	return t.OPC == o.OPC && t.LAC == o.LAC && t.CellID == o.CellID && t.TEC == o.TEC
}

// MCCMNC splits OPC into its mobile country code and mobile network
// code. Both halves must be fully numeric; ok is false otherwise.
func (t Tower3G) MCCMNC() (mcc, mnc int, ok bool) {
	if len(t.OPC) != 6 {
		return 0, 0, false
	}
	mcc, err1 := strconv.Atoi(t.OPC[0:3])
	mnc, err2 := strconv.Atoi(t.OPC[3:6])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return mcc, mnc, true
}

// FormatOPC builds the six-digit operator code from separate MCC/MNC
// values, as the modem adapter does when the modem reports them
// separately instead of as a combined operator code.
func FormatOPC(mcc, mnc int) (string, bool) {
	if mcc < 0 || mcc >= 1000 || mnc < 0 || mnc >= 1000 {
		return "", false
	}
	return pad3(mcc) + pad3(mnc), true
}

func pad3(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
