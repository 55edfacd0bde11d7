// Package nmea implements the NMEA 0183 multiplexing source: sentence
// recognition and GGA/RMC decoding, plus the multi-service try/broken
// reconnection loop that feeds them from local NMEA-over-TCP providers
// discovered via mDNS.
package nmea

import (
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
)

// SentenceType is the three-letter NMEA sentence formatter this package
// understands, mirroring gclue_nmea_type_is's "ignore the talker ID,
// match on the formatter" rule.
type SentenceType string

const (
	TypeGGA SentenceType = "GGA"
	TypeRMC SentenceType = "RMC"
)

// HasType reports whether sentence (with or without its leading '$' and
// trailing checksum) is of the given three-letter type, ignoring the
// two-letter talker ID exactly as gclue_nmea_type_is does.
func HasType(sentence string, t SentenceType) bool {
	if len(sentence) <= 6 || sentence[0] != '$' {
		return false
	}
	return strings.HasPrefix(sentence[3:], string(t))
}

// fixQuality mirrors GGA field 6.
type fixQuality int

const (
	fixInvalid fixQuality = 0
	fixGPS     fixQuality = 1
	fixDGPS    fixQuality = 2
)

// ChecksumValid verifies the trailing "*HH" checksum of a raw NMEA
// sentence (including the leading '$'). A sentence with no checksum
// field is treated as invalid, matching the strict multiplexer in spec
// §4.4 which drops anything it cannot validate.
func ChecksumValid(sentence string) bool {
	star := strings.LastIndexByte(sentence, '*')
	if star < 0 || star+3 > len(sentence) || len(sentence) < 2 {
		return false
	}
	want, err := strconv.ParseUint(sentence[star+1:star+3], 16, 8)
	if err != nil {
		return false
	}
	var got byte
	for i := 1; i < star; i++ {
		got ^= sentence[i]
	}
	return byte(want) == got
}

// splitFields splits a sentence's comma-delimited fields after stripping
// the trailing "*HH" checksum; the leading "$TTSSS" address is kept as
// field 0.
func splitFields(sentence string) []string {
	body := sentence
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		body = body[:star]
	}
	return strings.Split(body, ",")
}

// nmeaTimeToTimeOfDay parses an hhmmss[.sss] field into a time.Duration
// since midnight; ok is false if the field is empty or malformed (mirrors
// gclue_nmea_timestamp_to_timespan).
func nmeaTimeToTimeOfDay(field string) (time.Duration, bool) {
	if field == "" {
		return 0, false
	}
	ts, err := strconv.ParseFloat(field, 64)
	if err != nil || ts < 0 || ts >= 235960.0 {
		return 0, false
	}
	its := int64(ts)
	hours := its / 10000
	minutes := (its - 10000*hours) / 100
	secondsF := ts - float64(10000*hours) - float64(100*minutes)
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(secondsF*float64(time.Second))
	return total, true
}

// parseLatLon decodes a DDMM.mmmm (or DDDMM.mmmm for longitude) field
// plus its N/S or E/W hemisphere letter into signed decimal degrees.
func parseLatLon(field, hemisphere string, lonDigits int) (float64, bool) {
	if field == "" || hemisphere == "" {
		return 0, false
	}
	dot := strings.IndexByte(field, '.')
	if dot < lonDigits+2 {
		return 0, false
	}
	degLen := dot - 2
	deg, err := strconv.ParseFloat(field[:degLen], 64)
	if err != nil {
		return 0, false
	}
	min, err := strconv.ParseFloat(field[degLen:], 64)
	if err != nil {
		return 0, false
	}
	val := deg + min/60.0
	switch hemisphere {
	case "S", "W":
		val = -val
	}
	return val, true
}

// ParseGGA decodes a GGA sentence's fix-quality, position and altitude
// fields into a LocationValue. speed/heading are left Unknown; RMC fills
// those in. ok is false for a sentence with no fix (quality 0).
func ParseGGA(sentence string) (geo.LocationValue, bool) {
	f := splitFields(sentence)
	if len(f) < 10 {
		return geo.LocationValue{}, false
	}
	quality, _ := strconv.Atoi(f[6])
	if fixQuality(quality) == fixInvalid {
		return geo.LocationValue{}, false
	}

	lat, ok1 := parseLatLon(f[2], f[3], 2)
	lon, ok2 := parseLatLon(f[4], f[5], 3)
	if !ok1 || !ok2 {
		return geo.LocationValue{}, false
	}

	loc := geo.LocationValue{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  geo.Unknown,
		Altitude:  geo.Unknown,
		Speed:     geo.Unknown,
		Heading:   geo.Unknown,
		Timestamp: time.Now(),
	}
	if alt, err := strconv.ParseFloat(f[9], 64); err == nil {
		loc.Altitude = alt
	}
	return loc, true
}

// ParseRMC decodes an RMC sentence into a LocationValue, filling in
// speed (converted from knots to m/s) and heading, which GGA lacks. ok
// is false for a "void" (invalid-fix) sentence.
func ParseRMC(sentence string) (geo.LocationValue, bool) {
	f := splitFields(sentence)
	if len(f) < 12 {
		return geo.LocationValue{}, false
	}
	if f[2] != "A" { // status: A = active/valid, V = void
		return geo.LocationValue{}, false
	}

	lat, ok1 := parseLatLon(f[3], f[4], 2)
	lon, ok2 := parseLatLon(f[5], f[6], 3)
	if !ok1 || !ok2 {
		return geo.LocationValue{}, false
	}

	loc := geo.LocationValue{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  geo.Unknown,
		Altitude:  geo.Unknown,
		Speed:     geo.Unknown,
		Heading:   geo.Unknown,
		Timestamp: time.Now(),
	}
	if knots, err := strconv.ParseFloat(f[7], 64); err == nil {
		loc.Speed = knots * 0.514444
	}
	if heading, err := strconv.ParseFloat(f[8], 64); err == nil {
		loc.Heading = heading
	}
	return loc, true
}

// Merge combines a GGA-derived location (which may have altitude but no
// speed/heading) with an RMC-derived one from the same fix cycle,
// preferring whichever side actually has a given field.
func Merge(gga, rmc geo.LocationValue, haveGGA, haveRMC bool) geo.LocationValue {
	switch {
	case haveGGA && haveRMC:
		out := rmc
		out.Altitude = gga.Altitude
		return out
	case haveRMC:
		return rmc
	default:
		return gga
	}
}
