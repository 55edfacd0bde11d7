// Package webquery implements the Mozilla-style wire codec: the JSON
// request/response shape used by the web-locate engine to query a
// network location service and to submit crowd-sourced evidence.
package webquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
)

// WifiProvider is the non-owning handle to the Wi-Fi BSS evidence
// source. Query holds a weak reference in spirit: it never outlives the
// Wi-Fi source and never blocks its teardown.
type WifiProvider interface {
	BSSList() []geo.BSS
}

// Query is the shared codec state: the latest Tower3G (with validity
// flag) and the two submission-dedup flags. It is shared by every
// web-using source and the submission path; an internal mutex
// serializes mutation.
type Query struct {
	mu sync.Mutex

	wifi WifiProvider

	tower      geo.Tower3G
	towerValid bool

	towerSubmitted bool
	bssSubmitted   bool
}

// New creates a Query with no tower and no Wi-Fi provider attached yet.
func New() *Query {
	return &Query{}
}

// SetWifiProvider attaches the (non-owning) Wi-Fi BSS source.
func (q *Query) SetWifiProvider(w WifiProvider) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.wifi = w
}

// SetTower updates the retained tower. towerSubmitted is cleared unless
// the new tower is tuple-identical to the one already marked submitted.
func (q *Query) SetTower(t geo.Tower3G) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.towerValid && q.towerSubmitted && q.tower.Equal(t) {
		// identical tower: leave towerSubmitted set
	} else {
		q.towerSubmitted = false
	}
	q.tower = t
	q.towerValid = true
}

// ClearTower drops the retained tower (e.g. on a NO_FIX report).
func (q *Query) ClearTower() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.towerValid = false
	q.towerSubmitted = false
}

// MarkBSSDirty resets the Wi-Fi submission dedup flag. It is the Wi-Fi
// source's responsibility to call this whenever its scan results churn.
func (q *Query) MarkBSSDirty() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bssSubmitted = false
}

// locateRequest is the JSON shape POSTed to locate_url.
type locateRequest struct {
	RadioType        string        `json:"radioType,omitempty"`
	CellTowers       []cellTower   `json:"cellTowers,omitempty"`
	WifiAccessPoints []wifiAP      `json:"wifiAccessPoints,omitempty"`
}

type cellTower struct {
	CellID            int    `json:"cellId"`
	MobileCountryCode int    `json:"mobileCountryCode"`
	MobileNetworkCode int    `json:"mobileNetworkCode"`
	LocationAreaCode  int    `json:"locationAreaCode"`
	RadioType         string `json:"radioType"`
}

type wifiAP struct {
	MacAddress     string `json:"macAddress"`
	SignalStrength int    `json:"signalStrength"`
	Age            int    `json:"age"`
}

// BuildLocate renders the locate-request body, given whether the caller
// wants tower/BSS evidence suppressed (skipTower, skipBss -- a
// refreshing source can suppress its own stale evidence kind while
// still contributing the other).
func (q *Query) BuildLocate(skipTower, skipBss bool) ([]byte, error) {
	q.mu.Lock()
	tower, towerValid := q.tower, q.towerValid
	var bsses []geo.BSS
	if q.wifi != nil {
		bsses = q.wifi.BSSList()
	}
	q.mu.Unlock()

	req := locateRequest{}

	if towerValid && !skipTower {
		if radio, ok := tower.TEC.RadioType(); ok {
			if mcc, mnc, ok := tower.MCCMNC(); ok {
				req.RadioType = radio
				req.CellTowers = []cellTower{{
					CellID:            tower.CellID,
					MobileCountryCode: mcc,
					MobileNetworkCode: mnc,
					LocationAreaCode:  tower.LAC,
					RadioType:         radio,
				}}
			}
		}
	}

	if !skipBss {
		nonIgnored := geo.NonIgnored(bsses)
		if len(nonIgnored) >= 2 {
			aps := make([]wifiAP, 0, len(nonIgnored))
			for _, b := range nonIgnored {
				aps = append(aps, wifiAP{
					MacAddress:     strings.ToLower(b.BSSID),
					SignalStrength: b.SignalStrength,
					Age:            b.AgeMS,
				})
			}
			req.WifiAccessPoints = aps
		}
	}

	return json.Marshal(req)
}

// locateResponse is the JSON shape returned by locate_url.
type locateResponse struct {
	Location *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
	Fallback string  `json:"fallback"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseLocate parses a locate-response body into a LocationValue:
// error.message fails the request, fallback annotates the description.
func ParseLocate(body []byte, inputKind string) (geo.LocationValue, error) {
	var resp locateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return geo.LocationValue{}, geo.NewError(geo.KindParseError, "locate response: %v", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return geo.LocationValue{}, geo.NewError(geo.KindServerError, "%s", resp.Error.Message)
	}
	if resp.Location == nil {
		return geo.LocationValue{}, geo.NewError(geo.KindParseError, "locate response missing location")
	}

	desc := ""
	if resp.Fallback != "" {
		desc = fmt.Sprintf("%s fallback (from %s data)", resp.Fallback, inputKind)
	}

	return geo.LocationValue{
		Latitude:    resp.Location.Lat,
		Longitude:   resp.Location.Lng,
		Accuracy:    resp.Accuracy,
		Altitude:    geo.Unknown,
		Speed:       geo.Unknown,
		Heading:     geo.Unknown,
		Timestamp:   time.Now(),
		Description: desc,
	}, nil
}

// Locate POSTs a locate request to url and parses the response.
func Locate(ctx context.Context, client *http.Client, url string, body []byte, inputKind string) (geo.LocationValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return geo.LocationValue{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return geo.LocationValue{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return geo.LocationValue{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return geo.LocationValue{}, geo.NewError(geo.KindServerError, "HTTP %s", resp.Status)
	}
	return ParseLocate(respBody, inputKind)
}

// submitEnvelope is the JSON shape POSTed to submit_url.
type submitEnvelope struct {
	Items []submitItem `json:"items"`
}

type submitItem struct {
	Timestamp        int64            `json:"timestamp"`
	Position         submitPosition   `json:"position"`
	WifiAccessPoints []submitWifiAP   `json:"wifiAccessPoints,omitempty"`
	CellTowers       []submitCellTower `json:"cellTowers,omitempty"`
}

type submitPosition struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

type submitWifiAP struct {
	MacAddress     string `json:"macAddress"`
	SignalStrength int    `json:"signalStrength"`
	Age            int    `json:"age"`
	Frequency      int    `json:"frequency"`
}

type submitCellTower struct {
	CellID            int `json:"cellId"`
	MobileCountryCode int `json:"mobileCountryCode"`
	MobileNetworkCode int `json:"mobileNetworkCode"`
	LocationAreaCode  int `json:"locationAreaCode"`
}

func omitUnknown(v float64) *float64 {
	if v == geo.Unknown {
		return nil
	}
	return &v
}

// BuildSubmit renders the submit-request envelope for loc, given the
// current BSS evidence. It returns ok=false when the suppression rule
// applies: both dedup flags already satisfied.
func (q *Query) BuildSubmit(loc geo.LocationValue, nickname string) (body []byte, ok bool, err error) {
	q.mu.Lock()
	tower, towerValid := q.tower, q.towerValid
	towerSubmitted := q.towerSubmitted
	bssSubmitted := q.bssSubmitted
	var bsses []geo.BSS
	if q.wifi != nil {
		bsses = q.wifi.BSSList()
	}
	q.mu.Unlock()

	if bssSubmitted && (!towerValid || towerSubmitted) {
		return nil, false, nil
	}

	item := submitItem{
		Timestamp: loc.Timestamp.UnixMilli(),
		Position: submitPosition{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  omitUnknown(loc.Accuracy),
			Altitude:  omitUnknown(loc.Altitude),
			Speed:     omitUnknown(loc.Speed),
		},
	}

	nonIgnored := geo.NonIgnored(bsses)
	if len(nonIgnored) > 0 {
		aps := make([]submitWifiAP, 0, len(nonIgnored))
		for _, b := range nonIgnored {
			aps = append(aps, submitWifiAP{
				MacAddress:     strings.ToLower(b.BSSID),
				SignalStrength: b.SignalStrength,
				Age:            b.AgeMS,
				Frequency:      b.Frequency,
			})
		}
		item.WifiAccessPoints = aps
	}

	if towerValid {
		if mcc, mnc, ok := tower.MCCMNC(); ok {
			item.CellTowers = []submitCellTower{{
				CellID:            tower.CellID,
				MobileCountryCode: mcc,
				MobileNetworkCode: mnc,
				LocationAreaCode:  tower.LAC,
			}}
		}
	}

	body, err = json.Marshal(submitEnvelope{Items: []submitItem{item}})
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// MarkSubmitted sets the dedup flags after a submit request has been
// handed to the HTTP layer, not after completion.
func (q *Query) MarkSubmitted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bssSubmitted = true
	if q.towerValid {
		q.towerSubmitted = true
	}
}

// Submit fires a fire-and-forget POST of body to url, with an optional
// X-Nickname header.
func Submit(ctx context.Context, client *http.Client, url, nickname string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if nickname != "" {
		req.Header.Set("X-Nickname", nickname)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return geo.NewError(geo.KindServerError, "submit HTTP %s", resp.Status)
	}
	return nil
}
