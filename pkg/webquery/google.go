package webquery

import (
	"context"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
)

// GoogleLocator is an alternate locate transport: it renders the same
// retained tower/BSS evidence Query holds into a Google Geolocation API
// request instead of the Mozilla-style POST Locate performs, for
// operators who prefer Google's service over an Ichnaea-compatible one.
// It implements websource.Locator.
type GoogleLocator struct {
	client *maps.Client
}

// NewGoogleLocator constructs a GoogleLocator bound to apiKey.
func NewGoogleLocator(apiKey string) (*GoogleLocator, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, geo.NewError(geo.KindNotInitialized, "google maps client: %s", err.Error())
	}
	return &GoogleLocator{client: client}, nil
}

// Locate renders query's retained evidence as a Google Geolocation API
// request and converts the response into a LocationValue.
func (g *GoogleLocator) Locate(ctx context.Context, query *Query, inputKind string) (geo.LocationValue, error) {
	query.mu.Lock()
	tower, towerValid := query.tower, query.towerValid
	var bsses []geo.BSS
	if query.wifi != nil {
		bsses = query.wifi.BSSList()
	}
	query.mu.Unlock()

	req := &maps.GeolocationRequest{ConsiderIP: false}

	if towerValid {
		if radio, ok := tower.TEC.RadioType(); ok {
			if mcc, mnc, ok := tower.MCCMNC(); ok {
				req.RadioType = maps.RadioType(googleRadioType(radio))
				req.CellTowers = []maps.CellTower{{
					CellID:            tower.CellID,
					MobileCountryCode: mcc,
					MobileNetworkCode: mnc,
					LocationAreaCode:  tower.LAC,
				}}
			}
		}
	}

	nonIgnored := geo.NonIgnored(bsses)
	if len(nonIgnored) >= 2 {
		aps := make([]maps.WiFiAccessPoint, 0, len(nonIgnored))
		for _, b := range nonIgnored {
			aps = append(aps, maps.WiFiAccessPoint{
				MACAddress:     strings.ToLower(b.BSSID),
				SignalStrength: float64(b.SignalStrength),
				Channel:        b.Frequency,
			})
		}
		req.WiFiAccessPoints = aps
	}

	if len(req.CellTowers) == 0 && len(req.WiFiAccessPoints) == 0 {
		return geo.LocationValue{}, geo.NewError(geo.KindNotInitialized, "no evidence for google locate")
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		return geo.LocationValue{}, geo.NewError(geo.KindServerError, "google geolocate: %s", err.Error())
	}

	return geo.LocationValue{
		Latitude:    resp.Location.Lat,
		Longitude:   resp.Location.Lng,
		Accuracy:    resp.Accuracy,
		Altitude:    geo.Unknown,
		Speed:       geo.Unknown,
		Heading:     geo.Unknown,
		Timestamp:   time.Now(),
		Description: "google geolocation (" + inputKind + ")",
	}, nil
}

// googleRadioType maps the radio-type strings geo.TEC.RadioType already
// produces (Mozilla's vocabulary) onto Google's, falling back to "gsm"
// for anything Google's API doesn't recognize, per Google's own
// recommendation for an unknown radio type.
func googleRadioType(mozillaRadio string) string {
	switch mozillaRadio {
	case "gsm", "wcdma", "lte", "cdma":
		return mozillaRadio
	default:
		return "gsm"
	}
}
