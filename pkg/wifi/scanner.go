// Package wifi implements WifiSource: a thin composition of the shared
// web-locate engine with a ubus/iwinfo BSS scanner as its evidence
// provider.
package wifi

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

// Scanner runs `ubus call iwinfo scan` against a wireless device and
// converts the results into BSS evidence, tracking per-BSS age.
type Scanner struct {
	logger *logx.Logger
	device string

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewScanner creates a Scanner for the given wireless device (e.g.
// "wlan0").
func NewScanner(device string, logger *logx.Logger) *Scanner {
	return &Scanner{logger: logger, device: device, lastSeen: make(map[string]time.Time)}
}

type iwinfoScanResult struct {
	Results []struct {
		SSID      string `json:"ssid"`
		BSSID     string `json:"bssid"`
		Signal    int    `json:"signal"`
		Frequency int    `json:"frequency"`
	} `json:"results"`
}

// Scan runs one ubus/iwinfo scan cycle and returns the discovered BSS
// list with per-entry age computed from the last time each BSSID was
// observed.
func (s *Scanner) Scan(ctx context.Context) ([]geo.BSS, error) {
	payload := fmt.Sprintf(`{"device":%q}`, s.device)
	cmd := exec.CommandContext(ctx, "ubus", "call", "iwinfo", "scan", payload)
	output, err := cmd.Output()
	if err != nil {
		return nil, geo.NewError(geo.KindProviderFailure, "iwinfo scan: %v", err)
	}

	var result iwinfoScanResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, geo.NewError(geo.KindParseError, "iwinfo scan response: %v", err)
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	bsses := make([]geo.BSS, 0, len(result.Results))
	seen := make(map[string]bool, len(result.Results))
	for _, r := range result.Results {
		bssid := strings.ToLower(r.BSSID)
		if bssid == "" {
			continue
		}
		s.lastSeen[bssid] = now
		seen[bssid] = true
		bsses = append(bsses, geo.BSS{
			BSSID:          bssid,
			SSID:           r.SSID,
			SignalStrength: r.Signal,
			Frequency:      r.Frequency,
			AgeMS:          0,
		})
	}
	for bssid := range s.lastSeen {
		if !seen[bssid] {
			delete(s.lastSeen, bssid)
		}
	}
	return bsses, nil
}
