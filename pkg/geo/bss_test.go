package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBSSIgnored(t *testing.T) {
	assert.True(t, BSS{BSSID: "", SSID: "home"}.Ignored())
	assert.True(t, BSS{BSSID: "aa:bb:cc:dd:ee:ff", SSID: ""}.Ignored())
	assert.True(t, BSS{BSSID: "aa:bb:cc:dd:ee:ff", SSID: "router_nomap"}.Ignored())
	assert.False(t, BSS{BSSID: "aa:bb:cc:dd:ee:ff", SSID: "home"}.Ignored())
}

func TestNonIgnoredFiltersAndPreservesOrder(t *testing.T) {
	in := []BSS{
		{BSSID: "aa:bb:cc:dd:ee:01", SSID: "one"},
		{BSSID: "", SSID: "skip-me"},
		{BSSID: "aa:bb:cc:dd:ee:02", SSID: "two"},
	}
	out := NonIgnored(in)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "one", out[0].SSID)
		assert.Equal(t, "two", out[1].SSID)
	}
}
