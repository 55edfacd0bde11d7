package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetOrCreateReturnsSameInstanceForSameKey(t *testing.T) {
	r := NewRegistry()
	builds := 0
	factory := func() interface{} {
		builds++
		return new(int)
	}

	a := r.GetOrCreate(KindWifi, false, factory)
	b := r.GetOrCreate(KindWifi, false, factory)
	assert.Same(t, a, b)
	assert.Equal(t, 1, builds)
}

func TestGetOrCreateDistinguishesByKindAndBool(t *testing.T) {
	r := NewRegistry()
	factory := func() interface{} { return new(int) }

	wifi := r.GetOrCreate(KindWifi, false, factory)
	threeG := r.GetOrCreate(KindThreeG, false, factory)
	wifiScrambled := r.GetOrCreate(KindWifi, true, factory)

	assert.NotSame(t, wifi, threeG)
	assert.NotSame(t, wifi, wifiScrambled)
}
