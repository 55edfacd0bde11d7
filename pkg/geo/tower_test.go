package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTower3GEqual(t *testing.T) {
	a := Tower3G{OPC: "240010", LAC: 100, CellID: 5, TEC: TEC3G}
	b := Tower3G{OPC: "240010", LAC: 100, CellID: 5, TEC: TEC3G}
	c := Tower3G{OPC: "240010", LAC: 100, CellID: 6, TEC: TEC3G}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestTower3GMCCMNC(t *testing.T) {
	tower := Tower3G{OPC: "240010"}
	mcc, mnc, ok := tower.MCCMNC()
	assert.True(t, ok)
	assert.Equal(t, 240, mcc)
	assert.Equal(t, 10, mnc)

	_, _, ok = Tower3G{OPC: "24001"}.MCCMNC()
	assert.False(t, ok)
}

func TestFormatOPC(t *testing.T) {
	opc, ok := FormatOPC(240, 1)
	assert.True(t, ok)
	assert.Equal(t, "240001", opc)

	_, ok = FormatOPC(1000, 1)
	assert.False(t, ok)
}

func TestTECRadioType(t *testing.T) {
	rt, ok := TEC2G.RadioType()
	assert.True(t, ok)
	assert.Equal(t, "gsm", rt)

	_, ok = TECNoFix.RadioType()
	assert.False(t, ok)
}
