package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXI2MaskIsSet(t *testing.T) {
	master := &Device{ID: 2, Use: MasterPointer}
	slave := &Device{ID: 4, Use: SlavePointer, Attached: master}

	tests := []struct {
		name   string
		entry  DeviceID
		dev    *Device
		expect bool
	}{
		{"exact device entry", 4, slave, true},
		{"other device entry", 5, slave, false},
		{"all devices covers slaves", AllDevices, slave, true},
		{"all master devices covers masters", AllMasterDevices, master, true},
		{"all master devices skips slaves", AllMasterDevices, slave, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewXI2Mask()
			m.Set(tt.entry, XITouchBegin)
			assert.Equal(t, tt.expect, m.IsSet(tt.dev, XITouchBegin))
			assert.False(t, m.IsSet(tt.dev, XITouchOwnership))
		})
	}

	t.Run("nil mask selects nothing", func(t *testing.T) {
		var m *XI2Mask
		assert.False(t, m.IsSet(master, XIButtonPress))
		assert.True(t, m.Empty())
	})
}

func TestXI2MaskCloneAndEqual(t *testing.T) {
	m := NewXI2Mask()
	m.Set(AllMasterDevices, XITouchBegin, XITouchUpdate, XITouchEnd)

	c := m.Clone()
	assert.True(t, m.Equal(c))

	c.Set(AllMasterDevices, XITouchOwnership)
	assert.False(t, m.Equal(c), "clone must not share storage")
	assert.False(t, m.Has(AllMasterDevices, XITouchOwnership))

	c.Clear(AllMasterDevices, XITouchOwnership)
	assert.True(t, m.Equal(c))

	assert.Equal(t, []XI2Type{XITouchBegin, XITouchUpdate, XITouchEnd}, m.Types(AllMasterDevices))
}
