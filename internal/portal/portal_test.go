package portal

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name  string
		value dbus.Variant
		want  string
	}{
		{"plain", dbus.MakeVariant("Adwaita"), "Adwaita"},
		{"nested", dbus.MakeVariant(dbus.MakeVariant("breeze_cursors")), "breeze_cursors"},
		{"empty", dbus.MakeVariant(""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseString(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStringWrongType(t *testing.T) {
	_, err := parseString(dbus.MakeVariant(int32(3)))
	assert.ErrorIs(t, err, ErrUnexpectedType)
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name  string
		value dbus.Variant
		want  int
	}{
		{"int32", dbus.MakeVariant(int32(32)), 32},
		{"uint32", dbus.MakeVariant(uint32(48)), 48},
		{"nested", dbus.MakeVariant(dbus.MakeVariant(int32(24))), 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInt(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIntWrongType(t *testing.T) {
	_, err := parseInt(dbus.MakeVariant("24"))
	assert.ErrorIs(t, err, ErrUnexpectedType)
}
