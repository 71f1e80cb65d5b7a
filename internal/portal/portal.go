// Package portal reads desktop settings from the XDG desktop portal.
package portal

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	portalDest        = "org.freedesktop.portal.Desktop"
	portalPath        = "/org/freedesktop/portal/desktop"
	settingsIface     = "org.freedesktop.portal.Settings"
	interfaceNS       = "org.gnome.desktop.interface"
	cursorThemeKey    = "cursor-theme"
	cursorSizeKey     = "cursor-size"
	defaultCursorSize = 24
)

// ErrUnexpectedType is returned when a setting holds a value of the wrong type.
var ErrUnexpectedType = errors.New("unexpected setting type")

// CursorSettings returns the desktop's cursor theme and size. A missing size is
// reported as 24.
func CursorSettings() (string, int, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return "", 0, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(portalDest, portalPath)
	themeValue, err := readSetting(obj, interfaceNS, cursorThemeKey)
	if err != nil {
		return "", 0, err
	}
	theme, err := parseString(themeValue)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", cursorThemeKey, err)
	}

	size := defaultCursorSize
	if sizeValue, err := readSetting(obj, interfaceNS, cursorSizeKey); err == nil {
		if n, err := parseInt(sizeValue); err == nil && n > 0 {
			size = n
		}
	}
	return theme, size, nil
}

// readSetting prefers ReadOne and falls back to the deprecated Read, which wraps the
// value in one more variant.
func readSetting(obj dbus.BusObject, namespace, key string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.Call(settingsIface+".ReadOne", 0, namespace, key).Store(&v)
	if err == nil {
		return v, nil
	}
	if err := obj.Call(settingsIface+".Read", 0, namespace, key).Store(&v); err != nil {
		return dbus.Variant{}, fmt.Errorf("failed to read %s.%s: %w", namespace, key, err)
	}
	return v, nil
}

// unwrap strips nested variants.
func unwrap(v dbus.Variant) interface{} {
	value := v.Value()
	for {
		inner, ok := value.(dbus.Variant)
		if !ok {
			return value
		}
		value = inner.Value()
	}
}

func parseString(v dbus.Variant) (string, error) {
	s, ok := unwrap(v).(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedType, v.Signature())
	}
	return s, nil
}

func parseInt(v dbus.Variant) (int, error) {
	switch n := unwrap(v).(type) {
	case int32:
		return int(n), nil
	case uint32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case int16:
		return int(n), nil
	case uint16:
		return int(n), nil
	case byte:
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnexpectedType, v.Signature())
}
