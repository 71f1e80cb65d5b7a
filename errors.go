package wltoy

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the display connection is gone.
	ErrClosed = errors.New("wltoy: display closed")

	// ErrMissingGlobal is returned when the compositor lacks a required interface.
	ErrMissingGlobal = errors.New("wltoy: required global not advertised")

	// ErrNoBuffer is returned by Prepare when no buffer could be obtained for a frame.
	ErrNoBuffer = errors.New("wltoy: no buffer available")

	// ErrHardwareUnavailable is returned when the hardware backend cannot serve a surface.
	ErrHardwareUnavailable = errors.New("wltoy: hardware rendering unavailable")
)

// ProtocolError is a fatal error reported by the compositor through wl_display.error.
type ProtocolError struct {
	ObjectID  uint32
	Interface string
	Code      uint32
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s@%d: code %d: %s", e.Interface, e.ObjectID, e.Code, e.Message)
}
