package wltoy

import (
	"encoding/binary"

	"github.com/bnema/wltoy/wire"
)

// xdg_toplevel states
const (
	toplevelStateMaximized  = 1
	toplevelStateFullscreen = 2
	toplevelStateResizing   = 3
	toplevelStateActivated  = 4
)

// Resize edges for Window.Resize, as defined by xdg_toplevel.
const (
	EdgeNone        = 0
	EdgeTop         = 1
	EdgeBottom      = 2
	EdgeLeft        = 4
	EdgeTopLeft     = 5
	EdgeBottomLeft  = 6
	EdgeRight       = 8
	EdgeTopRight    = 9
	EdgeBottomRight = 10
)

// xdgWmBase represents an xdg_wm_base
type xdgWmBase struct {
	proxy
}

func (w *xdgWmBase) dispatch(m *wire.Message) {
	if m.Opcode == 0 { // ping
		_ = w.send(3, m.Uint32()) // pong
	}
}

func (w *xdgWmBase) destroy() {
	_ = w.send(0)
	w.display.forget(w, nil)
}

func (w *xdgWmBase) getXdgSurface(s *wlSurface) (*xdgSurface, error) {
	xs := &xdgSurface{}
	id := w.display.register(xs)
	if err := w.send(2, wire.NewID(id), s); err != nil {
		w.display.forget(xs, nil)
		return nil, err
	}
	return xs, nil
}

// xdgSurface represents an xdg_surface
type xdgSurface struct {
	proxy
	configure func(serial uint32)
}

func (s *xdgSurface) dispatch(m *wire.Message) {
	if m.Opcode == 0 { // configure
		if serial := m.Uint32(); s.configure != nil {
			s.configure(serial)
		}
	}
}

func (s *xdgSurface) destroy() {
	_ = s.send(0)
	s.display.forget(s, nil)
}

func (s *xdgSurface) getToplevel() (*xdgToplevel, error) {
	t := &xdgToplevel{}
	id := s.display.register(t)
	if err := s.send(1, wire.NewID(id)); err != nil {
		s.display.forget(t, nil)
		return nil, err
	}
	return t, nil
}

func (s *xdgSurface) setWindowGeometry(x, y, width, height int32) error {
	return s.send(3, x, y, width, height)
}

func (s *xdgSurface) ackConfigure(serial uint32) error {
	return s.send(4, serial)
}

// xdgToplevel represents an xdg_toplevel
type xdgToplevel struct {
	proxy
	configure func(width, height int32, states []uint32)
	close     func()
}

func (t *xdgToplevel) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // configure
		width, height := m.Int32(), m.Int32()
		raw := m.Array()
		states := make([]uint32, 0, len(raw)/4)
		for i := 0; i+4 <= len(raw); i += 4 {
			states = append(states, binary.LittleEndian.Uint32(raw[i:]))
		}
		if t.configure != nil {
			t.configure(width, height, states)
		}
	case 1: // close
		if t.close != nil {
			t.close()
		}
	}
}

func (t *xdgToplevel) destroy() {
	_ = t.send(0)
	t.display.forget(t, nil)
}

func (t *xdgToplevel) setParent(parent *xdgToplevel) error {
	return t.send(1, parent)
}

func (t *xdgToplevel) setTitle(title string) error {
	return t.send(2, title)
}

func (t *xdgToplevel) setAppID(appID string) error {
	return t.send(3, appID)
}

func (t *xdgToplevel) move(s *seat, serial uint32) error {
	return t.send(5, s, serial)
}

func (t *xdgToplevel) resize(s *seat, serial, edges uint32) error {
	return t.send(6, s, serial, edges)
}

func (t *xdgToplevel) setMinSize(width, height int32) error {
	return t.send(8, width, height)
}

func (t *xdgToplevel) setMaximized(on bool) error {
	if on {
		return t.send(9)
	}
	return t.send(10)
}

func (t *xdgToplevel) setFullscreen(on bool, output *wlOutput) error {
	if on {
		return t.send(11, output)
	}
	return t.send(12)
}

func (t *xdgToplevel) setMinimized() error {
	return t.send(13)
}
