package wltoy

import (
	"github.com/bnema/wltoy/wire"
)

// Core protocol objects. Requests are methods, events are delivered through the
// handler fields, left nil when the toolkit does not care.

const displayObjectID = 1

// callback represents a wl_callback
type callback struct {
	proxy
	done func(data uint32)
}

func (c *callback) dispatch(m *wire.Message) {
	if m.Opcode != 0 { // done
		return
	}
	data := m.Uint32()
	c.display.forget(c, nil)
	if c.done != nil {
		c.done(data)
	}
}

// registry represents a wl_registry
type registry struct {
	proxy
	global       func(name uint32, iface string, version uint32)
	globalRemove func(name uint32)
}

func (r *registry) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // global
		name := m.Uint32()
		iface := m.String()
		version := m.Uint32()
		if r.global != nil {
			r.global(name, iface, version)
		}
	case 1: // global_remove
		name := m.Uint32()
		if r.globalRemove != nil {
			r.globalRemove(name)
		}
	}
}

// bind sends wl_registry.bind for obj, registering it first.
func (r *registry) bind(name uint32, iface string, version uint32, obj dispatcher) error {
	id := r.display.register(obj)
	if err := r.send(0, name, iface, version, wire.NewID(id)); err != nil {
		r.display.forget(obj, nil)
		return err
	}
	return nil
}

// compositor represents a wl_compositor
type compositor struct {
	proxy
}

func (c *compositor) dispatch(*wire.Message) {}

func (c *compositor) createSurface() (*wlSurface, error) {
	s := &wlSurface{}
	id := c.display.register(s)
	if err := c.send(0, wire.NewID(id)); err != nil {
		c.display.forget(s, nil)
		return nil, err
	}
	return s, nil
}

func (c *compositor) createRegion() (*region, error) {
	r := &region{}
	id := c.display.register(r)
	if err := c.send(1, wire.NewID(id)); err != nil {
		c.display.forget(r, nil)
		return nil, err
	}
	return r, nil
}

// region represents a wl_region
type region struct {
	proxy
}

func (r *region) dispatch(*wire.Message) {}

func (r *region) add(x, y, width, height int32) error {
	return r.send(1, x, y, width, height)
}

func (r *region) destroy() {
	_ = r.send(0)
	r.display.forget(r, nil)
}

// wlSurface represents a wl_surface
type wlSurface struct {
	proxy
	enter func(output uint32)
	leave func(output uint32)
}

func (s *wlSurface) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // enter
		if out := m.Uint32(); s.enter != nil {
			s.enter(out)
		}
	case 1: // leave
		if out := m.Uint32(); s.leave != nil {
			s.leave(out)
		}
	}
}

func (s *wlSurface) destroy() {
	_ = s.send(0)
	s.display.forget(s, nil)
}

func (s *wlSurface) attach(b *buffer, x, y int32) error {
	return s.send(1, b, x, y)
}

func (s *wlSurface) damage(x, y, width, height int32) error {
	return s.send(2, x, y, width, height)
}

func (s *wlSurface) frame(done func(time uint32)) (*callback, error) {
	cb := &callback{done: done}
	id := s.display.register(cb)
	if err := s.send(3, wire.NewID(id)); err != nil {
		s.display.forget(cb, nil)
		return nil, err
	}
	return cb, nil
}

func (s *wlSurface) setOpaqueRegion(r *region) error {
	return s.send(4, r)
}

func (s *wlSurface) setInputRegion(r *region) error {
	return s.send(5, r)
}

func (s *wlSurface) commit() error {
	return s.send(6)
}

func (s *wlSurface) setBufferTransform(transform int32) error {
	return s.send(7, transform)
}

func (s *wlSurface) setBufferScale(scale int32) error {
	return s.send(8, scale)
}

// subcompositor represents a wl_subcompositor
type subcompositor struct {
	proxy
}

func (c *subcompositor) dispatch(*wire.Message) {}

func (c *subcompositor) destroy() {
	_ = c.send(0)
	c.display.forget(c, nil)
}

func (c *subcompositor) getSubsurface(s, parent *wlSurface) (*subsurface, error) {
	ss := &subsurface{}
	id := c.display.register(ss)
	if err := c.send(1, wire.NewID(id), s, parent); err != nil {
		c.display.forget(ss, nil)
		return nil, err
	}
	return ss, nil
}

// subsurface represents a wl_subsurface
type subsurface struct {
	proxy
}

func (s *subsurface) dispatch(*wire.Message) {}

func (s *subsurface) destroy() {
	_ = s.send(0)
	s.display.forget(s, nil)
}

func (s *subsurface) setPosition(x, y int32) error {
	return s.send(1, x, y)
}

func (s *subsurface) setSync() error {
	return s.send(4)
}

func (s *subsurface) setDesync() error {
	return s.send(5)
}

// shm represents a wl_shm
type shm struct {
	proxy
	format func(format uint32)
}

func (s *shm) dispatch(m *wire.Message) {
	if m.Opcode == 0 { // format
		if f := m.Uint32(); s.format != nil {
			s.format(f)
		}
	}
}

func (s *shm) createPool(fd int, size int32) (*shmPoolProxy, error) {
	p := &shmPoolProxy{}
	id := s.display.register(p)
	if err := s.send(0, wire.NewID(id), wire.FD(fd), size); err != nil {
		s.display.forget(p, nil)
		return nil, err
	}
	return p, nil
}

// shmPoolProxy represents a wl_shm_pool
type shmPoolProxy struct {
	proxy
}

func (p *shmPoolProxy) dispatch(*wire.Message) {}

func (p *shmPoolProxy) createBuffer(offset, width, height, stride int32, format uint32) (*buffer, error) {
	b := &buffer{}
	id := p.display.register(b)
	if err := p.send(0, wire.NewID(id), offset, width, height, stride, format); err != nil {
		p.display.forget(b, nil)
		return nil, err
	}
	return b, nil
}

func (p *shmPoolProxy) destroy() {
	_ = p.send(1)
	p.display.forget(p, nil)
}

// buffer represents a wl_buffer
type buffer struct {
	proxy
	release func()
}

func (b *buffer) dispatch(m *wire.Message) {
	if m.Opcode == 0 && b.release != nil { // release
		b.release()
	}
}

func (b *buffer) destroy() {
	_ = b.send(0)
	b.display.forget(b, nil)
}

// seat represents a wl_seat
type seat struct {
	proxy
	capabilities func(caps uint32)
	name         func(name string)
}

// Seat capability constants
const (
	SeatCapabilityPointer  = 1
	SeatCapabilityKeyboard = 2
	SeatCapabilityTouch    = 4
)

func (s *seat) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // capabilities
		if caps := m.Uint32(); s.capabilities != nil {
			s.capabilities(caps)
		}
	case 1: // name
		if name := m.String(); s.name != nil {
			s.name(name)
		}
	}
}

func (s *seat) getPointer(p *pointer) error {
	id := s.display.register(p)
	if err := s.send(0, wire.NewID(id)); err != nil {
		s.display.forget(p, nil)
		return err
	}
	return nil
}

func (s *seat) getKeyboard(k *keyboard) error {
	id := s.display.register(k)
	if err := s.send(1, wire.NewID(id)); err != nil {
		s.display.forget(k, keyboardFDEvents)
		return err
	}
	return nil
}

func (s *seat) getTouch(t *touch) error {
	id := s.display.register(t)
	if err := s.send(2, wire.NewID(id)); err != nil {
		s.display.forget(t, nil)
		return err
	}
	return nil
}

func (s *seat) release(version uint32) {
	if version >= 5 {
		_ = s.send(3)
	}
	s.display.forget(s, nil)
}

// pointer represents a wl_pointer
type pointer struct {
	proxy
	enter  func(serial, surface uint32, x, y wire.Fixed)
	leave  func(serial, surface uint32)
	motion func(time uint32, x, y wire.Fixed)
	button func(serial, time, button, state uint32)
	axis   func(time, axis uint32, value wire.Fixed)
}

func (p *pointer) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // enter
		serial, surface := m.Uint32(), m.Uint32()
		x, y := m.Fixed(), m.Fixed()
		if p.enter != nil {
			p.enter(serial, surface, x, y)
		}
	case 1: // leave
		serial, surface := m.Uint32(), m.Uint32()
		if p.leave != nil {
			p.leave(serial, surface)
		}
	case 2: // motion
		time := m.Uint32()
		x, y := m.Fixed(), m.Fixed()
		if p.motion != nil {
			p.motion(time, x, y)
		}
	case 3: // button
		serial, time, button, state := m.Uint32(), m.Uint32(), m.Uint32(), m.Uint32()
		if p.button != nil {
			p.button(serial, time, button, state)
		}
	case 4: // axis
		time, axis := m.Uint32(), m.Uint32()
		value := m.Fixed()
		if p.axis != nil {
			p.axis(time, axis, value)
		}
	}
}

func (p *pointer) setCursor(serial uint32, s *wlSurface, hotspotX, hotspotY int32) error {
	return p.send(0, serial, s, hotspotX, hotspotY)
}

func (p *pointer) release(version uint32) {
	if version >= 3 {
		_ = p.send(1)
	}
	p.display.forget(p, nil)
}

// keyboard represents a wl_keyboard
type keyboard struct {
	proxy
	keymap     func(format uint32, fd int, size uint32)
	enter      func(serial, surface uint32, keys []byte)
	leave      func(serial, surface uint32)
	key        func(serial, time, key, state uint32)
	modifiers  func(serial, depressed, latched, locked, group uint32)
	repeatInfo func(rate, delay int32)
}

// keyboardFDEvents marks keymap (opcode 0) as carrying one descriptor.
var keyboardFDEvents = map[uint16]int{0: 1}

func (k *keyboard) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // keymap
		format := m.Uint32()
		fd, ok := m.FD()
		size := m.Uint32()
		if !ok {
			return
		}
		if k.keymap == nil {
			closeFD(fd)
			return
		}
		k.keymap(format, fd, size)
	case 1: // enter
		serial, surface := m.Uint32(), m.Uint32()
		keys := m.Array()
		if k.enter != nil {
			k.enter(serial, surface, keys)
		}
	case 2: // leave
		serial, surface := m.Uint32(), m.Uint32()
		if k.leave != nil {
			k.leave(serial, surface)
		}
	case 3: // key
		serial, time, key, state := m.Uint32(), m.Uint32(), m.Uint32(), m.Uint32()
		if k.key != nil {
			k.key(serial, time, key, state)
		}
	case 4: // modifiers
		serial, dep, lat, lock, group := m.Uint32(), m.Uint32(), m.Uint32(), m.Uint32(), m.Uint32()
		if k.modifiers != nil {
			k.modifiers(serial, dep, lat, lock, group)
		}
	case 5: // repeat_info
		rate, delay := m.Int32(), m.Int32()
		if k.repeatInfo != nil {
			k.repeatInfo(rate, delay)
		}
	}
}

func (k *keyboard) release(version uint32) {
	if version >= 3 {
		_ = k.send(0)
	}
	k.display.forget(k, keyboardFDEvents)
}

// touch represents a wl_touch
type touch struct {
	proxy
	down   func(serial, time, surface uint32, id int32, x, y wire.Fixed)
	up     func(serial, time uint32, id int32)
	motion func(time uint32, id int32, x, y wire.Fixed)
	frame  func()
	cancel func()
}

func (t *touch) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // down
		serial, time, surface := m.Uint32(), m.Uint32(), m.Uint32()
		id := m.Int32()
		x, y := m.Fixed(), m.Fixed()
		if t.down != nil {
			t.down(serial, time, surface, id, x, y)
		}
	case 1: // up
		serial, time := m.Uint32(), m.Uint32()
		id := m.Int32()
		if t.up != nil {
			t.up(serial, time, id)
		}
	case 2: // motion
		time := m.Uint32()
		id := m.Int32()
		x, y := m.Fixed(), m.Fixed()
		if t.motion != nil {
			t.motion(time, id, x, y)
		}
	case 3: // frame
		if t.frame != nil {
			t.frame()
		}
	case 4: // cancel
		if t.cancel != nil {
			t.cancel()
		}
	}
}

func (t *touch) release(version uint32) {
	if version >= 3 {
		_ = t.send(0)
	}
	t.display.forget(t, nil)
}

// wlOutput represents a wl_output
type wlOutput struct {
	proxy
	geometry    func(x, y, physWidth, physHeight, subpixel int32, manufacturer, model string, transform int32)
	mode        func(flags uint32, width, height, refresh int32)
	done        func()
	scale       func(factor int32)
	name        func(name string)
	description func(description string)
}

func (o *wlOutput) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // geometry
		x, y, pw, ph, subpixel := m.Int32(), m.Int32(), m.Int32(), m.Int32(), m.Int32()
		manufacturer, model := m.String(), m.String()
		transform := m.Int32()
		if o.geometry != nil {
			o.geometry(x, y, pw, ph, subpixel, manufacturer, model, transform)
		}
	case 1: // mode
		flags := m.Uint32()
		w, h, refresh := m.Int32(), m.Int32(), m.Int32()
		if o.mode != nil {
			o.mode(flags, w, h, refresh)
		}
	case 2: // done
		if o.done != nil {
			o.done()
		}
	case 3: // scale
		if f := m.Int32(); o.scale != nil {
			o.scale(f)
		}
	case 4: // name
		if n := m.String(); o.name != nil {
			o.name(n)
		}
	case 5: // description
		if desc := m.String(); o.description != nil {
			o.description(desc)
		}
	}
}

func (o *wlOutput) release(version uint32) {
	if version >= 3 {
		_ = o.send(0)
	}
	o.display.forget(o, nil)
}
