package wltoy

import (
	"fmt"

	"github.com/bnema/wltoy/wire"
)

// Global is an interface advertised by the compositor.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// GlobalHandler is told about globals as they come and go. For a removal it runs
// before the toolkit releases its own objects for that global.
type GlobalHandler func(d *Display, g Global)

// Versions the toolkit speaks; binding never exceeds these.
const (
	compositorVersion        = 4
	subcompositorVersion     = 1
	shmVersion               = 1
	wmBaseVersion            = 2
	seatVersion              = 7
	outputVersion            = 4
	dataDeviceManagerVersion = 3
)

// handleGlobal binds the core interfaces eagerly and hands every global, including
// the ones we do not use, to the user handler.
func (d *Display) handleGlobal(name uint32, iface string, version uint32) {
	g := Global{Name: name, Interface: iface, Version: version}
	d.globals = append(d.globals, g)

	var err error
	switch iface {
	case "wl_compositor":
		d.compositor = &compositor{}
		err = d.registry.bind(name, iface, min(version, compositorVersion), d.compositor)
	case "wl_subcompositor":
		d.subcompositor = &subcompositor{}
		err = d.registry.bind(name, iface, min(version, subcompositorVersion), d.subcompositor)
	case "wl_shm":
		d.shm = &shm{format: d.handleShmFormat}
		err = d.registry.bind(name, iface, min(version, shmVersion), d.shm)
	case "xdg_wm_base":
		d.wmBase = &xdgWmBase{}
		err = d.registry.bind(name, iface, min(version, wmBaseVersion), d.wmBase)
	case "wl_output":
		err = d.addOutput(name, min(version, outputVersion))
	case "wl_seat":
		err = d.addInput(name, min(version, seatVersion))
	case "wl_data_device_manager":
		d.dataDeviceManager = &dataDeviceManager{version: min(version, dataDeviceManagerVersion)}
		if err = d.registry.bind(name, iface, d.dataDeviceManager.version, d.dataDeviceManager); err == nil {
			for _, in := range d.inputs {
				in.createDataDevice()
			}
		}
	}
	if err != nil {
		d.logger.Warn("failed to bind global", "interface", iface, "name", name, "error", err)
	} else {
		d.logger.Debug("global announced", "interface", iface, "name", name, "version", version)
	}

	if d.globalHandler != nil {
		d.globalHandler(d, g)
	}
}

func (d *Display) handleShmFormat(format uint32) {
	d.shmFormats = append(d.shmFormats, format)
	if format == FormatRGB565 {
		d.hasRGB565 = true
	}
}

// handleGlobalRemove gives the user handler a chance to drop its references first,
// then invalidates everything the toolkit derived from the global.
func (d *Display) handleGlobalRemove(name uint32) {
	idx := -1
	for i, g := range d.globals {
		if g.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.logger.Debug("removal of unknown global", "name", name)
		return
	}
	g := d.globals[idx]

	if d.globalRemoveHandler != nil {
		d.globalRemoveHandler(d, g)
	}

	switch g.Interface {
	case "wl_output":
		for _, o := range d.outputs {
			if o.name == name {
				d.destroyOutput(o)
				break
			}
		}
	case "wl_seat":
		for _, in := range d.inputs {
			if in.name == name {
				d.destroyInput(in)
				break
			}
		}
	case "wl_data_device_manager":
		for _, in := range d.inputs {
			in.releaseDataDevice()
		}
		if d.dataDeviceManager != nil {
			d.forget(d.dataDeviceManager, nil)
			d.dataDeviceManager = nil
		}
	case "wl_subcompositor":
		if d.subcompositor != nil {
			d.subcompositor.destroy()
			d.subcompositor = nil
		}
	case "wl_compositor", "wl_shm", "xdg_wm_base":
		d.logger.Warn("compositor withdrew a required global", "interface", g.Interface)
	}

	d.globals = append(d.globals[:idx], d.globals[idx+1:]...)
	d.logger.Debug("global removed", "interface", g.Interface, "name", name)
}

// Globals returns the currently advertised globals in announcement order.
func (d *Display) Globals() []Global {
	return append([]Global(nil), d.globals...)
}

// SetGlobalHandler installs h and replays every global already announced.
func (d *Display) SetGlobalHandler(h GlobalHandler) {
	d.globalHandler = h
	if h == nil {
		return
	}
	for _, g := range d.Globals() {
		h(d, g)
	}
}

// SetGlobalRemoveHandler installs h for future removals.
func (d *Display) SetGlobalRemoveHandler(h GlobalHandler) {
	d.globalRemoveHandler = h
}

// Object is a protocol object bound by the application for an interface the toolkit
// does not know about. Events are handed over undecoded.
type Object struct {
	proxy
	handler func(m *wire.Message)
}

func (o *Object) dispatch(m *wire.Message) {
	if o.handler != nil {
		o.handler(m)
	}
}

// Bind binds g at the given version. Requests are sent with Send, events arrive at
// handler in wire form.
func (d *Display) Bind(g Global, version uint32, handler func(m *wire.Message)) (*Object, error) {
	if version > g.Version {
		return nil, fmt.Errorf("%s: version %d not supported by compositor (max %d)", g.Interface, version, g.Version)
	}
	o := &Object{handler: handler}
	if err := d.registry.bind(g.Name, g.Interface, version, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Send queues a request on the object.
func (o *Object) Send(opcode uint16, args ...interface{}) error {
	return o.send(opcode, args...)
}

// Destroy sends the interface's destructor request and forgets the object.
func (o *Object) Destroy(destructor uint16) {
	_ = o.send(destructor)
	o.display.forget(o, nil)
}
