package wltoy

import (
	"github.com/bnema/wltoy/wire"
)

// proxy is the client half of a protocol object. Every protocol type embeds it.
type proxy struct {
	id      uint32
	display *Display
}

// ID returns the proxy's object ID
func (p *proxy) ID() uint32 {
	return p.id
}

func (p *proxy) send(opcode uint16, args ...interface{}) error {
	if p == nil || p.id == 0 {
		return ErrClosed
	}
	return p.display.conn.Send(p.id, opcode, args...)
}

// dispatcher is a registered object able to decode its events.
type dispatcher interface {
	wire.Object
	dispatch(m *wire.Message)
	base() *proxy
}

func (p *proxy) base() *proxy {
	return p
}

// zombie stands in for an object the client destroyed while the server may still
// address events to it. fdEvents lists opcodes carrying a descriptor so they can be
// closed instead of leaking into the next reader.
type zombie struct {
	fdEvents map[uint16]int
}

// register assigns an id to a client-created object and makes it reachable by events.
func (d *Display) register(obj dispatcher) uint32 {
	var id uint32
	if n := len(d.freeIDs); n > 0 {
		id = d.freeIDs[n-1]
		d.freeIDs = d.freeIDs[:n-1]
	} else {
		id = d.nextID
		d.nextID++
	}
	b := obj.base()
	b.id = id
	b.display = d
	d.objects[id] = obj
	return id
}

// adopt registers an object the server created, such as a wl_data_offer. Server ids
// never see delete_id, so a stale zombie under the same id is replaced.
func (d *Display) adopt(id uint32, obj dispatcher) {
	b := obj.base()
	b.id = id
	b.display = d
	delete(d.zombies, id)
	d.objects[id] = obj
}

// forget turns a client-destroyed object into a zombie until the server confirms the
// id with delete_id.
func (d *Display) forget(obj dispatcher, fdEvents map[uint16]int) {
	b := obj.base()
	if b.id == 0 {
		return
	}
	delete(d.objects, b.id)
	d.zombies[b.id] = zombie{fdEvents: fdEvents}
	b.id = 0
}

// deleteID handles wl_display.delete_id: the id is free for reuse.
func (d *Display) deleteID(id uint32) {
	if obj, ok := d.objects[id]; ok {
		// Server-destroyed objects such as callbacks.
		obj.base().id = 0
		delete(d.objects, id)
	}
	delete(d.zombies, id)
	d.freeIDs = append(d.freeIDs, id)
}

// dispatchMessage routes one event to its proxy. Events for unknown or destroyed
// objects are dropped.
func (d *Display) dispatchMessage(m *wire.Message) error {
	if m.Sender == displayObjectID {
		return d.handleDisplayEvent(m)
	}
	if obj, ok := d.objects[m.Sender]; ok {
		obj.dispatch(m)
		return nil
	}
	if z, ok := d.zombies[m.Sender]; ok {
		for i := 0; i < z.fdEvents[m.Opcode]; i++ {
			if fd, ok := m.FD(); ok {
				closeFD(fd)
			}
		}
		return nil
	}
	d.logger.Debug("event for unknown object", "object", m.Sender, "opcode", m.Opcode)
	return nil
}
