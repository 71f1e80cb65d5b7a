package wltoy

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/bnema/wltoy/wire"
)

// Drag-and-drop actions.
const (
	DndActionNone uint32 = 0
	DndActionCopy uint32 = 1
	DndActionMove uint32 = 2
	DndActionAsk  uint32 = 4
)

const pipeChunk = 4096

// ErrNoOffer is returned when there is no offer, or it lacks the requested type.
var ErrNoOffer = errors.New("no matching data offer")

// dataDeviceManager represents a wl_data_device_manager
type dataDeviceManager struct {
	proxy
	version uint32
}

func (m *dataDeviceManager) dispatch(*wire.Message) {}

// dataDevice represents a wl_data_device
type dataDevice struct {
	proxy
	input *Input
}

// DataOffer is data another client offers by drag-and-drop or as the selection.
type DataOffer struct {
	proxy
	input         *Input
	types         []string
	sourceActions uint32
	action        uint32
	refs          int
	dropped       bool
}

// dataSource represents a wl_data_source
type dataSource struct {
	proxy
	src *DataSource
}

// DataSource offers data to other clients as the selection.
type DataSource struct {
	display *Display
	wl      *dataSource
	data    map[string][]byte

	// Cancelled is called once the source is replaced or the compositor drops it.
	Cancelled func(s *DataSource)
}

// Types returns the offered MIME types.
func (o *DataOffer) Types() []string {
	return slices.Clone(o.types)
}

// HasType reports whether mime is among the offered types.
func (o *DataOffer) HasType(mime string) bool {
	return slices.Contains(o.types, mime)
}

// Action returns the drag action the compositor picked.
func (o *DataOffer) Action() uint32 { return o.action }

func (o *DataOffer) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 0: // offer
		o.types = append(o.types, m.String())
	case 1: // source_actions
		o.sourceActions = m.Uint32()
	case 2: // action
		o.action = m.Uint32()
	}
}

// destroy drops one reference; the protocol object goes with the last.
func (o *DataOffer) destroy() {
	o.refs--
	if o.refs > 0 {
		return
	}
	_ = o.send(2)
	o.display.forget(o, nil)
}

func (o *DataOffer) version() uint32 {
	if m := o.input.display.dataDeviceManager; m != nil {
		return m.version
	}
	return 1
}

// offerByID resolves an object argument naming a wl_data_offer.
func (d *Display) offerByID(id uint32) *DataOffer {
	if id == 0 {
		return nil
	}
	o, _ := d.objects[id].(*DataOffer)
	return o
}

func (dd *dataDevice) dispatch(m *wire.Message) {
	in := dd.input
	d := in.display
	switch m.Opcode {
	case 0: // data_offer
		o := &DataOffer{input: in, refs: 1}
		d.adopt(m.Uint32(), o)
	case 1: // enter
		serial, surfaceID := m.Uint32(), m.Uint32()
		fx, fy := m.Fixed(), m.Fixed()
		offer := d.offerByID(m.Uint32())
		in.dragEnter(serial, surfaceID, fx, fy, offer)
	case 2: // leave
		in.dragLeave()
	case 3: // motion
		_ = m.Uint32() // time
		fx, fy := m.Fixed(), m.Fixed()
		in.dragMotion(fx, fy)
	case 4: // drop
		in.dragDrop()
	case 5: // selection
		in.setSelectionOffer(d.offerByID(m.Uint32()))
	}
}

func (in *Input) createDataDevice() {
	d := in.display
	m := d.dataDeviceManager
	if m == nil || in.dataDevice != nil || in.seat == nil {
		return
	}
	dd := &dataDevice{input: in}
	id := d.register(dd)
	if err := m.send(1, wire.NewID(id), in.seat); err != nil { // get_data_device
		d.forget(dd, nil)
		return
	}
	in.dataDevice = dd
}

// releaseDataDevice drops the device and the offers that came through it.
func (in *Input) releaseDataDevice() {
	if in.dragOffer != nil {
		in.dragOffer.destroy()
		in.dragOffer = nil
	}
	if in.selectionOffer != nil {
		in.selectionOffer.destroy()
		in.selectionOffer = nil
	}
	in.dragFocus = 0
	if in.dataDevice == nil {
		return
	}
	if m := in.display.dataDeviceManager; m != nil && m.version >= 2 {
		_ = in.dataDevice.send(2) // release
	}
	in.display.forget(in.dataDevice, nil)
	in.dataDevice = nil
}

func (in *Input) dragEnter(serial, surfaceID uint32, fx, fy wire.Fixed, offer *DataOffer) {
	d := in.display
	in.dragEnterSerial = serial
	if in.dragOffer != nil && in.dragOffer != offer {
		in.dragOffer.destroy()
	}
	in.dragOffer = offer

	s := d.surfaceByProxyID(surfaceID)
	if s == nil {
		in.dragFocus = 0
		return
	}
	in.dragFocus = s.window.id
	in.dragSurface = surfaceID
	in.dragX, in.dragY = in.toWindow(surfaceID, fx, fy)

	var types []string
	if offer != nil {
		types = offer.Types()
		if offer.version() >= 3 {
			_ = offer.send(4, DndActionCopy|DndActionMove, DndActionCopy) // set_actions
		}
	}
	if w := s.window; w.Handlers.Data != nil {
		w.Handlers.Data(w, in, in.dragX, in.dragY, types)
	}
}

func (in *Input) dragLeave() {
	if in.dragOffer != nil {
		in.dragOffer.destroy()
		in.dragOffer = nil
	}
	in.dragFocus = 0
	in.dragSurface = 0
}

func (in *Input) dragMotion(fx, fy wire.Fixed) {
	w := in.display.window(in.dragFocus)
	if w == nil {
		return
	}
	in.dragX, in.dragY = in.toWindow(in.dragSurface, fx, fy)
	var types []string
	if in.dragOffer != nil {
		types = in.dragOffer.Types()
	}
	if w.Handlers.Data != nil {
		w.Handlers.Data(w, in, in.dragX, in.dragY, types)
	}
}

func (in *Input) dragDrop() {
	if in.dragOffer != nil {
		in.dragOffer.dropped = true
	}
	w := in.display.window(in.dragFocus)
	if w != nil && w.Handlers.Drop != nil {
		w.Handlers.Drop(w, in, in.dragX, in.dragY)
	}
}

func (in *Input) setSelectionOffer(offer *DataOffer) {
	if in.selectionOffer != nil && in.selectionOffer != offer {
		in.selectionOffer.destroy()
	}
	in.selectionOffer = offer
}

// DragOffer returns the offer of the drag hovering one of our windows, if any.
func (in *Input) DragOffer() *DataOffer { return in.dragOffer }

// SelectionOffer returns the current selection offer, if any.
func (in *Input) SelectionOffer() *DataOffer { return in.selectionOffer }

// Accept tells the drag source whether mime can be dropped here. An empty mime
// refuses the drop.
func (in *Input) Accept(mime string) {
	if in.dragOffer == nil {
		return
	}
	if mime == "" {
		_ = in.dragOffer.send(0, in.dragEnterSerial, nil)
		return
	}
	_ = in.dragOffer.send(0, in.dragEnterSerial, mime)
}

// ReceiveDrag reads the dragged data as mime. done runs on the event loop once all of
// it arrived. After a drop the offer is finished when the read completes.
func (in *Input) ReceiveDrag(mime string, done func(data []byte, err error)) error {
	return in.receive(in.dragOffer, mime, done)
}

// ReceiveSelection reads the selection as mime.
func (in *Input) ReceiveSelection(mime string, done func(data []byte, err error)) error {
	return in.receive(in.selectionOffer, mime, done)
}

func (in *Input) receive(o *DataOffer, mime string, done func([]byte, error)) error {
	if o == nil || o.id == 0 || !o.HasType(mime) {
		return fmt.Errorf("%w: %s", ErrNoOffer, mime)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	err := o.send(1, mime, wire.FD(p[1])) // receive
	closeFD(p[1])
	if err != nil {
		closeFD(p[0])
		return err
	}

	finish := func(data []byte, err error) {
		if err == nil && o.dropped && o.version() >= 3 && o.id != 0 {
			_ = o.send(3) // finish
		}
		o.destroy()
		if done != nil {
			done(data, err)
		}
	}
	if err := in.display.readPipe(p[0], finish); err != nil {
		return err
	}
	// The read holds the offer until finish runs
	o.refs++
	return nil
}

// readPipe collects everything written to fd, then closes it and calls done.
func (d *Display) readPipe(fd int, done func([]byte, error)) error {
	var data []byte
	buf := make([]byte, pipeChunk)
	task := NewTask(func(uint32) {
		for {
			n, err := unix.Read(fd, buf)
			switch {
			case err == unix.EAGAIN || err == unix.EINTR:
				return
			case err != nil:
				d.loop.Unwatch(fd)
				closeFD(fd)
				done(nil, fmt.Errorf("failed to read offer: %w", err))
				return
			case n == 0:
				d.loop.Unwatch(fd)
				closeFD(fd)
				done(data, nil)
				return
			}
			data = append(data, buf[:n]...)
		}
	})
	if err := d.loop.Watch(fd, EventReadable, task); err != nil {
		closeFD(fd)
		return err
	}
	return nil
}

// CreateDataSource prepares a selection carrying data keyed by MIME type.
func (d *Display) CreateDataSource(data map[string][]byte) (*DataSource, error) {
	m := d.dataDeviceManager
	if m == nil {
		return nil, fmt.Errorf("%w: wl_data_device_manager", ErrMissingGlobal)
	}
	src := &DataSource{display: d, data: data}
	ws := &dataSource{src: src}
	id := d.register(ws)
	if err := m.send(0, wire.NewID(id)); err != nil { // create_data_source
		d.forget(ws, dataSourceFDEvents)
		return nil, err
	}
	src.wl = ws
	types := make([]string, 0, len(data))
	for mime := range data {
		types = append(types, mime)
	}
	slices.Sort(types)
	for _, mime := range types {
		_ = ws.send(0, mime) // offer
	}
	return src, nil
}

// dataSourceFDEvents marks send (opcode 1) as carrying one descriptor.
var dataSourceFDEvents = map[uint16]int{1: 1}

func (s *dataSource) dispatch(m *wire.Message) {
	switch m.Opcode {
	case 1: // send
		mime := m.String()
		fd, ok := m.FD()
		if !ok {
			return
		}
		s.src.write(mime, fd)
	case 2: // cancelled
		s.src.Destroy()
		if s.src.Cancelled != nil {
			s.src.Cancelled(s.src)
		}
	}
}

// write streams the data for mime into fd without blocking the loop.
func (s *DataSource) write(mime string, fd int) {
	d := s.display
	data := s.data[mime]
	if len(data) == 0 {
		closeFD(fd)
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		closeFD(fd)
		return
	}
	task := NewTask(func(uint32) {
		for len(data) > 0 {
			n, err := unix.Write(fd, data)
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			if err != nil {
				d.logger.Debug("selection transfer aborted", "mime", mime, "error", err)
				break
			}
			data = data[n:]
		}
		d.loop.Unwatch(fd)
		closeFD(fd)
	})
	if err := d.loop.Watch(fd, EventWritable, task); err != nil {
		closeFD(fd)
	}
}

// Destroy withdraws the source.
func (s *DataSource) Destroy() {
	if s.wl == nil {
		return
	}
	_ = s.wl.send(1)
	s.display.forget(s.wl, dataSourceFDEvents)
	s.wl = nil
}

// SetSelection makes src the selection, or clears it for nil. serial is the serial of
// the input event that triggered it.
func (in *Input) SetSelection(src *DataSource, serial uint32) error {
	if in.dataDevice == nil {
		return fmt.Errorf("%w: wl_data_device_manager", ErrMissingGlobal)
	}
	if src == nil || src.wl == nil {
		return in.dataDevice.send(1, nil, serial)
	}
	return in.dataDevice.send(1, src.wl, serial)
}
