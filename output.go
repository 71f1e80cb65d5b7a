package wltoy

// Output transforms, as defined by wl_output.
const (
	TransformNormal     = 0
	Transform90         = 1
	Transform180        = 2
	Transform270        = 3
	TransformFlipped    = 4
	TransformFlipped90  = 5
	TransformFlipped180 = 6
	TransformFlipped270 = 7
)

const outputModeCurrent = 1

// Output is a monitor announced by the compositor.
type Output struct {
	display *Display
	wl      *wlOutput
	name    uint32
	version uint32

	allocation Rectangle
	transform  int32
	scale      int32
	refresh    int32
	physWidth  int32
	physHeight int32
	subpixel   int32

	manufacturer string
	model        string
	outputName   string
	description  string

	destroyHandler func(*Output)
}

func (d *Display) addOutput(name, version uint32) error {
	o := &Output{display: d, name: name, version: version, scale: 1}
	o.wl = &wlOutput{
		geometry: o.handleGeometry,
		mode:     o.handleMode,
		done:     o.handleDone,
		scale:    func(factor int32) { o.scale = factor },
		name:     func(n string) { o.outputName = n },
		description: func(desc string) {
			o.description = desc
		},
	}
	if err := d.registry.bind(name, "wl_output", version, o.wl); err != nil {
		return err
	}
	d.outputs = append(d.outputs, o)
	return nil
}

func (o *Output) handleGeometry(x, y, physWidth, physHeight, subpixel int32, manufacturer, model string, transform int32) {
	o.allocation.X = x
	o.allocation.Y = y
	o.physWidth = physWidth
	o.physHeight = physHeight
	o.subpixel = subpixel
	o.manufacturer = manufacturer
	o.model = model
	o.transform = transform
}

func (o *Output) handleMode(flags uint32, width, height, refresh int32) {
	if flags&outputModeCurrent == 0 {
		return
	}
	o.allocation.Width = width
	o.allocation.Height = height
	o.refresh = refresh
	// Version 1 outputs never send done
	if o.version < 2 {
		o.handleDone()
	}
}

func (o *Output) handleDone() {
	d := o.display
	if d.outputConfigureHandler != nil {
		d.outputConfigureHandler(o)
	}
	for _, w := range d.windows {
		if w.hasOutput(o) {
			w.updateScale()
		}
	}
}

// SetOutputConfigureHandler installs h, called whenever an output finishes
// describing its mode. Existing outputs are reported right away.
func (d *Display) SetOutputConfigureHandler(h func(*Output)) {
	d.outputConfigureHandler = h
	if h == nil {
		return
	}
	for _, o := range d.Outputs() {
		h(o)
	}
}

func (d *Display) outputByProxyID(id uint32) *Output {
	for _, o := range d.outputs {
		if o.wl.id == id {
			return o
		}
	}
	return nil
}

// destroyOutput notifies the output's handler, detaches it from every window and
// releases the proxy.
func (d *Display) destroyOutput(o *Output) {
	if o.destroyHandler != nil {
		o.destroyHandler(o)
	}
	for _, w := range d.windows {
		w.removeOutput(o)
	}
	for i, x := range d.outputs {
		if x == o {
			d.outputs = append(d.outputs[:i], d.outputs[i+1:]...)
			break
		}
	}
	o.wl.release(o.version)
}

// SetDestroyHandler installs h, called when the output goes away.
func (o *Output) SetDestroyHandler(h func(*Output)) {
	o.destroyHandler = h
}

// Allocation returns the output's position in the global space and its current mode size.
func (o *Output) Allocation() Rectangle {
	return o.allocation
}

// Transform returns the output's wl_output transform.
func (o *Output) Transform() int32 { return o.transform }

// Scale returns the output's integer scale factor.
func (o *Output) Scale() int32 { return o.scale }

// Refresh returns the refresh rate in mHz.
func (o *Output) Refresh() int32 { return o.refresh }

// PhysicalSize returns the size in millimetres.
func (o *Output) PhysicalSize() (width, height int32) { return o.physWidth, o.physHeight }

// Make returns the manufacturer string.
func (o *Output) Make() string { return o.manufacturer }

// Model returns the model string.
func (o *Output) Model() string { return o.model }

// Name returns the compositor's name for the output, such as "DP-1".
func (o *Output) Name() string { return o.outputName }

// Description returns the human-readable description.
func (o *Output) Description() string { return o.description }

// GlobalName returns the registry name the output was announced with.
func (o *Output) GlobalName() uint32 { return o.name }
