package wltoy

import (
	"image"
	"image/color"
	"image/draw"
)

// Rectangle is an allocation in surface coordinates.
type Rectangle struct {
	X, Y          int32
	Width, Height int32
}

// Contains reports whether the point lies inside the rectangle. The right and bottom
// edges are exclusive.
func (r Rectangle) Contains(x, y float64) bool {
	return float64(r.X) <= x && x < float64(r.X+r.Width) &&
		float64(r.Y) <= y && y < float64(r.Y+r.Height)
}

// Empty reports whether the rectangle has no area.
func (r Rectangle) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Flags passed to ToySurface.Prepare.
const (
	// SurfaceOpaque drops the alpha channel.
	SurfaceOpaque uint32 = 1 << iota
	// SurfaceHintResize marks frames of an interactive resize; backends may trade
	// memory for fewer allocations.
	SurfaceHintResize
	// SurfaceHintRGB565 asks for a 16-bit buffer when the compositor supports it.
	SurfaceHintRGB565
)

// BufferType is the backend a window asks for.
type BufferType int

const (
	BufferTypeShm BufferType = iota
	BufferTypeHardware
)

// BackendKind identifies which ToySurface variant serves a surface.
type BackendKind int

const (
	BackendSoftware BackendKind = iota
	BackendHardware
)

func (k BackendKind) String() string {
	if k == BackendHardware {
		return "hardware"
	}
	return "software"
}

// Canvas is what a redraw handler paints into. It is valid from Prepare until the
// following Swap.
type Canvas interface {
	draw.Image
}

// ToySurface produces buffers for one wl_surface.
type ToySurface interface {
	Kind() BackendKind

	// Prepare returns a canvas for the next frame. width and height are in surface
	// coordinates; the buffer is sized for transform and scale. It never blocks on
	// the compositor.
	Prepare(dx, dy, width, height int32, flags uint32, transform, scale int32) (Canvas, error)

	// Swap attaches and commits the prepared buffer and returns the size the
	// compositor will display, in surface coordinates.
	Swap(transform, scale int32) (Rectangle, error)

	// Acquire makes the surface current on ctx for direct hardware rendering. A nil
	// ctx means the display's context.
	Acquire(ctx RenderContext) error
	Release()

	Destroy()
}

func transformSwapsAxes(transform int32) bool {
	switch transform {
	case Transform90, Transform270, TransformFlipped90, TransformFlipped270:
		return true
	}
	return false
}

func surfaceToBufferSize(transform, scale, width, height int32) (int32, int32) {
	if scale < 1 {
		scale = 1
	}
	if transformSwapsAxes(transform) {
		width, height = height, width
	}
	return width * scale, height * scale
}

func bufferToSurfaceSize(transform, scale, width, height int32) (int32, int32) {
	if scale < 1 {
		scale = 1
	}
	if transformSwapsAxes(transform) {
		width, height = height, width
	}
	return width / scale, height / scale
}

// shmCanvas is a draw.Image over shm buffer memory. 32-bit formats are stored
// little-endian premultiplied ARGB, so bytes run B, G, R, A.
type shmCanvas struct {
	pix    []byte
	stride int
	rect   image.Rectangle
	format uint32
}

func newShmCanvas(pix []byte, stride int, width, height int32, format uint32) *shmCanvas {
	return &shmCanvas{
		pix:    pix,
		stride: stride,
		rect:   image.Rect(0, 0, int(width), int(height)),
		format: format,
	}
}

func (c *shmCanvas) ColorModel() color.Model {
	return color.RGBAModel
}

func (c *shmCanvas) Bounds() image.Rectangle {
	return c.rect
}

func (c *shmCanvas) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(c.rect)) {
		return color.RGBA{}
	}
	if c.format == FormatRGB565 {
		i := y*c.stride + x*2
		v := uint16(c.pix[i]) | uint16(c.pix[i+1])<<8
		r, g, b := uint8(v>>11)&0x1f, uint8(v>>5)&0x3f, uint8(v)&0x1f
		return color.RGBA{R: r<<3 | r>>2, G: g<<2 | g>>4, B: b<<3 | b>>2, A: 0xff}
	}
	i := y*c.stride + x*4
	a := c.pix[i+3]
	if c.format == FormatXRGB8888 {
		a = 0xff
	}
	return color.RGBA{R: c.pix[i+2], G: c.pix[i+1], B: c.pix[i], A: a}
}

func (c *shmCanvas) Set(x, y int, col color.Color) {
	if !(image.Point{x, y}.In(c.rect)) {
		return
	}
	v := color.RGBAModel.Convert(col).(color.RGBA)
	if c.format == FormatRGB565 {
		i := y*c.stride + x*2
		p := uint16(v.R>>3)<<11 | uint16(v.G>>2)<<5 | uint16(v.B>>3)
		c.pix[i] = byte(p)
		c.pix[i+1] = byte(p >> 8)
		return
	}
	i := y*c.stride + x*4
	c.pix[i] = v.B
	c.pix[i+1] = v.G
	c.pix[i+2] = v.R
	c.pix[i+3] = v.A
}
