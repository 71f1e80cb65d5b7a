package wltoy

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// maxLeaves is how many buffers a software surface cycles through. The compositor
// may hold one while it is on screen and one queued.
const maxLeaves = 3

type shmLeaf struct {
	canvas *shmCanvas
	buffer *buffer
	width  int32
	height int32
	format uint32
	busy   bool

	// pool is dedicated storage for this buffer; resizePool is a larger region
	// reused across the sizes of an interactive resize.
	pool       *ShmPool
	resizePool *ShmPool
}

// releaseBuffer drops the buffer and any dedicated storage behind it.
func (l *shmLeaf) releaseBuffer() {
	if l.buffer != nil {
		l.buffer.destroy()
		l.buffer = nil
	}
	if l.pool != nil {
		l.pool.destroy()
		l.pool = nil
	}
	l.canvas = nil
	l.width, l.height = 0, 0
}

func (l *shmLeaf) release() {
	l.releaseBuffer()
	if l.resizePool != nil {
		l.resizePool.destroy()
		l.resizePool = nil
	}
}

// shmSurface is the software ToySurface: a few shm buffers handed back and forth
// with the compositor, each released by wl_buffer.release.
type shmSurface struct {
	display *Display
	surface *wlSurface
	flags   uint32
	dx, dy  int32
	leaves  [maxLeaves]shmLeaf
	current *shmLeaf

	// released runs after the compositor hands a buffer back.
	released func()

	// allocations counts backing stores created, for diagnostics and tests.
	allocations int
}

func newShmSurface(d *Display, s *wlSurface, flags uint32) *shmSurface {
	return &shmSurface{display: d, surface: s, flags: flags}
}

func (s *shmSurface) Kind() BackendKind {
	return BackendSoftware
}

func (s *shmSurface) format(flags uint32) uint32 {
	flags |= s.flags
	if flags&SurfaceHintRGB565 != 0 && s.display.hasRGB565 {
		return FormatRGB565
	}
	if flags&SurfaceOpaque != 0 {
		return FormatXRGB8888
	}
	return FormatARGB8888
}

func (s *shmSurface) Prepare(dx, dy, width, height int32, flags uint32, transform, scale int32) (Canvas, error) {
	s.dx, s.dy = dx, dy

	// Pick a free buffer, preferably one that already has storage
	var leaf *shmLeaf
	for i := range s.leaves {
		l := &s.leaves[i]
		if l.busy {
			continue
		}
		if leaf == nil || l.canvas != nil {
			leaf = l
		}
	}
	if leaf == nil {
		return nil, fmt.Errorf("%w: all %d buffers are held by the compositor", ErrNoBuffer, maxLeaves)
	}

	bw, bh := surfaceToBufferSize(transform, scale, width, height)
	if bw <= 0 || bh <= 0 {
		return nil, fmt.Errorf("%w: empty size %dx%d", ErrNoBuffer, bw, bh)
	}
	format := s.format(flags)
	resizing := flags&SurfaceHintResize != 0

	// Resize finished: go back to a tightly sized buffer
	if !resizing && leaf.resizePool != nil {
		leaf.release()
	}

	if leaf.canvas != nil && leaf.width == bw && leaf.height == bh && leaf.format == format {
		s.current = leaf
		return leaf.canvas, nil
	}

	leaf.releaseBuffer()
	if err := s.allocate(leaf, bw, bh, format, resizing); err != nil {
		return nil, err
	}
	s.current = leaf
	return leaf.canvas, nil
}

func (s *shmSurface) allocate(leaf *shmLeaf, width, height int32, format uint32, resizing bool) error {
	d := s.display
	stride := width * bytesPerPixel(format)
	length := int(stride) * int(height)

	var pool *ShmPool
	if resizing {
		if leaf.resizePool != nil && leaf.resizePool.Size() < length {
			leaf.resizePool.destroy()
			leaf.resizePool = nil
		}
		if leaf.resizePool == nil {
			size := max(d.cfg.Render.ResizePoolSize, length)
			p, err := d.createShmPool(size)
			if err != nil {
				return fmt.Errorf("%w: resize pool: %v", ErrNoBuffer, err)
			}
			s.allocations++
			d.logger.Debug("allocated resize pool", "size", humanize.IBytes(uint64(size)))
			leaf.resizePool = p
		}
		// The leaf is free, so nothing in its pool is still read by the compositor
		leaf.resizePool.reset()
		pool = leaf.resizePool
	} else {
		p, err := d.createShmPool(length)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoBuffer, err)
		}
		s.allocations++
		leaf.pool = p
		pool = p
	}

	data, offset, ok := pool.allocate(length)
	if !ok {
		leaf.releaseBuffer()
		return fmt.Errorf("%w: pool too small for %dx%d", ErrNoBuffer, width, height)
	}
	buf, err := pool.createBuffer(offset, width, height, stride, format)
	if err != nil {
		leaf.releaseBuffer()
		return fmt.Errorf("%w: %v", ErrNoBuffer, err)
	}
	buf.release = func() {
		leaf.busy = false
		if s.released != nil {
			s.released()
		}
	}

	leaf.buffer = buf
	leaf.canvas = newShmCanvas(data, int(stride), width, height, format)
	leaf.width, leaf.height, leaf.format = width, height, format
	return nil
}

func (s *shmSurface) Swap(transform, scale int32) (Rectangle, error) {
	leaf := s.current
	if leaf == nil || leaf.buffer == nil {
		return Rectangle{}, ErrNoBuffer
	}
	width, height := bufferToSurfaceSize(transform, scale, leaf.width, leaf.height)

	if err := s.surface.attach(leaf.buffer, s.dx, s.dy); err != nil {
		return Rectangle{}, err
	}
	if err := s.surface.damage(0, 0, width, height); err != nil {
		return Rectangle{}, err
	}
	if err := s.surface.commit(); err != nil {
		return Rectangle{}, err
	}

	leaf.busy = true
	s.current = nil
	return Rectangle{Width: width, Height: height}, nil
}

func (s *shmSurface) Acquire(RenderContext) error {
	return ErrHardwareUnavailable
}

func (s *shmSurface) Release() {}

func (s *shmSurface) Destroy() {
	for i := range s.leaves {
		s.leaves[i].release()
	}
	s.current = nil
}
