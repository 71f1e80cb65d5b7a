package wltoy

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Wayland pixel formats
const (
	FormatARGB8888 = 0
	FormatXRGB8888 = 1
	FormatRGB565   = 0x36314752 // 'RG16'
)

func bytesPerPixel(format uint32) int32 {
	if format == FormatRGB565 {
		return 2
	}
	return 4
}

// ShmPool is a shared memory region registered with the compositor. Buffers are
// carved out of it front to back; reset makes the whole region available again.
type ShmPool struct {
	wl     *shmPoolProxy
	fd     int
	size   int
	data   []byte
	offset int
}

// createShmPool maps size bytes of anonymous memory and shares them with the compositor.
func (d *Display) createShmPool(size int) (*ShmPool, error) {
	if d.shm == nil {
		return nil, fmt.Errorf("%w: wl_shm", ErrMissingGlobal)
	}
	fd, err := createAnonymousFile(int64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymous file: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map memory: %w", err)
	}
	wl, err := d.shm.createPool(fd, int32(size))
	if err != nil {
		_ = unix.Munmap(data)
		_ = unix.Close(fd)
		return nil, err
	}
	return &ShmPool{wl: wl, fd: fd, size: size, data: data}, nil
}

// allocate reserves size bytes and returns them with their offset in the pool.
func (p *ShmPool) allocate(size int) ([]byte, int, bool) {
	if p.offset+size > p.size {
		return nil, 0, false
	}
	offset := p.offset
	p.offset += size
	// Align to 64-byte boundary for cache efficiency
	p.offset += (64 - p.offset%64) % 64
	return p.data[offset : offset+size], offset, true
}

func (p *ShmPool) reset() {
	p.offset = 0
}

// Size returns the pool size in bytes.
func (p *ShmPool) Size() int {
	return p.size
}

func (p *ShmPool) createBuffer(offset int, width, height, stride int32, format uint32) (*buffer, error) {
	return p.wl.createBuffer(int32(offset), width, height, stride, format)
}

// destroy unmaps the memory. Buffers created from the pool must already be destroyed.
func (p *ShmPool) destroy() {
	if p.wl != nil {
		p.wl.destroy()
		p.wl = nil
	}
	if p.data != nil {
		_ = unix.Munmap(p.data)
		p.data = nil
	}
	if p.fd >= 0 {
		_ = unix.Close(p.fd)
		p.fd = -1
	}
}

// createAnonymousFile creates a sealed memfd of the given size, falling back to an
// unlinked file in /dev/shm on kernels without memfd.
func createAnonymousFile(size int64) (int, error) {
	fd, err := unix.MemfdCreate("wltoy-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err == nil {
		if err := unix.Ftruncate(fd, size); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		// The compositor maps it too; it must not shrink under either of us
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_SEAL); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		return fd, nil
	}

	fd, err = unix.Open("/dev/shm", unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		name := fmt.Sprintf("/dev/shm/wltoy-%d", unix.Getpid())
		fd, err = unix.Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
		if err != nil {
			return -1, err
		}
		_ = unix.Unlink(name)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
