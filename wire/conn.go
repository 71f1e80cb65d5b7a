// Package wire implements the display-server transport: a nonblocking unix socket
// carrying framed little-endian messages with file descriptors passed out-of-band.
//
// The connection never blocks on its own. Callers register FD() with a multiplexer,
// call Fill when it is readable, Flush before sleeping and again when it is writable.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Flush when the socket buffer is full. The caller should
// wait for the fd to become writable and flush again.
var ErrWouldBlock = errors.New("wire: flush would block")

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("wire: connection closed")

// Conn is a connection to the display server.
type Conn struct {
	fd     int
	in     []byte
	inFDs  fdQueue
	out    bytes.Buffer
	outFDs []int
	closed bool

	readBuf [4096]byte
}

// Dial connects to the display server. An empty name uses WAYLAND_SOCKET when the
// parent passed us a connected socket, then WAYLAND_DISPLAY, then "wayland-0".
func Dial(name string) (*Conn, error) {
	if name == "" {
		if s := os.Getenv("WAYLAND_SOCKET"); s != "" {
			fd, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid WAYLAND_SOCKET %q: %w", s, err)
			}
			_ = os.Unsetenv("WAYLAND_SOCKET")
			unix.CloseOnExec(fd)
			return NewConn(fd)
		}
		name = os.Getenv("WAYLAND_DISPLAY")
		if name == "" {
			name = "wayland-0"
		}
	}

	// Resolve socket path
	if !filepath.IsAbs(name) {
		runDir := os.Getenv("XDG_RUNTIME_DIR")
		if runDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		name = filepath.Join(runDir, name)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: name}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	return NewConn(fd)
}

// NewConn wraps an already connected stream socket. The connection takes ownership of fd.
func NewConn(fd int) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set nonblocking: %w", err)
	}
	return &Conn{fd: fd}, nil
}

// FD returns the socket descriptor to register with a multiplexer.
func (c *Conn) FD() int {
	return c.fd
}

// Send queues one request. Nothing is written until Flush. FD arguments are
// duplicated, the caller may close its copy right away.
func (c *Conn) Send(objectID uint32, opcode uint16, args ...interface{}) error {
	if c.closed {
		return ErrClosed
	}
	fds, err := Marshal(&c.out, objectID, opcode, args...)
	if err != nil {
		return err
	}
	for _, fd := range fds {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("failed to duplicate fd %d: %w", fd, err)
		}
		c.outFDs = append(c.outFDs, dup)
	}
	return nil
}

// Buffered returns the number of queued outgoing bytes.
func (c *Conn) Buffered() int {
	return c.out.Len()
}

// Flush writes queued requests. On a partial write the remainder stays queued and
// ErrWouldBlock is returned.
func (c *Conn) Flush() error {
	if c.closed {
		return ErrClosed
	}
	for c.out.Len() > 0 {
		n, err := c.sendmsg(c.out.Bytes(), c.outFDs)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return ErrWouldBlock
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("failed to flush: %w", err)
		}
		if len(c.outFDs) > 0 {
			// The kernel duplicated them into the message; ours can go.
			for _, fd := range c.outFDs {
				_ = unix.Close(fd)
			}
			c.outFDs = c.outFDs[:0]
		}
		c.out.Next(n)
	}
	c.out.Reset()
	return nil
}

// Fill reads everything currently available. It returns io.EOF when the server hung up.
func (c *Conn) Fill() (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	total := 0
	for {
		n, err := c.recvmsg(c.readBuf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return total, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return total, fmt.Errorf("failed to read: %w", err)
		}
		if n == 0 {
			return total, io.EOF
		}
		c.in = append(c.in, c.readBuf[:n]...)
		total += n
	}
}

// Next pops the next complete message, or returns nil when more data is needed.
func (c *Conn) Next() (*Message, error) {
	if len(c.in) < HeaderSize {
		return nil, nil
	}
	sender, opcode, size := parseHeader(c.in)
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: object %d opcode %d size %d", ErrShortMessage, sender, opcode, size)
	}
	if len(c.in) < size {
		return nil, nil
	}
	body := make([]byte, size-HeaderSize)
	copy(body, c.in[HeaderSize:size])
	c.in = c.in[size:]
	if len(c.in) == 0 {
		c.in = c.in[:0:0]
	}
	return &Message{Sender: sender, Opcode: opcode, data: body, fds: &c.inFDs}, nil
}

// Wait blocks until the socket has the requested poll events or the timeout elapses.
// A negative timeout waits forever.
func (c *Conn) Wait(events int16, timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return unix.ETIMEDOUT
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&events == 0 {
			return io.EOF
		}
		return nil
	}
}

// Close closes the socket and any descriptors that were received but never consumed.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for {
		fd, ok := c.inFDs.pop()
		if !ok {
			break
		}
		_ = unix.Close(fd)
	}
	for _, fd := range c.outFDs {
		_ = unix.Close(fd)
	}
	c.outFDs = nil
	return unix.Close(c.fd)
}
