//go:build linux
// +build linux

package wire

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// maxFDsPerMessage matches the server side limit on descriptors per sendmsg.
const maxFDsPerMessage = 28

// Pre-allocated buffers for control messages
var controlBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))
		return &b
	},
}

// recvmsg receives bytes and queues any file descriptors carried with them.
func (c *Conn) recvmsg(buf []byte) (int, error) {
	oobp := controlBufferPool.Get().(*[]byte)
	defer controlBufferPool.Put(oobp)
	oob := *oobp

	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_CMSG_CLOEXEC|unix.MSG_DONTWAIT)
	if err != nil {
		return 0, err
	}

	// Parse control messages if any
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return n, fmt.Errorf("parse control message: %w", err)
		}
		for i := range scms {
			if scms[i].Header.Type != unix.SCM_RIGHTS {
				continue
			}
			fds, err := unix.ParseUnixRights(&scms[i])
			if err != nil {
				return n, fmt.Errorf("parse unix rights: %w", err)
			}
			for _, fd := range fds {
				c.inFDs.push(fd)
			}
		}
	}
	return n, nil
}

// sendmsg writes buf, attaching fds to the first chunk.
func (c *Conn) sendmsg(buf []byte, fds []int) (int, error) {
	if len(fds) > maxFDsPerMessage {
		return 0, fmt.Errorf("too many file descriptors: %d", len(fds))
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return unix.SendmsgN(c.fd, buf, oob, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
}
