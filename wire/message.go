package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// HeaderSize is the size of a message header: object id, then size<<16|opcode.
const HeaderSize = 8

// Pre-allocated buffer pool for request marshalling
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Fixed represents a 24.8 fixed-point number
type Fixed int32

// Float64 converts Fixed to float64
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// NewFixed creates a Fixed from float64
func NewFixed(v float64) Fixed {
	return Fixed(v * 256.0)
}

// Object is anything with a protocol object id.
type Object interface {
	ID() uint32
}

// FD is a file descriptor argument. It occupies no space in the message body and is
// carried out-of-band with SCM_RIGHTS.
type FD int

// NewID is a new_id argument for an interface fixed by the protocol.
type NewID uint32

// Message is one decoded event. Arguments are read in order with the typed accessors.
type Message struct {
	Sender uint32
	Opcode uint16
	data   []byte
	offset int
	fds    *fdQueue
}

// NewMessage builds a message over a body. Mainly useful to inject events in tests.
func NewMessage(sender uint32, opcode uint16, body []byte, fds ...int) *Message {
	q := &fdQueue{}
	for _, fd := range fds {
		q.push(fd)
	}
	return &Message{Sender: sender, Opcode: opcode, data: body, fds: q}
}

// Data returns the raw message body
func (m *Message) Data() []byte {
	return m.data
}

// Uint32 reads a uint32 from the message
func (m *Message) Uint32() uint32 {
	if m.offset+4 > len(m.data) {
		return 0
	}
	val := binary.LittleEndian.Uint32(m.data[m.offset:])
	m.offset += 4
	return val
}

// Int32 reads an int32 from the message
func (m *Message) Int32() int32 {
	return int32(m.Uint32())
}

// Fixed reads a fixed-point value from the message
func (m *Message) Fixed() Fixed {
	return Fixed(m.Int32())
}

// String reads a string from the message
func (m *Message) String() string {
	strlen := m.Uint32()
	if strlen == 0 || m.offset+int(strlen) > len(m.data) {
		return ""
	}
	// String includes null terminator in length
	str := string(m.data[m.offset : m.offset+int(strlen)-1])
	padding := (4 - (strlen % 4)) % 4
	m.offset += int(strlen + padding)
	return str
}

// Array reads a byte array from the message
func (m *Message) Array() []byte {
	arrlen := m.Uint32()
	if arrlen == 0 || m.offset+int(arrlen) > len(m.data) {
		return nil
	}
	arr := make([]byte, arrlen)
	copy(arr, m.data[m.offset:m.offset+int(arrlen)])
	padding := (4 - (arrlen % 4)) % 4
	m.offset += int(arrlen + padding)
	return arr
}

// FD takes the next file descriptor received with the connection. The caller owns it.
func (m *Message) FD() (int, bool) {
	if m.fds == nil {
		return -1, false
	}
	return m.fds.pop()
}

// Marshal appends the wire encoding of one request to buf and collects its fds.
func Marshal(buf *bytes.Buffer, objectID uint32, opcode uint16, args ...interface{}) ([]int, error) {
	start := buf.Len()
	var header [HeaderSize]byte
	_, _ = buf.Write(header[:])

	var fds []int
	for _, arg := range args {
		if fd, ok := arg.(FD); ok {
			fds = append(fds, int(fd))
			continue
		}
		if err := marshalArg(buf, arg); err != nil {
			buf.Truncate(start)
			return nil, fmt.Errorf("failed to marshal argument: %w", err)
		}
	}

	size := buf.Len() - start
	if size > 0xFFFF {
		buf.Truncate(start)
		return nil, fmt.Errorf("message too large: %d bytes", size)
	}
	b := buf.Bytes()[start:]
	binary.LittleEndian.PutUint32(b[0:4], objectID)
	// Upper 16 bits = size, lower 16 bits = opcode
	binary.LittleEndian.PutUint32(b[4:8], uint32(size)<<16|uint32(opcode))
	return fds, nil
}

// Body encodes arguments without a header. FD arguments are skipped.
func Body(args ...interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()
	for _, arg := range args {
		if _, ok := arg.(FD); ok {
			continue
		}
		if err := marshalArg(buf, arg); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// marshalArg marshals a single argument
func marshalArg(buf *bytes.Buffer, arg interface{}) error {
	var word [4]byte
	switch v := arg.(type) {
	case uint32:
		binary.LittleEndian.PutUint32(word[:], v)
	case int32:
		binary.LittleEndian.PutUint32(word[:], uint32(v))
	case Fixed:
		binary.LittleEndian.PutUint32(word[:], uint32(v))
	case NewID:
		binary.LittleEndian.PutUint32(word[:], uint32(v))
	case string:
		// String format: length (including null) + string + null + padding
		strlen := len(v) + 1
		binary.LittleEndian.PutUint32(word[:], uint32(strlen))
		_, _ = buf.Write(word[:])
		_, _ = buf.WriteString(v)
		_ = buf.WriteByte(0)
		for i := 0; i < (4-strlen%4)%4; i++ {
			_ = buf.WriteByte(0)
		}
		return nil
	case []byte:
		// Array format: length + data + padding
		binary.LittleEndian.PutUint32(word[:], uint32(len(v)))
		_, _ = buf.Write(word[:])
		_, _ = buf.Write(v)
		for i := 0; i < (4-len(v)%4)%4; i++ {
			_ = buf.WriteByte(0)
		}
		return nil
	case nil:
		// Null object
	case Object:
		if !isNilObject(v) {
			binary.LittleEndian.PutUint32(word[:], v.ID())
		}
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	_, _ = buf.Write(word[:])
	return nil
}

// isNilObject reports typed nil pointers, which encode as the null object.
func isNilObject(o Object) bool {
	v := reflect.ValueOf(o)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// ErrShortMessage is returned when a header announces a size smaller than itself.
var ErrShortMessage = errors.New("wire: message shorter than header")

// parseHeader splits a header into sender, opcode and total size.
func parseHeader(b []byte) (sender uint32, opcode uint16, size int) {
	sender = binary.LittleEndian.Uint32(b[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(b[4:8])
	return sender, uint16(sizeOpcode & 0xffff), int(sizeOpcode >> 16)
}

// fdQueue holds received descriptors in arrival order.
type fdQueue struct {
	fds []int
}

func (q *fdQueue) push(fd int) {
	q.fds = append(q.fds, fd)
}

func (q *fdQueue) pop() (int, bool) {
	if len(q.fds) == 0 {
		return -1, false
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	return fd, true
}
