package wire

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// Unit tests that don't require a compositor

func TestFixed(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{1.0, 1.0},
		{0.5, 0.5},
		{123.456, 123.456},
		{-1.5, -1.5},
		{0.0, 0.0},
		{256.0, 256.0},
	}

	for _, test := range tests {
		fixed := NewFixed(test.input)
		result := fixed.Float64()

		// Allow small precision differences
		diff := result - test.expected
		if diff < 0 {
			diff = -diff
		}
		if diff > 0.01 {
			t.Errorf("Fixed conversion: input=%f, expected=%f, got=%f",
				test.input, test.expected, result)
		}
	}
}

type testObject uint32

func (o testObject) ID() uint32 { return uint32(o) }

type ptrObject struct{ id uint32 }

func (o *ptrObject) ID() uint32 { return o.id }

func TestMarshalArg(t *testing.T) {
	var nilPtr *ptrObject

	tests := []struct {
		name string
		arg  interface{}
		want []byte
	}{
		{
			name: "uint32",
			arg:  uint32(0x12345678),
			want: []byte{0x78, 0x56, 0x34, 0x12}, // little endian
		},
		{
			name: "int32",
			arg:  int32(-1),
			want: []byte{0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name: "Fixed",
			arg:  NewFixed(1.0),
			want: []byte{0x00, 0x01, 0x00, 0x00}, // 256 in little endian
		},
		{
			name: "string",
			arg:  "test",
			want: []byte{0x05, 0x00, 0x00, 0x00, 't', 'e', 's', 't', 0x00, 0x00, 0x00, 0x00},
		},
		{
			name: "array",
			arg:  []byte{1, 2},
			want: []byte{0x02, 0x00, 0x00, 0x00, 1, 2, 0, 0},
		},
		{
			name: "object",
			arg:  testObject(7),
			want: []byte{0x07, 0x00, 0x00, 0x00},
		},
		{
			name: "nil object",
			arg:  nil,
			want: []byte{0x00, 0x00, 0x00, 0x00},
		},
		{
			name: "typed nil object",
			arg:  nilPtr,
			want: []byte{0x00, 0x00, 0x00, 0x00},
		},
	}

	buf := &bytes.Buffer{}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf.Reset()
			if err := marshalArg(buf, test.arg); err != nil {
				t.Fatalf("marshalArg failed: %v", err)
			}
			if got := buf.Bytes(); !bytes.Equal(got, test.want) {
				t.Errorf("marshalArg(%v) = %v, want %v", test.arg, got, test.want)
			}
		})
	}
}

func TestMarshalRejectsUnknownType(t *testing.T) {
	buf := &bytes.Buffer{}
	if _, err := Marshal(buf, 3, 0, 1.5); err == nil {
		t.Fatal("expected error for float64 argument")
	}
	if buf.Len() != 0 {
		t.Errorf("buffer should be rolled back, has %d bytes", buf.Len())
	}
}

func TestMarshalHeader(t *testing.T) {
	buf := &bytes.Buffer{}
	fds, err := Marshal(buf, 5, 2, uint32(1), FD(9))
	if err != nil {
		t.Fatal(err)
	}
	if len(fds) != 1 || fds[0] != 9 {
		t.Errorf("fds = %v, want [9]", fds)
	}

	sender, opcode, size := parseHeader(buf.Bytes())
	if sender != 5 || opcode != 2 || size != 12 {
		t.Errorf("header = (%d, %d, %d), want (5, 2, 12)", sender, opcode, size)
	}
}

func TestMessageHeaderParsing(t *testing.T) {
	tests := []struct {
		name     string
		header   []byte
		wantID   uint32
		wantSize int
		wantOp   uint16
	}{
		{
			name:     "basic header",
			header:   []byte{0x05, 0x00, 0x00, 0x00, 0x02, 0x00, 0x0C, 0x00},
			wantID:   5,
			wantSize: 12,
			wantOp:   2,
		},
		{
			name:     "large values",
			header:   []byte{0xFF, 0xFF, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x10},
			wantID:   65535,
			wantSize: 4096,
			wantOp:   255,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			id, op, size := parseHeader(test.header)
			if id != test.wantID {
				t.Errorf("object ID = %d, want %d", id, test.wantID)
			}
			if size != test.wantSize {
				t.Errorf("size = %d, want %d", size, test.wantSize)
			}
			if op != test.wantOp {
				t.Errorf("opcode = %d, want %d", op, test.wantOp)
			}
		})
	}
}

func TestMessageDecoding(t *testing.T) {
	body, err := Body(uint32(3), "wl_seat", uint32(7), NewFixed(2.5), []byte{9, 8, 7})
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessage(2, 0, body)
	if got := m.Uint32(); got != 3 {
		t.Errorf("Uint32 = %d", got)
	}
	if got := m.String(); got != "wl_seat" {
		t.Errorf("String = %q", got)
	}
	if got := m.Uint32(); got != 7 {
		t.Errorf("Uint32 = %d", got)
	}
	if got := m.Fixed().Float64(); got != 2.5 {
		t.Errorf("Fixed = %f", got)
	}
	if got := m.Array(); !bytes.Equal(got, []byte{9, 8, 7}) {
		t.Errorf("Array = %v", got)
	}
	// Reading past the end yields zero values
	if got := m.Uint32(); got != 0 {
		t.Errorf("Uint32 past end = %d", got)
	}
}

func socketPair(t *testing.T) (*Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	c, err := NewConn(fds[0])
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		_ = unix.Close(fds[1])
	})
	return c, fds[1]
}

func TestConnSendFlush(t *testing.T) {
	c, peer := socketPair(t)

	if err := c.Send(1, 0, NewID(4)); err != nil {
		t.Fatal(err)
	}
	if c.Buffered() != 12 {
		t.Errorf("Buffered = %d, want 12", c.Buffered())
	}
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}
	if c.Buffered() != 0 {
		t.Errorf("Buffered after flush = %d", c.Buffered())
	}

	buf := make([]byte, 64)
	n, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 0, 0, 0, 0, 0, 12, 0, 4, 0, 0, 0}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("peer read %v, want %v", buf[:n], want)
	}
}

func TestConnReceivesSplitMessages(t *testing.T) {
	c, peer := socketPair(t)

	msg := &bytes.Buffer{}
	if _, err := Marshal(msg, 9, 1, uint32(42)); err != nil {
		t.Fatal(err)
	}
	raw := msg.Bytes()

	// First half only: no complete message yet
	if _, err := unix.Write(peer, raw[:5]); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fill(); err != nil {
		t.Fatal(err)
	}
	if m, err := c.Next(); err != nil || m != nil {
		t.Fatalf("Next on partial = %v, %v", m, err)
	}

	if _, err := unix.Write(peer, raw[5:]); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fill(); err != nil {
		t.Fatal(err)
	}
	m, err := c.Next()
	if err != nil || m == nil {
		t.Fatalf("Next = %v, %v", m, err)
	}
	if m.Sender != 9 || m.Opcode != 1 || m.Uint32() != 42 {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestConnPassesFileDescriptors(t *testing.T) {
	c, peer := socketPair(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	msg := &bytes.Buffer{}
	if _, err := Marshal(msg, 3, 0, uint32(1)); err != nil {
		t.Fatal(err)
	}
	if err := unix.Sendmsg(peer, msg.Bytes(), unix.UnixRights(int(w.Fd())), nil, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Fill(); err != nil {
		t.Fatal(err)
	}
	m, err := c.Next()
	if err != nil || m == nil {
		t.Fatalf("Next = %v, %v", m, err)
	}
	fd, ok := m.FD()
	if !ok {
		t.Fatal("expected a file descriptor")
	}
	defer unix.Close(fd)

	if _, err := unix.Write(fd, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 2)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi" {
		t.Errorf("read %q through passed fd", got)
	}
}

func TestConnFillReportsHangup(t *testing.T) {
	c, peer := socketPair(t)
	_ = unix.Shutdown(peer, unix.SHUT_WR)

	if _, err := c.Fill(); !errors.Is(err, io.EOF) {
		t.Errorf("Fill after hangup = %v, want io.EOF", err)
	}
}

func TestConnClosed(t *testing.T) {
	c, _ := socketPair(t)
	_ = c.Close()
	if err := c.Send(1, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed = %v", err)
	}
}

func BenchmarkMarshal(b *testing.B) {
	buf := &bytes.Buffer{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = Marshal(buf, 10, 2, int32(0), int32(0), int32(640), int32(480))
	}
}

func BenchmarkFixedConversion(b *testing.B) {
	values := []float64{1.0, 0.5, 123.456, -1.5, 256.789}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, v := range values {
			fixed := NewFixed(v)
			_ = fixed.Float64()
		}
	}
}
