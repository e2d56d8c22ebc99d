package transport

import (
	"bufio"
	"net"
	"time"

	"github.com/google/uuid"
)

// Transport is an owned handle to a live TCP connection to one Endpoint.
// It is produced and destroyed only by a TransportFactory (see the
// factory package) and is, at any instant, exclusively held by the pool's
// idle queue, its busy set, or a caller executing an operation — never more
// than one of these at once.
//
// The read/write methods mirror the framed-byte-channel boundary this
// module consumes from the codec: integers are big-endian, "VInt" is an
// unsigned LEB128-like variable length integer, and byte arrays are
// VInt-length-prefixed.
type Transport interface {
	// ID uniquely identifies this transport handle. Used by the pool in
	// place of pointer identity (see DESIGN.md "stable handles").
	ID() uuid.UUID
	Endpoint() Endpoint

	ReadByte() (byte, error)
	ReadLong() (int64, error)
	ReadVInt() (uint64, error)
	ReadArray() ([]byte, error)

	WriteByte(b byte) error
	WriteLong(v int64) error
	WriteVInt(v uint64) error
	WriteArray(b []byte) error

	// Flush pushes any buffered writes to the wire.
	Flush() error
	Close() error
}

// tcpTransport is the default Transport backed by a real net.Conn.
type tcpTransport struct {
	id       uuid.UUID
	endpoint Endpoint
	conn     net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
}

// DialOptions controls how a tcpTransport connects.
type DialOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Dial opens a new TCP connection to ep and wraps it as a Transport. Apart
// from WrapForTest, this is the only place that creates a tcpTransport;
// the pool's factory calls it from MakeObject.
func Dial(ep Endpoint, opts DialOptions) (Transport, error) {
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.Dial("tcp", ep.String())
	if err != nil {
		return nil, err
	}
	return newTCPTransport(ep, conn, opts), nil
}

// WrapForTest exposes newTCPTransport to other packages' tests that need
// a real Transport over an already-established connection (e.g. the
// server side of a loopback listener in a codec round-trip test).
func WrapForTest(ep Endpoint, conn net.Conn) Transport {
	return newTCPTransport(ep, conn, DialOptions{})
}

func newTCPTransport(ep Endpoint, conn net.Conn, opts DialOptions) *tcpTransport {
	t := &tcpTransport{
		id:       uuid.New(),
		endpoint: ep,
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
	}
	if opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	}
	if opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
	}
	return t
}

func (t *tcpTransport) ID() uuid.UUID      { return t.id }
func (t *tcpTransport) Endpoint() Endpoint { return t.endpoint }

func (t *tcpTransport) ReadByte() (byte, error) {
	return t.r.ReadByte()
}

func (t *tcpTransport) ReadLong() (int64, error) {
	var buf [8]byte
	if _, err := readFull(t.r, buf[:]); err != nil {
		return 0, err
	}
	return int64(
		uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
			uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7]),
	), nil
}

func (t *tcpTransport) ReadVInt() (uint64, error) {
	return readVInt(t.r)
}

func (t *tcpTransport) ReadArray() ([]byte, error) {
	n, err := t.ReadVInt()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := readFull(t.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *tcpTransport) WriteByte(b byte) error {
	return t.w.WriteByte(b)
}

func (t *tcpTransport) WriteLong(v int64) error {
	u := uint64(v)
	buf := [8]byte{
		byte(u >> 56), byte(u >> 48), byte(u >> 40), byte(u >> 32),
		byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u),
	}
	_, err := t.w.Write(buf[:])
	return err
}

func (t *tcpTransport) WriteVInt(v uint64) error {
	return writeVInt(t.w, v)
}

func (t *tcpTransport) WriteArray(b []byte) error {
	if err := t.WriteVInt(uint64(len(b))); err != nil {
		return err
	}
	_, err := t.w.Write(b)
	return err
}

func (t *tcpTransport) Flush() error {
	return t.w.Flush()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// readFull is io.ReadFull with the byte-oriented reader this package uses
// everywhere, kept local so transport.go has no other stdlib io import.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}
