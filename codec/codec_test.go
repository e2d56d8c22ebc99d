package codec

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jseow5177/hotrod-pool/transport"
)

// pipeTransport builds a pair of connected Transports over a loopback TCP
// socket, for header round-trip tests that exercise the real wire codec.
func pipeTransport(t *testing.T) (transport.Transport, transport.Transport) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ep := transport.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}

	serverCh := make(chan transport.Transport, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverCh <- transport.WrapForTest(ep, conn)
	}()

	client, err := transport.Dial(ep, transport.DialOptions{ConnectTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case server := <-serverCh:
		return client, server
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
		return nil, nil
	}
}

func TestRequestHeaderRoundTrip(t *testing.T) {
	a, b := pipeTransport(t)
	defer a.Close()
	defer b.Close()

	h := RequestHeader{
		MessageID:          7,
		Opcode:             ClearRequest,
		CacheName:          []byte("mycache"),
		Flags:              3,
		ClientIntelligence: 0x01,
		TopologyID:         -1,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- WriteRequestHeader(a, h)
		_ = a.Flush()
	}()

	magic, err := b.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if magic != 0xA0 {
		t.Fatalf("got magic %#x want 0xA0", magic)
	}
	msgID, err := b.ReadVInt()
	if err != nil || msgID != h.MessageID {
		t.Fatalf("msgID = %d, %v; want %d", msgID, err, h.MessageID)
	}
	op, err := b.ReadByte()
	if err != nil || Opcode(op) != h.Opcode {
		t.Fatalf("opcode = %v, %v; want %v", op, err, h.Opcode)
	}
	cacheName, err := b.ReadArray()
	if err != nil || string(cacheName) != string(h.CacheName) {
		t.Fatalf("cacheName = %q, %v; want %q", cacheName, err, h.CacheName)
	}
	flags, err := b.ReadVInt()
	if err != nil || flags != h.Flags {
		t.Fatalf("flags = %d, %v; want %d", flags, err, h.Flags)
	}
	ci, err := b.ReadByte()
	if err != nil || ci != h.ClientIntelligence {
		t.Fatalf("clientIntelligence = %v, %v; want %v", ci, err, h.ClientIntelligence)
	}
	topo, err := b.ReadVInt()
	if err != nil || int64(topo) != h.TopologyID {
		t.Fatalf("topologyID = %d, %v; want %d", topo, err, h.TopologyID)
	}

	if err := <-errc; err != nil {
		t.Fatalf("WriteRequestHeader: %v", err)
	}
}

func TestReadResponseHeaderNoTopologyChange(t *testing.T) {
	a, b := pipeTransport(t)
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.WriteByte(0xA1)
		_ = a.WriteVInt(9)
		_ = a.WriteByte(byte(ClearResponse))
		_ = a.WriteByte(NoErrorStatus)
		_ = a.WriteByte(0) // no topology change
		_ = a.Flush()
	}()

	h, err := ReadResponseHeader(b)
	if err != nil {
		t.Fatalf("ReadResponseHeader: %v", err)
	}
	if h.MessageID != 9 || h.Opcode != ClearResponse || h.Status != NoErrorStatus || h.HasNewTopology {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestReadResponseHeaderWithTopologyChange(t *testing.T) {
	a, b := pipeTransport(t)
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.WriteByte(0xA1)
		_ = a.WriteVInt(10)
		_ = a.WriteByte(byte(GetWithVersionResponse))
		_ = a.WriteByte(NoErrorStatus)
		_ = a.WriteByte(1) // topology changed
		_ = a.WriteVInt(42)
		_ = a.Flush()
	}()

	h, err := ReadResponseHeader(b)
	if err != nil {
		t.Fatalf("ReadResponseHeader: %v", err)
	}
	if !h.HasNewTopology || h.NewTopologyID != 42 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestReadResponseHeaderBadMagic(t *testing.T) {
	a, b := pipeTransport(t)
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.WriteByte(0xFF)
		_ = a.Flush()
	}()

	_, err := ReadResponseHeader(b)
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("got %v want ErrBadMagic", err)
	}
}
