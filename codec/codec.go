// Package codec implements the thin wire-format boundary the rest of this
// module builds on: header encode/decode on top of the transport's
// byte/long/vint/array primitives. The layout is a HotRod-like binary
// protocol: a request header carries the message id, opcode, flags,
// cache name and topology id; a response header carries the message id,
// opcode and status, with an optional topology-change marker.
package codec

import (
	"errors"
	"fmt"

	"github.com/jseow5177/hotrod-pool/transport"
)

// ErrBadMagic means the response's leading magic byte didn't match — a
// framing-level protocol corruption, not a transient I/O failure.
var ErrBadMagic = errors.New("codec: bad response magic")

// Opcode is the one-byte protocol tag for a request/response kind. A
// response opcode always equals its paired request opcode + 1.
type Opcode byte

const (
	magicReq  byte = 0xA0
	magicResp byte = 0xA1

	ClearRequest  Opcode = 0x13
	ClearResponse Opcode = 0x14

	GetWithMetadataRequest  Opcode = 0x1B
	GetWithMetadataResponse Opcode = 0x1C

	GetWithVersionRequest  Opcode = 0x1D
	GetWithVersionResponse Opcode = 0x1E
)

// NoErrorStatus is the response status byte indicating success; any
// non-zero value is a server-reported outcome, not a transport failure.
const NoErrorStatus byte = 0x00

// Response flag bits (GetWithMetadata). These are bit positions that must
// match the server's wire contract; they carry no semantic meaning beyond
// that here.
const (
	InfiniteLifespan byte = 0x01
	InfiniteMaxIdle  byte = 0x02
)

// topologyChanged marks that a new topology id/layout follows the status
// byte in a response header.
const topologyChanged byte = 0x01

// RequestHeader is everything written before an operation's own body.
type RequestHeader struct {
	MessageID        uint64
	Opcode           Opcode
	CacheName        []byte
	Flags            uint64
	ClientIntelligence byte
	TopologyID       int64
}

// WriteRequestHeader writes magic, message id, opcode, cache name, flags,
// client intelligence and topology id, in that order. It does not flush;
// callers flush once the full request (header + body) has been written.
func WriteRequestHeader(t transport.Transport, h RequestHeader) error {
	if err := t.WriteByte(magicReq); err != nil {
		return err
	}
	if err := t.WriteVInt(h.MessageID); err != nil {
		return err
	}
	if err := t.WriteByte(byte(h.Opcode)); err != nil {
		return err
	}
	if err := t.WriteArray(h.CacheName); err != nil {
		return err
	}
	if err := t.WriteVInt(h.Flags); err != nil {
		return err
	}
	if err := t.WriteByte(h.ClientIntelligence); err != nil {
		return err
	}
	if err := t.WriteVInt(uint64(h.TopologyID)); err != nil {
		return err
	}
	return nil
}

// ResponseHeader is what ReadResponseHeader decodes before the
// operation-specific body.
type ResponseHeader struct {
	MessageID     uint64
	Opcode        Opcode
	Status        byte
	NewTopologyID int64
	HasNewTopology bool
}

// ReadResponseHeader reads magic, message id, opcode, status and the
// topology-change marker (and, if set, the new topology id). It does not
// validate message id / opcode against the request — that cross-check is
// the retry-operation layer's job.
func ReadResponseHeader(t transport.Transport) (ResponseHeader, error) {
	var h ResponseHeader

	magic, err := t.ReadByte()
	if err != nil {
		return h, err
	}
	if magic != magicResp {
		return h, fmt.Errorf("%w: 0x%x", ErrBadMagic, magic)
	}

	msgID, err := t.ReadVInt()
	if err != nil {
		return h, err
	}
	h.MessageID = msgID

	op, err := t.ReadByte()
	if err != nil {
		return h, err
	}
	h.Opcode = Opcode(op)

	status, err := t.ReadByte()
	if err != nil {
		return h, err
	}
	h.Status = status

	marker, err := t.ReadByte()
	if err != nil {
		return h, err
	}
	if marker == topologyChanged {
		h.HasNewTopology = true
		newID, err := t.ReadVInt()
		if err != nil {
			return h, err
		}
		h.NewTopologyID = int64(newID)
	}

	return h, nil
}
