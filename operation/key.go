package operation

import (
	"github.com/jseow5177/hotrod-pool/codec"
	"github.com/jseow5177/hotrod-pool/transport"
)

// sendKeyOperation writes the header, writes the key bytes, flushes, then
// reads and validates the response header against the matching response
// opcode (reqOpcode + 1). It is shared by every key-scoped operation.
func sendKeyOperation(b *Base, t transport.Transport, key []byte, reqOpcode codec.Opcode) (byte, error) {
	params, err := b.writeHeader(t, reqOpcode)
	if err != nil {
		return 0, err
	}
	if err := t.WriteArray(key); err != nil {
		return 0, wrapIO(err)
	}
	if err := t.Flush(); err != nil {
		return 0, wrapIO(err)
	}
	return b.readHeaderAndValidate(t, params)
}
