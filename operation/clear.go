package operation

import (
	"context"

	"github.com/jseow5177/hotrod-pool/codec"
	"github.com/jseow5177/hotrod-pool/transport"
)

// Clear wipes a whole cache: write a CLEAR_REQUEST header, flush, read
// and validate the response header. Its target is any server serving the
// cache, so it acquires a transport by cache name rather than by key.
type Clear struct {
	Base
}

func NewClear(b Base) *Clear {
	return &Clear{Base: b}
}

// Execute runs the retry state machine and returns the server status
// byte; Clear carries no body.
func (c *Clear) Execute(ctx context.Context) (byte, error) {
	return execute[byte](ctx, &c.Base,
		func(ctx context.Context) (transport.Transport, error) {
			return c.Factory.GetTransport(ctx, c.CacheName)
		},
		c.executeOperation,
	)
}

func (c *Clear) executeOperation(t transport.Transport) (byte, error) {
	params, err := c.writeHeader(t, codec.ClearRequest)
	if err != nil {
		return 0, err
	}
	if err := t.Flush(); err != nil {
		return 0, wrapIO(err)
	}
	return c.readHeaderAndValidate(t, params)
}
