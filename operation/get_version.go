package operation

import (
	"context"

	"github.com/jseow5177/hotrod-pool/codec"
	"github.com/jseow5177/hotrod-pool/transport"
)

// VersionedResult is GetWithVersion's body, decoded only when Status ==
// codec.NoErrorStatus.
type VersionedResult struct {
	Status  byte
	Version uint64
	Value   []byte
}

// GetWithVersion is like GetWithMetadata but reads only version then
// value.
type GetWithVersion struct {
	Base
	Key []byte
}

func NewGetWithVersion(b Base, key []byte) *GetWithVersion {
	return &GetWithVersion{Base: b, Key: key}
}

func (g *GetWithVersion) Execute(ctx context.Context) (VersionedResult, error) {
	return execute[VersionedResult](ctx, &g.Base,
		func(ctx context.Context) (transport.Transport, error) {
			return g.Factory.GetTransportForKey(ctx, g.Key, g.CacheName)
		},
		g.executeOperation,
	)
}

func (g *GetWithVersion) executeOperation(t transport.Transport) (VersionedResult, error) {
	var result VersionedResult

	status, err := sendKeyOperation(&g.Base, t, g.Key, codec.GetWithVersionRequest)
	if err != nil {
		return result, err
	}
	result.Status = status
	if status != codec.NoErrorStatus {
		return result, nil
	}

	version, err := t.ReadLong()
	if err != nil {
		return result, wrapIO(err)
	}
	result.Version = uint64(version)

	value, err := t.ReadArray()
	if err != nil {
		return result, wrapIO(err)
	}
	result.Value = value

	return result, nil
}
