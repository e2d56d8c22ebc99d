package operation

import (
	"context"

	"github.com/jseow5177/hotrod-pool/codec"
	"github.com/jseow5177/hotrod-pool/transport"
)

// MetadataResult is GetWithMetadata's body, decoded only when Status ==
// codec.NoErrorStatus: on any other status the server omits the payload
// fields entirely, so callers must not attempt to decode them.
type MetadataResult struct {
	Status byte

	HasFiniteLifespan bool
	Created           int64
	Lifespan          uint64

	HasFiniteMaxIdle bool
	LastUsed         int64
	MaxIdle          uint64

	Version uint64
	Value   []byte
}

// GetWithMetadata is a key-scoped read returning lifespan/max-idle/
// version metadata alongside the value.
type GetWithMetadata struct {
	Base
	Key []byte
}

func NewGetWithMetadata(b Base, key []byte) *GetWithMetadata {
	return &GetWithMetadata{Base: b, Key: key}
}

func (g *GetWithMetadata) Execute(ctx context.Context) (MetadataResult, error) {
	return execute[MetadataResult](ctx, &g.Base,
		func(ctx context.Context) (transport.Transport, error) {
			return g.Factory.GetTransportForKey(ctx, g.Key, g.CacheName)
		},
		g.executeOperation,
	)
}

func (g *GetWithMetadata) executeOperation(t transport.Transport) (MetadataResult, error) {
	var result MetadataResult

	status, err := sendKeyOperation(&g.Base, t, g.Key, codec.GetWithMetadataRequest)
	if err != nil {
		return result, err
	}
	result.Status = status
	if status != codec.NoErrorStatus {
		return result, nil
	}

	flag, err := t.ReadByte()
	if err != nil {
		return result, wrapIO(err)
	}

	if flag&codec.InfiniteLifespan == 0 {
		result.HasFiniteLifespan = true
		created, err := t.ReadLong()
		if err != nil {
			return result, wrapIO(err)
		}
		lifespan, err := t.ReadVInt()
		if err != nil {
			return result, wrapIO(err)
		}
		result.Created = created
		result.Lifespan = lifespan
	}

	if flag&codec.InfiniteMaxIdle == 0 {
		result.HasFiniteMaxIdle = true
		lastUsed, err := t.ReadLong()
		if err != nil {
			return result, wrapIO(err)
		}
		maxIdle, err := t.ReadVInt()
		if err != nil {
			return result, wrapIO(err)
		}
		result.LastUsed = lastUsed
		result.MaxIdle = maxIdle
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
