// Package operation implements the request/retry state machine shared by
// every cache operation, and the concrete operations built on top of it:
// Clear, GetWithMetadata, GetWithVersion.
package operation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jseow5177/hotrod-pool/codec"
	"github.com/jseow5177/hotrod-pool/factory"
	"github.com/jseow5177/hotrod-pool/metrics"
	"github.com/jseow5177/hotrod-pool/transport"
	"github.com/rs/zerolog"
)

// clientIntelligenceBasic is the wire value for "no topology-aware
// routing requested": this core does not implement hashing-based client
// intelligence, that is the job of the external topology/selector layer.
const clientIntelligenceBasic byte = 0x01

var messageIDSeq atomic.Uint64

func nextMessageID() uint64 {
	return messageIDSeq.Add(1)
}

// TransportFactory is the operation-facing view of transport acquisition:
// by cache name, by key, release, invalidate. factory.Factory satisfies
// this structurally.
type TransportFactory interface {
	GetTransport(ctx context.Context, cacheName []byte) (transport.Transport, error)
	GetTransportForKey(ctx context.Context, key, cacheName []byte) (transport.Transport, error)
	ReleaseTransport(t transport.Transport)
	InvalidateTransport(t transport.Transport)
}

// HeaderParams is the scratch record for one request/response pair,
// scoped to a single executeOperation call.
type HeaderParams struct {
	MessageID      uint64
	ExpectedOpcode codec.Opcode
	CacheName      []byte
	Flags          uint64
	TopologySnapshot int64
}

// Base is embedded by every concrete operation. It owns the retry loop
// and the header write/read/validate helpers; concrete operations supply
// their own executeOperation body and which flavor of getTransport to use.
type Base struct {
	Factory    TransportFactory
	CacheName  []byte
	Flags      uint64
	Topology   *TopologyID
	MaxRetries int
	Metrics    *metrics.Registry
	Log        zerolog.Logger
}

// writeHeader writes the request header and returns the HeaderParams the
// matching readHeaderAndValidate call needs. These params live for
// exactly one exchange; nothing here holds a resource that must be
// explicitly released on every exit path.
func (b *Base) writeHeader(t transport.Transport, reqOpcode codec.Opcode) (HeaderParams, error) {
	snapshot := b.Topology.Load()
	msgID := nextMessageID()
	params := HeaderParams{
		MessageID:      msgID,
		ExpectedOpcode: reqOpcode + 1,
		CacheName:      b.CacheName,
		Flags:          b.Flags,
		TopologySnapshot: snapshot,
	}
	err := codec.WriteRequestHeader(t, codec.RequestHeader{
		MessageID:          msgID,
		Opcode:             reqOpcode,
		CacheName:          b.CacheName,
		Flags:              b.Flags,
		ClientIntelligence: clientIntelligenceBasic,
		TopologyID:         snapshot,
	})
	return params, wrapIO(err)
}

// readHeaderAndValidate reads the response header, cross-checks message
// id and response opcode against params, and folds any piggy-backed
// topology id into b.Topology. It returns the server status byte.
func (b *Base) readHeaderAndValidate(t transport.Transport, params HeaderParams) (byte, error) {
	h, err := codec.ReadResponseHeader(t)
	if err != nil {
		if errors.Is(err, codec.ErrBadMagic) {
			return 0, fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
		}
		return 0, wrapIO(err)
	}
	if h.MessageID != params.MessageID || h.Opcode != params.ExpectedOpcode {
		return 0, fmt.Errorf("%w: got (id=%d,op=%v) want (id=%d,op=%v)",
			ErrProtocolMismatch, h.MessageID, h.Opcode, params.MessageID, params.ExpectedOpcode)
	}
	if h.HasNewTopology {
		b.Topology.UpdateIfNewer(h.NewTopologyID)
	}
	return h.Status, nil
}

// execute is the shared retry state machine: START -> ACQUIRE -> EXEC ->
// (OK | TRANSPORT_FAIL -> ACQUIRE if retries_left>0 | GIVE_UP). getTransport
// and exec are supplied by the concrete operation (e.g. by-cache-name vs
// by-key acquisition, and the operation's own body decode).
func execute[T any](ctx context.Context, b *Base, getTransport func(context.Context) (transport.Transport, error), exec func(transport.Transport) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		t, err := getTransport(ctx)
		if err != nil {
			if errors.Is(err, factory.ErrCircuitOpen) {
				lastErr = err
				b.Metrics.IncRetries()
				b.Log.Warn().Err(err).Int("attempt", attempt).Msg("circuit open, retrying")
				continue
			}
			// PoolClosed / UnknownEndpoint / other FactoryError: fatal,
			// surfaced untouched, no counter/transport to invalidate.
			return zero, err
		}

		result, execErr := exec(t)
		if execErr == nil {
			b.Factory.ReleaseTransport(t)
			return result, nil
		}

		b.Factory.InvalidateTransport(t)
		if !isRecoverable(execErr) {
			b.Log.Warn().Err(execErr).Int("attempt", attempt).Msg("non-recoverable error, giving up")
			return zero, execErr
		}
		lastErr = execErr
		b.Metrics.IncRetries()
		b.Log.Warn().Err(execErr).Int("attempt", attempt).Msg("transport failure, retrying")
	}
	b.Log.Warn().Err(lastErr).Int("attempts", b.MaxRetries+1).Msg("retries exhausted")
	return zero, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
