// Package factory provides the default TransportFactory the operation
// layer consumes: it resolves which endpoint should serve a cache name or
// key, and — as the pool's own object factory — creates, destroys,
// validates, activates and passivates Transports for a given Endpoint.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jseow5177/hotrod-pool/transport"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned by GetTransport/GetTransportForKey when the
// endpoint's breaker is open: after five consecutive failed borrows for
// that endpoint (e.g. dial errors), borrowing is skipped entirely instead
// of dialing a server that is currently down.
var ErrCircuitOpen = errors.New("factory: circuit open for endpoint")

// Selector resolves which endpoint should serve a request. A real
// deployment wires this to the server topology/consistent-hashing layer;
// this package only depends on the narrow interface below.
type Selector interface {
	// ForCacheName picks any endpoint known to serve cacheName (e.g.
	// round-robin).
	ForCacheName(cacheName []byte) (transport.Endpoint, error)
	// ForKey picks the endpoint owning key in cacheName (e.g. by
	// consistent-hash of the key).
	ForKey(key, cacheName []byte) (transport.Endpoint, error)
}

// Borrower is the subset of pool.ConnectionPool the Factory needs in
// order to turn an endpoint resolution into a leased Transport. Declared
// here (not imported from pool) so this package has no hard dependency on
// the pool's concrete type — pool.ConnectionPool satisfies it structurally.
type Borrower interface {
	BorrowObject(ctx context.Context, ep transport.Endpoint) (transport.Transport, error)
	ReturnObject(ep transport.Endpoint, t transport.Transport)
	InvalidateObject(ep transport.Endpoint, t transport.Transport)
	PreparePool(ep transport.Endpoint) error
}

// Factory is the default TransportFactory: the facade/operation-facing
// half resolves endpoints and leases transports through a Borrower (the
// connection pool); the pool-facing half (MakeObject/DestroyObject/
// ValidateObject/ActivateObject/PassivateObject) dials and tears down real
// TCP connections. The pool calls the latter; operations call the former.
type Factory struct {
	selector Selector
	pool     Borrower
	opts     transport.DialOptions

	brMu     sync.Mutex
	breakers map[transport.Endpoint]*gobreaker.CircuitBreaker
}

func New(selector Selector, pool Borrower, opts transport.DialOptions) *Factory {
	return &Factory{
		selector: selector,
		pool:     pool,
		opts:     opts,
		breakers: make(map[transport.Endpoint]*gobreaker.CircuitBreaker),
	}
}

// GetTransport resolves cacheName to an endpoint and borrows a Transport
// for it from the pool, gated by that endpoint's circuit breaker.
func (f *Factory) GetTransport(ctx context.Context, cacheName []byte) (transport.Transport, error) {
	ep, err := f.selector.ForCacheName(cacheName)
	if err != nil {
		return nil, err
	}
	return f.borrowThroughBreaker(ctx, ep)
}

// GetTransportForKey resolves (key, cacheName) to an endpoint by hash and
// borrows a Transport for it, gated by that endpoint's circuit breaker.
func (f *Factory) GetTransportForKey(ctx context.Context, key, cacheName []byte) (transport.Transport, error) {
	ep, err := f.selector.ForKey(key, cacheName)
	if err != nil {
		return nil, err
	}
	return f.borrowThroughBreaker(ctx, ep)
}

func (f *Factory) borrowThroughBreaker(ctx context.Context, ep transport.Endpoint) (transport.Transport, error) {
	cb := f.breakerFor(ep)
	v, err := cb.Execute(func() (interface{}, error) {
		return f.pool.BorrowObject(ctx, ep)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, ep)
		}
		return nil, err
	}
	return v.(transport.Transport), nil
}

func (f *Factory) breakerFor(ep transport.Endpoint) *gobreaker.CircuitBreaker {
	f.brMu.Lock()
	defer f.brMu.Unlock()
	if cb, ok := f.breakers[ep]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: ep.String(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	f.breakers[ep] = cb
	return cb
}

// ReleaseTransport returns t to the pool after a successful operation.
func (f *Factory) ReleaseTransport(t transport.Transport) {
	f.pool.ReturnObject(t.Endpoint(), t)
}

// InvalidateTransport tells the pool t is no longer usable.
func (f *Factory) InvalidateTransport(t transport.Transport) {
	f.pool.InvalidateObject(t.Endpoint(), t)
}

// UpdateServers prepares the pool for any endpoint in eps it has not seen
// yet. It is idempotent: PreparePool no-ops for endpoints already known.
func (f *Factory) UpdateServers(eps []transport.Endpoint) error {
	for _, ep := range eps {
		if err := f.pool.PreparePool(ep); err != nil {
			return err
		}
	}
	return nil
}

// MakeObject dials a fresh Transport to ep. Errors propagate untouched to
// the borrower; the pool does not adjust its counters for a creation that
// never succeeded.
func (f *Factory) MakeObject(ctx context.Context, ep transport.Endpoint) (transport.Transport, error) {
	return transport.Dial(ep, f.opts)
}

// DestroyObject closes the underlying connection. Errors here are
// swallowed-and-logged by the pool, never surfaced to a borrower.
func (f *Factory) DestroyObject(ep transport.Endpoint, t transport.Transport) error {
	if err := t.Close(); err != nil {
		return fmt.Errorf("factory: destroy %s: %w", ep, err)
	}
	return nil
}

// ValidateObject is a best-effort liveness check. There is no ping
// opcode to spend here, so validation is conservative: a Transport is
// valid as long as it is non-nil. Deployments with a ping/echo op should
// override this via a custom TransportFactory.
func (f *Factory) ValidateObject(ep transport.Endpoint, t transport.Transport) bool {
	return t != nil
}

// ActivateObject is a no-op for plain TCP transports; kept as a seam for
// factories that need to re-auth or reset per-borrow state.
func (f *Factory) ActivateObject(ep transport.Endpoint, t transport.Transport) error {
	return nil
}

// PassivateObject is a no-op for plain TCP transports; kept as a seam
// mirroring ActivateObject.
func (f *Factory) PassivateObject(ep transport.Endpoint, t transport.Transport) error {
	return nil
}
