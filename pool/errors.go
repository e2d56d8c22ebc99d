package pool

import "errors"

// Sentinel errors returned by ConnectionPool, as a flat var block rather
// than custom error types.
var (
	// ErrPoolClosed is returned by BorrowObject once Close has run.
	ErrPoolClosed = errors.New("hotrodpool: pool is closed")

	// ErrUnknownEndpoint is returned by BorrowObject for an endpoint that
	// was never registered via PreparePool.
	ErrUnknownEndpoint = errors.New("hotrodpool: no idle or busy queue for endpoint")
)
