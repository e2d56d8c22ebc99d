// Package hotrodpool is the thin cache facade wiring the pool, factory
// and operation packages together. A real deployment's full get/put API,
// config parsing and topology discovery are expected to live on top of
// this as external collaborators.
package hotrodpool

import (
	"context"
	"hash/fnv"

	"github.com/jseow5177/hotrod-pool/config"
	"github.com/jseow5177/hotrod-pool/factory"
	"github.com/jseow5177/hotrod-pool/metrics"
	"github.com/jseow5177/hotrod-pool/operation"
	"github.com/jseow5177/hotrod-pool/pool"
	"github.com/jseow5177/hotrod-pool/transport"
	"github.com/rs/zerolog"
)

// Client is a thin wiring struct holding the pool and the pieces
// operations need to run.
type Client struct {
	pool    *pool.ConnectionPool
	factory *factory.Factory
	cfg     config.ClientConfig
	topo    *operation.TopologyID
	metrics *metrics.Registry
	log     zerolog.Logger
}

// roundRobinSelector is a minimal, in-core stand-in for an external
// topology/consistent-hashing layer: it round-robins across the
// configured servers for cache-name lookups and hashes the key for
// key-bound lookups.
type roundRobinSelector struct {
	servers []transport.Endpoint
	next    int
}

func (s *roundRobinSelector) ForCacheName(cacheName []byte) (transport.Endpoint, error) {
	if len(s.servers) == 0 {
		return transport.Endpoint{}, factory.ErrCircuitOpen // no servers configured at all
	}
	ep := s.servers[s.next%len(s.servers)]
	s.next++
	return ep, nil
}

func (s *roundRobinSelector) ForKey(key, cacheName []byte) (transport.Endpoint, error) {
	if len(s.servers) == 0 {
		return transport.Endpoint{}, factory.ErrCircuitOpen
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	idx := int(h.Sum32()) % len(s.servers)
	if idx < 0 {
		idx += len(s.servers)
	}
	return s.servers[idx], nil
}

// New builds a Client: constructs the pool and factory, prepares every
// configured server endpoint, and returns a ready-to-use facade.
func New(cfg config.ClientConfig, log zerolog.Logger, reg *metrics.Registry) (*Client, error) {
	selector := &roundRobinSelector{servers: cfg.Pool.Servers}

	p := pool.New(cfg.Pool.Pool, nil, reg, log) // factory wired in just below
	f := factory.New(selector, p, transport.DialOptions{
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		ReadTimeout:    cfg.Transport.ReadTimeout,
		WriteTimeout:   cfg.Transport.WriteTimeout,
	})
	// The pool calls back into f for object lifecycle, and f calls into p
	// to borrow/return/invalidate — wire the cyclic reference now that
	// both exist. See pool.New for why this two-step exists.
	p.Rebind(f)

	for _, ep := range cfg.Pool.Servers {
		if err := p.PreparePool(ep); err != nil {
			return nil, err
		}
	}

	return &Client{
		pool:    p,
		factory: f,
		cfg:     cfg,
		topo:    operation.NewTopologyID(-1),
		metrics: reg,
		log:     log,
	}, nil
}

func (c *Client) base() operation.Base {
	return operation.Base{
		Factory:    c.factory,
		CacheName:  c.cfg.CacheName,
		Topology:   c.topo,
		MaxRetries: c.cfg.MaxRetries,
		Metrics:    c.metrics,
		Log:        c.log,
	}
}

// Clear wipes the configured cache on whichever server currently serves it.
func (c *Client) Clear(ctx context.Context) (byte, error) {
	return operation.NewClear(c.base()).Execute(ctx)
}

// GetWithMetadata fetches key's value with lifespan/max-idle/version
// metadata.
func (c *Client) GetWithMetadata(ctx context.Context, key []byte) (operation.MetadataResult, error) {
	return operation.NewGetWithMetadata(c.base(), key).Execute(ctx)
}

// GetVersioned fetches key's value along with its version.
func (c *Client) GetVersioned(ctx context.Context, key []byte) (operation.VersionedResult, error) {
	return operation.NewGetWithVersion(c.base(), key).Execute(ctx)
}

// Close tears down the pool and every pooled transport.
func (c *Client) Close() error {
	return c.pool.Close()
}

// Stats exposes a point-in-time snapshot of pool occupancy.
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}
