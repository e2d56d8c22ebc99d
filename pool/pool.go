// Package pool implements ConnectionPool, a per-endpoint TCP transport
// pool: a global capacity cap, per-endpoint minimum idle warmth,
// validation on borrow/return, a cross-endpoint rebalancing policy when
// the global cap is saturated, and a blocking wait protocol when no
// connection is currently available.
package pool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jseow5177/hotrod-pool/metrics"
	"github.com/jseow5177/hotrod-pool/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const defaultUnboundedCapacity = 4096

// Endpoint re-exports transport.Endpoint so callers of this package don't
// need to import transport just to name a pool key.
type Endpoint = transport.Endpoint

// TransportFactory creates, destroys, validates, activates and
// passivates Transports for one Endpoint at a time.
type TransportFactory interface {
	MakeObject(ctx context.Context, ep transport.Endpoint) (transport.Transport, error)
	DestroyObject(ep transport.Endpoint, t transport.Transport) error
	ValidateObject(ep transport.Endpoint, t transport.Transport) bool
	ActivateObject(ep transport.Endpoint, t transport.Transport) error
	PassivateObject(ep transport.Endpoint, t transport.Transport) error
}

// perEndpointSlot holds one endpoint's idle and busy containers.
type perEndpointSlot struct {
	idle *idleQueue
	busy map[uidKey]transport.Transport
}

// uidKey identifies a pooled Transport by its stable handle rather than
// by pointer, since a Transport may be wrapped or reissued.
type uidKey = [16]byte

// ConnectionPool is a multi-tenant object pool of Transports keyed by
// server Endpoint. A single mutex guards all mutable state except the
// per-endpoint idle queues' own pop/poll, which are internally
// thread-safe.
type ConnectionPool struct {
	mu sync.Mutex

	cfg     Config
	factory TransportFactory
	log     zerolog.Logger
	metrics *metrics.Registry

	endpoints map[transport.Endpoint]*perEndpointSlot
	// allocationQueue is the cross-endpoint FIFO of blocked-borrower
	// endpoints consulted when a return frees global capacity.
	allocationQueue []transport.Endpoint
	totalIdle       int
	totalActive     int
	closed          bool

	sf singleflight.Group

	evictStop chan struct{}
	evictDone chan struct{}
}

// New constructs a ConnectionPool. reg may be nil (metrics become no-ops).
// factory may be nil at construction time to break the pool/factory
// construction cycle (the default factory.Factory needs a Borrower, i.e.
// this pool, to exist first) — callers that do this must call Rebind
// before any PreparePool/BorrowObject call. The eviction worker, if
// enabled, only starts once a factory is bound.
func New(cfg Config, factory TransportFactory, reg *metrics.Registry, log zerolog.Logger) *ConnectionPool {
	p := &ConnectionPool{
		cfg:       cfg,
		factory:   factory,
		log:       log,
		metrics:   reg,
		endpoints: make(map[transport.Endpoint]*perEndpointSlot),
	}
	if factory != nil {
		p.startEvictionWorker()
	}
	return p
}

// Rebind sets the pool's TransportFactory after construction and starts
// the eviction worker if one is configured and not already running. Used
// to complete the pool<->factory construction cycle (see New).
func (p *ConnectionPool) Rebind(f TransportFactory) {
	p.mu.Lock()
	alreadyBound := p.factory != nil
	p.factory = f
	p.mu.Unlock()
	if !alreadyBound {
		p.startEvictionWorker()
	}
}

func key(t transport.Transport) uidKey {
	return t.ID()
}

// PreparePool registers ep if new, creates its idle/busy containers, and
// grows idle up to MinIdle subject to MaxTotal. Idempotent: calling it k
// times for the same endpoint is the same as calling it once. Concurrent
// first-time calls for the same never-seen endpoint are coalesced via
// singleflight so minIdle warm-up only runs once under a thundering herd.
func (p *ConnectionPool) PreparePool(ep transport.Endpoint) error {
	p.mu.Lock()
	if _, ok := p.endpoints[ep]; ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	_, err, _ := p.sf.Do(ep.String(), func() (interface{}, error) {
		return nil, p.addObject(ep)
	})
	return err
}

func (p *ConnectionPool) idleCapacity() int {
	if !p.cfg.maxTotalUnbounded() {
		return p.cfg.MaxTotal
	}
	return defaultUnboundedCapacity
}

func (p *ConnectionPool) addObject(ep transport.Endpoint) error {
	p.mu.Lock()
	if _, ok := p.endpoints[ep]; ok {
		p.mu.Unlock()
		return nil
	}
	p.endpoints[ep] = &perEndpointSlot{
		idle: newIdleQueue(p.idleCapacity()),
		busy: make(map[uidKey]transport.Transport),
	}
	p.mu.Unlock()
	return p.ensureMinIdle(ep)
}

// ensureMinIdle grows ep's idle queue toward MinIdle, bounded by MaxTotal.
// MaxActive is intentionally not consulted here — see DESIGN.md Open
// Question 1.
func (p *ConnectionPool) ensureMinIdle(ep transport.Endpoint) error {
	p.mu.Lock()
	grown := p.calculateMinIdleGrowLocked(ep)
	p.mu.Unlock()

	for grown > 0 {
		t, err := p.factory.MakeObject(context.Background(), ep)
		if err != nil {
			// Factory errors propagate untouched; counters undisturbed.
			return err
		}
		p.mu.Lock()
		slot, ok := p.endpoints[ep]
		if !ok {
			// Endpoint was cleared concurrently; drop the freshly made
			// object rather than leak it into a container that no
			// longer exists.
			p.mu.Unlock()
			_ = p.factory.DestroyObject(ep, t)
			return nil
		}
		slot.idle.push(t)
		p.totalIdle++
		p.mu.Unlock()
		p.updateGauges(ep)
		grown--
	}
	return nil
}

func (p *ConnectionPool) calculateMinIdleGrowLocked(ep transport.Endpoint) int {
	slot, ok := p.endpoints[ep]
	if !ok {
		return 0
	}
	grown := p.cfg.MinIdle - slot.idle.len()
	if !p.cfg.maxTotalUnbounded() {
		growLimit := p.cfg.MaxTotal - p.totalIdle - p.totalActive
		if growLimit < 0 {
			growLimit = 0
		}
		if growLimit < grown {
			grown = growLimit
		}
	}
	return grown
}

func (p *ConnectionPool) hasReachedMaxTotalLocked() bool {
	return !p.cfg.maxTotalUnbounded() && p.totalActive+p.totalIdle >= p.cfg.MaxTotal
}

// tryRemoveIdle frees one global slot by destroying an idle Transport,
// preferring an endpoint whose idle queue exceeds MinIdle, falling back
// to whichever idle queue is longest. Must be called with p.mu held.
func (p *ConnectionPool) tryRemoveIdleLocked() bool {
	for {
		var victim transport.Endpoint
		found := false
		longest := -1
		for ep, slot := range p.endpoints {
			n := slot.idle.len()
			if p.cfg.MinIdle > 0 && n > p.cfg.MinIdle {
				victim = ep
				longest = n
				found = true
				break
			}
			if n > longest {
				victim = ep
				longest = n
				found = true
			}
		}
		if !found || longest <= 0 {
			return false
		}

		slot := p.endpoints[victim]
		t, ok := slot.idle.poll()
		if ok {
			p.totalIdle--
			p.destroyLocked(victim, t)
			return true
		}
		// Lost a race with a concurrent poller; yield instead of
		// busy-spinning hot and retry.
		runtime.Gosched()
	}
}

// BorrowObject returns an activated Transport for ep. It reuses a valid
// idle Transport when one is available, creates a fresh one when the
// endpoint and pool still have spare capacity, frees capacity from
// another endpoint's idle surplus when the pool is saturated, and
// otherwise blocks until a Transport is returned for this endpoint.
func (p *ConnectionPool) BorrowObject(ctx context.Context, ep transport.Endpoint) (transport.Transport, error) {
	start := time.Now()
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	slot, ok := p.endpoints[ep]
	if !ok {
		p.mu.Unlock()
		return nil, ErrUnknownEndpoint
	}

	var (
		obj   transport.Transport
		valid bool
	)
	if t, got := slot.idle.poll(); got {
		obj = t
		valid = true
		p.totalIdle--
	}

	for {
		if valid {
			if p.cfg.TestOnBorrow && !p.factory.ValidateObject(ep, obj) {
				p.destroyLocked(ep, obj)
				valid = false
			}
			if valid {
				slot.busy[key(obj)] = obj
				p.totalActive++
				break
			}
		}

		switch {
		case slot.idle.len() == 0 && (p.cfg.maxActiveUnbounded() || len(slot.busy) < p.cfg.MaxActive) && !p.hasReachedMaxTotalLocked():
			t, err := p.factory.MakeObject(ctx, ep)
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
			obj = t
		case p.hasReachedMaxTotalLocked():
			if p.tryRemoveIdleLocked() {
				t, err := p.factory.MakeObject(ctx, ep)
				if err != nil {
					p.mu.Unlock()
					return nil, err
				}
				obj = t
			} else {
				p.allocationQueue = append(p.allocationQueue, ep)
				p.mu.Unlock()
				t, err := slot.idle.pop(ctx)
				p.mu.Lock()
				if err != nil {
					p.removeFromAllocationQueueLocked(ep)
					p.mu.Unlock()
					return nil, err
				}
				obj = t
				p.totalIdle--
			}
		default:
			p.mu.Unlock()
			t, err := slot.idle.pop(ctx)
			p.mu.Lock()
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
			obj = t
			p.totalIdle--
		}
		valid = true
	}

	if err := p.factory.ActivateObject(ep, obj); err != nil {
		// Activation failed: undo the busy-side bookkeeping and destroy.
		delete(slot.busy, key(obj))
		p.totalActive--
		p.destroyLocked(ep, obj)
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	p.metrics.ObserveBorrowWaitSeconds(time.Since(start).Seconds())
	p.updateGauges(ep)
	return obj, nil
}

// ReturnObject releases t back to ep's pool after a successful operation.
func (p *ConnectionPool) ReturnObject(ep transport.Endpoint, t transport.Transport) {
	p.mu.Lock()

	maxTotalReached := p.hasReachedMaxTotalLocked()
	slot, present := p.endpoints[ep]
	if present {
		delete(slot.busy, key(t))
		p.totalActive--
	}

	keep := true
	if p.closed || (p.cfg.TestOnReturn && !p.factory.ValidateObject(ep, t)) {
		keep = false
	} else if err := p.factory.PassivateObject(ep, t); err != nil {
		p.log.Warn().Err(err).Str("endpoint", ep.String()).Msg("passivate failed")
		keep = false
	}

	// A return that frees global capacity while a waiter is parked
	// always destroys the returned object — the waiter gets a
	// brand-new Transport instead of this one.
	if p.redirectToWaiterLocked(maxTotalReached) {
		keep = false
	}

	if keep && present && slot.idle.offer(t) {
		p.totalIdle++
	} else {
		keep = false
	}

	if !keep {
		p.destroyLocked(ep, t)
	}
	p.mu.Unlock()
	p.updateGauges(ep)
}

// InvalidateObject removes t from busy and destroys it, triggering the
// same waiter-redirect logic as ReturnObject.
func (p *ConnectionPool) InvalidateObject(ep transport.Endpoint, t transport.Transport) {
	p.mu.Lock()
	maxTotalReached := p.hasReachedMaxTotalLocked()
	slot, present := p.endpoints[ep]
	if present {
		delete(slot.busy, key(t))
		p.totalActive--
	}
	p.redirectToWaiterLocked(maxTotalReached)
	p.destroyLocked(ep, t)
	p.mu.Unlock()
	p.updateGauges(ep)
}

// redirectToWaiterLocked implements the allocationQueue rebalancing
// policy shared by ReturnObject and InvalidateObject: if the global cap
// was saturated and a borrower is parked, dequeue it (FIFO) and hand its
// endpoint a brand-new Transport via idle.push instead of letting the
// returner's own endpoint reclaim the freed slot. Returns whether a
// waiter was actually consumed.
func (p *ConnectionPool) redirectToWaiterLocked(maxTotalReached bool) bool {
	if !maxTotalReached || len(p.allocationQueue) == 0 {
		return false
	}
	waiterEp := p.allocationQueue[0]
	p.allocationQueue = p.allocationQueue[1:]

	waiterSlot, ok := p.endpoints[waiterEp]
	if !ok {
		return true
	}
	t, err := p.factory.MakeObject(context.Background(), waiterEp)
	if err != nil {
		p.log.Warn().Err(err).Str("endpoint", waiterEp.String()).Msg("allocation redirect: make object failed")
		return true
	}
	waiterSlot.idle.push(t)
	p.totalIdle++
	return true
}

// removeFromAllocationQueueLocked drops one occurrence of ep from the
// allocation queue. Called when a parked borrower gives up (ctx canceled
// or timed out) before redirectToWaiterLocked ever dequeued it; without
// this the stale entry survives and a later, unrelated return would
// redirect a brand-new Transport to an endpoint with no waiter left.
// Entries are bare Endpoints with no waiter identity, so any one matching
// occurrence is as good as another — only the count of parked borrowers
// per endpoint matters.
func (p *ConnectionPool) removeFromAllocationQueueLocked(ep transport.Endpoint) {
	for i, e := range p.allocationQueue {
		if e == ep {
			p.allocationQueue = append(p.allocationQueue[:i], p.allocationQueue[i+1:]...)
			return
		}
	}
}

func (p *ConnectionPool) destroyLocked(ep transport.Endpoint, t transport.Transport) {
	if err := p.factory.DestroyObject(ep, t); err != nil {
		p.log.Warn().Err(err).Str("endpoint", ep.String()).Msg("destroy object failed")
	}
}

// Clear destroys every Transport across every endpoint, resets counters
// and forgets every endpoint, without closing the pool: a later borrow
// fails with ErrUnknownEndpoint until PreparePool registers its endpoint
// again.
func (p *ConnectionPool) Clear() {
	p.mu.Lock()
	p.clearAllLocked()
	p.mu.Unlock()
}

func (p *ConnectionPool) clearAllLocked() {
	for ep, slot := range p.endpoints {
		for {
			t, ok := slot.idle.poll()
			if !ok {
				break
			}
			p.destroyLocked(ep, t)
		}
		for id, t := range slot.busy {
			p.destroyLocked(ep, t)
			delete(slot.busy, id)
		}
	}
	p.endpoints = make(map[transport.Endpoint]*perEndpointSlot)
	p.totalIdle = 0
	p.totalActive = 0
	p.allocationQueue = nil
}

// ClearEndpoint destroys ep's idle Transports only, matching the original
// ConnectionPool::clear(key) semantics: busy transports remain on loan
// until returned or invalidated individually. The slot itself is kept
// (with its idle queue now empty) rather than deleted, so a later
// ReturnObject/InvalidateObject for one of those still-on-loan transports
// still finds p.endpoints[ep] and can decrement totalActive correctly —
// deleting the slot here would orphan that bookkeeping.
func (p *ConnectionPool) ClearEndpoint(ep transport.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.endpoints[ep]
	if !ok {
		return
	}
	n := slot.idle.len()
	for {
		t, ok := slot.idle.poll()
		if !ok {
			break
		}
		p.destroyLocked(ep, t)
	}
	p.totalIdle -= n
}

// Close sets the sticky closed flag (no borrow may win after this point),
// destroys everything, and stops the eviction worker if one is running.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.clearAllLocked()
	p.mu.Unlock()

	if p.evictStop != nil {
		close(p.evictStop)
		<-p.evictDone
	}
	return nil
}

func (p *ConnectionPool) updateGauges(ep transport.Endpoint) {
	p.mu.Lock()
	slot, ok := p.endpoints[ep]
	var idleLen, busyLen int
	if ok {
		idleLen = slot.idle.len()
		busyLen = len(slot.busy)
	}
	p.mu.Unlock()
	p.metrics.SetIdle(ep.String(), idleLen)
	p.metrics.SetActive(ep.String(), busyLen)
}

// Stats is a point-in-time snapshot used by tests and operators; it is
// not part of the hot path.
type Stats struct {
	TotalIdle   int
	TotalActive int
}

func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{TotalIdle: p.totalIdle, TotalActive: p.totalActive}
}
