package pool

import "time"

// evictionBurst is the cadence at which the eviction worker checks for
// cancellation while sleeping out TimeBetweenEvictionRuns, so a Close
// during a long eviction interval is observed promptly rather than after
// a single long sleep.
const evictionBurst = time.Second

// startEvictionWorker launches the maintenance goroutine when
// TimeBetweenEvictionRuns > 0. When it is non-positive, no goroutine is
// created at all.
func (p *ConnectionPool) startEvictionWorker() {
	if p.cfg.TimeBetweenEvictionRuns <= 0 {
		return
	}
	p.evictStop = make(chan struct{})
	p.evictDone = make(chan struct{})
	go p.runEvictionWorker()
}

func (p *ConnectionPool) runEvictionWorker() {
	defer close(p.evictDone)
	for {
		if p.isClosed() {
			return
		}
		p.checkIdle()
		p.testIdle()

		slept := time.Duration(0)
		for slept < p.cfg.TimeBetweenEvictionRuns {
			select {
			case <-p.evictStop:
				return
			case <-time.After(evictionBurst):
				slept += evictionBurst
			}
		}
	}
}

func (p *ConnectionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// checkIdle enforces MinIdle per endpoint by creating. Best-effort
// maintenance; a failure on one endpoint does not stop the others.
func (p *ConnectionPool) checkIdle() {
	p.mu.Lock()
	eps := make([]Endpoint, 0, len(p.endpoints))
	for ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.mu.Unlock()

	for _, ep := range eps {
		if err := p.ensureMinIdle(ep); err != nil {
			p.log.Warn().Err(err).Str("endpoint", ep.String()).Msg("eviction: ensureMinIdle failed")
		}
	}
}

// testIdle validates idle members and destroys the ones that fail.
func (p *ConnectionPool) testIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ep, slot := range p.endpoints {
		n := slot.idle.len()
		for i := 0; i < n; i++ {
			t, ok := slot.idle.poll()
			if !ok {
				break
			}
			if p.factory.ValidateObject(ep, t) {
				slot.idle.push(t)
			} else {
				p.totalIdle--
				p.destroyLocked(ep, t)
			}
		}
	}
}
