package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jseow5177/hotrod-pool/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a no-op Transport used purely as a pool-accounting
// handle in these tests; none of the I/O methods are exercised here.
type fakeTransport struct {
	id uuid.UUID
	ep transport.Endpoint
}

func newFakeTransport(ep transport.Endpoint) *fakeTransport {
	return &fakeTransport{id: uuid.New(), ep: ep}
}

func (f *fakeTransport) ID() uuid.UUID            { return f.id }
func (f *fakeTransport) Endpoint() transport.Endpoint { return f.ep }
func (f *fakeTransport) ReadByte() (byte, error)  { return 0, nil }
func (f *fakeTransport) ReadLong() (int64, error) { return 0, nil }
func (f *fakeTransport) ReadVInt() (uint64, error) { return 0, nil }
func (f *fakeTransport) ReadArray() ([]byte, error) { return nil, nil }
func (f *fakeTransport) WriteByte(b byte) error   { return nil }
func (f *fakeTransport) WriteLong(v int64) error  { return nil }
func (f *fakeTransport) WriteVInt(v uint64) error { return nil }
func (f *fakeTransport) WriteArray(b []byte) error { return nil }
func (f *fakeTransport) Flush() error             { return nil }
func (f *fakeTransport) Close() error             { return nil }

// fakeFactory counts lifecycle calls and lets tests fail validation once.
type fakeFactory struct {
	mu            sync.Mutex
	made          int
	destroyed     int
	failNextValidate bool
}

func (f *fakeFactory) MakeObject(ctx context.Context, ep transport.Endpoint) (transport.Transport, error) {
	f.mu.Lock()
	f.made++
	f.mu.Unlock()
	return newFakeTransport(ep), nil
}

func (f *fakeFactory) DestroyObject(ep transport.Endpoint, t transport.Transport) error {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	return nil
}

func (f *fakeFactory) ValidateObject(ep transport.Endpoint, t transport.Transport) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextValidate {
		f.failNextValidate = false
		return false
	}
	return true
}

func (f *fakeFactory) ActivateObject(ep transport.Endpoint, t transport.Transport) error   { return nil }
func (f *fakeFactory) PassivateObject(ep transport.Endpoint, t transport.Transport) error { return nil }

func (f *fakeFactory) counts() (made, destroyed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made, f.destroyed
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func ep(n int) transport.Endpoint {
	return transport.Endpoint{Host: "127.0.0.1", Port: 9000 + n}
}

// S1: preparePool grows idle to minIdle.
func TestPreparePoolGrowsToMinIdle(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 2, MaxTotal: 0}, f, nil, testLogger())

	require.NoError(t, p.PreparePool(ep(1)))

	st := p.Stats()
	assert.Equal(t, 2, st.TotalIdle)
	assert.Equal(t, 0, st.TotalActive)
	made, _ := f.counts()
	assert.Equal(t, 2, made)
}

// S2: two borrows drain idle into busy with distinct transports.
func TestBorrowObjectDrainsIdle(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 2, MaxTotal: 0}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	t1, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)
	t2, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)

	assert.NotEqual(t, t1.ID(), t2.ID())
	st := p.Stats()
	assert.Equal(t, 0, st.TotalIdle)
	assert.Equal(t, 2, st.TotalActive)
}

// S3: returning one borrowed transport restores idle/active counts.
func TestReturnObjectRestoresCounts(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 2, MaxTotal: 0}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	t1, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)
	_, err = p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)

	p.ReturnObject(ep(1), t1)

	st := p.Stats()
	assert.Equal(t, 1, st.TotalIdle)
	assert.Equal(t, 1, st.TotalActive)
}

// S4: minIdle=0, maxTotal=1, two endpoints; second borrower blocks until
// the first endpoint's return redirects capacity via allocationQueue.
func TestAllocationQueueRedirectsCapacity(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 0, MaxTotal: 1, MaxActive: -1}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))
	require.NoError(t, p.PreparePool(ep(2)))

	t1, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)

	var (
		t2  transport.Transport
		err2 error
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t2, err2 = p.BorrowObject(context.Background(), ep(2))
	}()

	// Give the second borrower time to park on the allocation queue.
	time.Sleep(50 * time.Millisecond)

	p.ReturnObject(ep(1), t1)
	wg.Wait()

	require.NoError(t, err2)
	require.NotNil(t, t2)
	assert.Equal(t, ep(2), t2.Endpoint())

	st := p.Stats()
	assert.Equal(t, 0, st.TotalIdle)
	assert.Equal(t, 1, st.TotalActive)
}

// testOnBorrow with a factory that fails validation once: borrow
// transparently produces a fresh transport.
func TestTestOnBorrowRetriesOnValidationFailure(t *testing.T) {
	f := &fakeFactory{failNextValidate: true}
	p := New(Config{MinIdle: 1, MaxTotal: 0, MaxActive: -1, TestOnBorrow: true}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	tr, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)
	require.NotNil(t, tr)

	made, destroyed := f.counts()
	assert.Equal(t, 2, made) // 1 from minIdle warmup, 1 replacement
	assert.Equal(t, 1, destroyed)
}

// Eviction worker with timeBetweenEvictionRuns = 0: no worker thread.
func TestNoEvictionWorkerWhenDisabled(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 0, TimeBetweenEvictionRuns: 0}, f, nil, testLogger())
	assert.Nil(t, p.evictStop)
	assert.Nil(t, p.evictDone)
}

func TestBorrowUnknownEndpointFails(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{}, f, nil, testLogger())
	_, err := p.BorrowObject(context.Background(), ep(99))
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestBorrowAfterCloseFails(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 1}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))
	require.NoError(t, p.Close())

	_, err := p.BorrowObject(context.Background(), ep(1))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

// Invariant: totalIdle == sum(|idle|) and totalActive == sum(|busy|) at
// every quiescent moment, exercised across a fixed borrow/return
// sequence.
func TestInvariantsHoldAcrossSequence(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 2, MaxTotal: 10, MaxActive: -1}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	var borrowed []transport.Transport
	for i := 0; i < 5; i++ {
		tr, err := p.BorrowObject(context.Background(), ep(1))
		require.NoError(t, err)
		borrowed = append(borrowed, tr)
	}
	for _, tr := range borrowed {
		p.ReturnObject(ep(1), tr)
	}

	st := p.Stats()
	p.mu.Lock()
	slot := p.endpoints[ep(1)]
	idleLen := slot.idle.len()
	busyLen := len(slot.busy)
	p.mu.Unlock()

	assert.Equal(t, idleLen, st.TotalIdle)
	assert.Equal(t, busyLen, st.TotalActive)
	assert.LessOrEqual(t, st.TotalActive+st.TotalIdle, 10)
}

func TestPreparePoolIdempotent(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 2}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))
	require.NoError(t, p.PreparePool(ep(1)))
	require.NoError(t, p.PreparePool(ep(1)))

	st := p.Stats()
	assert.Equal(t, 2, st.TotalIdle)
	made, _ := f.counts()
	assert.Equal(t, 2, made)
}

func TestInvalidateObjectDestroysAndDecrementsActive(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 1}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	tr, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)

	p.InvalidateObject(ep(1), tr)

	st := p.Stats()
	assert.Equal(t, 0, st.TotalActive)
	_, destroyed := f.counts()
	assert.Equal(t, 1, destroyed)
}

// ClearEndpoint must only drain idle, leaving busy transports returnable:
// a borrowed transport survives ClearEndpoint and ReturnObject on it still
// decrements totalActive correctly.
func TestClearEndpointPreservesBusyForLaterReturn(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 2, MaxTotal: 0}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	tr, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)

	st := p.Stats()
	assert.Equal(t, 1, st.TotalIdle)
	assert.Equal(t, 1, st.TotalActive)

	p.ClearEndpoint(ep(1))

	st = p.Stats()
	assert.Equal(t, 0, st.TotalIdle)
	assert.Equal(t, 1, st.TotalActive, "busy transport must still be tracked after ClearEndpoint")
	_, destroyed := f.counts()
	assert.Equal(t, 1, destroyed, "only the idle transport should have been destroyed")

	p.ReturnObject(ep(1), tr)

	st = p.Stats()
	assert.Equal(t, 0, st.TotalActive, "totalActive must be decremented once the borrowed transport is returned")
}

func TestClosePreventsFurtherUseAndDestroysEverything(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 3}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))
	_, err := p.BorrowObject(context.Background(), ep(1))
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.BorrowObject(context.Background(), ep(1))
	assert.ErrorIs(t, err, ErrPoolClosed)

	made, destroyed := f.counts()
	assert.Equal(t, made, destroyed)
}

func TestConcurrentBorrowReturnNoRace(t *testing.T) {
	f := &fakeFactory{}
	p := New(Config{MinIdle: 5, MaxTotal: 5}, f, nil, testLogger())
	require.NoError(t, p.PreparePool(ep(1)))

	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			tr, err := p.BorrowObject(ctx, ep(1))
			if err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}
			time.Sleep(time.Millisecond)
			p.ReturnObject(ep(1), tr)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures)
	st := p.Stats()
	assert.LessOrEqual(t, st.TotalActive+st.TotalIdle, 5)
}
