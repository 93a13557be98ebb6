package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conorfennell/hoksip/internal/batch"
	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ConcurrentAcquire(t *testing.T) {
	r := NewRegistry()
	const n = 64

	var (
		wg      sync.WaitGroup
		won     atomic.Int32
		busy    atomic.Int32
		started = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-started
			mode := domain.Passive
			if i%2 == 0 {
				mode = domain.Active
			}
			_, err := r.TryAcquire("u1", "jp", mode, time.Now())
			switch err {
			case nil:
				won.Add(1)
			case ErrBusy:
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(started)
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(n-1), busy.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s, err := r.TryAcquire("u1", "jp", domain.Passive, time.Now())
	require.NoError(t, err)
	assert.Same(t, s, r.Lookup("u1"))

	r.Release("u1")
	r.Release("u1")
	r.Release("nobody")
	assert.Nil(t, r.Lookup("u1"))

	_, err = r.TryAcquire("u1", "de", domain.Active, time.Now())
	require.NoError(t, err)
}

func TestRegistry_UsersAreIndependent(t *testing.T) {
	r := NewRegistry()
	_, err := r.TryAcquire("u1", "jp", domain.Passive, time.Now())
	require.NoError(t, err)
	_, err = r.TryAcquire("u2", "jp", domain.Passive, time.Now())
	require.NoError(t, err)
	_, err = r.TryAcquire("u1", "de", domain.Active, time.Now())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, r.Sessions(), 2)
}

func TestRegistry_ReleaseSessionKeepsNewerOwner(t *testing.T) {
	r := NewRegistry()
	old, err := r.TryAcquire("u1", "jp", domain.Passive, time.Now())
	require.NoError(t, err)
	r.Release("u1")
	fresh, err := r.TryAcquire("u1", "jp", domain.Passive, time.Now())
	require.NoError(t, err)

	r.releaseSession(old)
	assert.Same(t, fresh, r.Lookup("u1"))
}

func TestRegistry_VersionsNeverRepeat(t *testing.T) {
	r := NewRegistry()
	a := r.nextVersion()
	b := r.nextVersion()
	assert.Greater(t, b, a)

	restored := &Session{UserID: "u9", version: b + 1000}
	require.True(t, r.adopt(restored))
	assert.Greater(t, r.nextVersion(), b+1000)
	assert.False(t, r.adopt(&Session{UserID: "u9"}))
}

func TestSession_SettleSkipsEmptyBatches(t *testing.T) {
	s := &Session{}
	assert.False(t, s.settle())

	s = &Session{batches: []batch.Batch{
		{},
		{Cards: []domain.Card{{ID: 1}}},
		{},
		{Cards: []domain.Card{{ID: 2}, {ID: 3}}},
	}}
	require.True(t, s.settle())
	assert.Equal(t, int64(1), s.current().ID)

	require.True(t, s.advance())
	assert.Equal(t, int64(2), s.current().ID)

	s.removeCurrent()
	require.True(t, s.settle())
	assert.Equal(t, int64(3), s.current().ID)

	assert.False(t, s.advance())
	assert.Equal(t, 4, s.batchIndex)
}
