package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(0, 0)}
	s := NewMemoryStoreWithClock(c.now)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	c.advance(59 * time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, s.Expire(ctx, "k", time.Minute))
	c.advance(59 * time.Second)
	_, err = s.Get(ctx, "k")
	require.NoError(t, err, "expire must extend the deadline")

	c.advance(2 * time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Expire(ctx, "k", time.Minute), ErrNotFound)
}

func TestMemoryStore_SetNX(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(0, 0)}
	s := NewMemoryStoreWithClock(c.now)

	ok, err := s.SetNX(ctx, "k", []byte("a"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", []byte("b"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	c.advance(time.Second)
	ok, err = s.SetNX(ctx, "k", []byte("b"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be claimable")
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("mine"), 0))

	ok, err := s.CompareAndDelete(ctx, "k", []byte("theirs"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "k", []byte("mine"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Incr(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(0, 0)}
	s := NewMemoryStoreWithClock(c.now)

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "hits", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	c.advance(time.Second)
	n, err := s.Incr(ctx, "hits", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter restarts after expiry")

	require.NoError(t, s.Set(ctx, "text", []byte("abc"), 0))
	_, err = s.Incr(ctx, "text", 0)
	assert.Error(t, err)
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(NewMemoryStore(), "lock:", time.Minute)

	first, err := l.TryAcquire(ctx, "enc-1")
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "enc-1")
	assert.True(t, errors.Is(err, ErrLocked))

	other, err := l.TryAcquire(ctx, "enc-2")
	require.NoError(t, err, "locks are per name")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := l.TryAcquire(ctx, "enc-1")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_StaleReleaseDoesNotFreeNewHolder(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(0, 0)}
	l := NewLocker(NewMemoryStoreWithClock(c.now), "lock:", time.Second)

	stale, err := l.TryAcquire(ctx, "enc")
	require.NoError(t, err)
	c.advance(2 * time.Second)

	current, err := l.TryAcquire(ctx, "enc")
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	_, err = l.TryAcquire(ctx, "enc")
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, current.Release(ctx))
}

func TestLocker_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(NewMemoryStore(), "lock:", time.Minute)

	var won int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryAcquire(ctx, "same"); err == nil {
				atomic.AddInt32(&won, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won)
}
