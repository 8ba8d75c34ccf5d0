package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("kv: lock held")

// Locker hands out expiring, token-guarded locks on top of a Store.
type Locker struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// NewLocker returns a Locker whose locks expire after ttl unless released.
func NewLocker(store Store, prefix string, ttl time.Duration) *Locker {
	return &Locker{store: store, prefix: prefix, ttl: ttl}
}

// Lock is a held lock.
type Lock struct {
	l     *Locker
	key   string
	token []byte
}

// TryAcquire takes the lock for name or returns ErrLocked without waiting.
func (l *Locker) TryAcquire(ctx context.Context, name string) (*Lock, error) {
	key := l.prefix + name
	token := []byte(uuid.NewString())
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	return &Lock{l: l, key: key, token: token}, nil
}

// Release frees the lock if this holder still owns it. Releasing an expired
// or stolen lock is a no-op.
func (k *Lock) Release(ctx context.Context) error {
	if _, err := k.l.store.CompareAndDelete(ctx, k.key, k.token); err != nil {
		return fmt.Errorf("release lock %s: %w", k.key, err)
	}
	return nil
}
