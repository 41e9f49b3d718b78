// Package lock provides short-lived mutual exclusion keyed by string.
// This is part of the platform layer and contains no business logic.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker hands out exclusive leases on keys. A lease expires after ttl even
// when its holder never releases it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is one held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu     sync.Mutex
	held   map[string]localEntry
	nowFn  func() time.Time
	nextID uint64
}

type localEntry struct {
	id        uint64
	expiresAt time.Time
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), nowFn: time.Now}
}

// Acquire takes key when it is free or its previous lease expired.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrNotAcquired
	}

	l.nextID++
	l.held[key] = localEntry{id: l.nextID, expiresAt: now.Add(ttl)}
	return &localLease{locker: l, key: key, id: l.nextID}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	id     uint64
}

func (le *localLease) Release(context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()
	if entry, ok := le.locker.held[le.key]; ok && entry.id == le.id {
		delete(le.locker.held, le.key)
	}
	return nil
}
