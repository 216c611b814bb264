// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package account

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemStore is an in-memory Store. Each key has its own entry and lock, so
// operations on different keys never contend. State is lost when the process
// exits.
type MemStore struct {
	entries sync.Map // map[string]*entry
	ttl     time.Duration
	clock   clockwork.Clock

	// seq issues versions. It's shared by every key so a version is never
	// reused, even after an account is removed and put again.
	seq atomic.Uint64
}

// ensure that MemStore implements the Store interface.
var _ Store = (*MemStore)(nil)

type entry struct {
	mu        sync.Mutex
	account   *Account
	expiresAt time.Time

	// removed is set once the entry has been deleted from the map; a writer
	// holding a removed entry must load a fresh one.
	removed bool
}

// NewMemStore creates a new in-memory Store.
//
//	Supports the options:
//	 * WithTTL
//	 * WithClock
func NewMemStore(opt ...Option) (*MemStore, error) {
	const op = "account.NewMemStore"
	opts := getStoreOpts(opt...)
	if opts.withTTL < 0 {
		return nil, fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	return &MemStore{
		ttl:   opts.withTTL,
		clock: opts.withClock,
	}, nil
}

// Put implements the Store.Put() interface function.
func (s *MemStore) Put(ctx context.Context, a *Account) error {
	const op = "MemStore.Put"
	if a == nil {
		return fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	if a.Key == "" {
		return fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for {
		e := s.loadOrStore(a.Key)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		now := s.clock.Now()
		stored := a.Clone()
		stored.CreatedAt = now
		if live := e.live(now); live != nil {
			stored.CreatedAt = live.CreatedAt
		}
		stored.Version = s.seq.Add(1)
		stored.UpdatedAt = now
		e.account = stored
		if s.ttl > 0 {
			e.expiresAt = now.Add(s.ttl)
		}
		a.Version, a.CreatedAt, a.UpdatedAt = stored.Version, stored.CreatedAt, stored.UpdatedAt
		e.mu.Unlock()
		return nil
	}
}

// Get implements the Store.Get() interface function.
func (s *MemStore) Get(ctx context.Context, key string) (*Account, error) {
	const op = "MemStore.Get"
	if key == "" {
		return nil, fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.live(s.clock.Now())
	if a == nil {
		if e.account != nil {
			// expired
			s.evict(key, e)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return a.Clone(), nil
}

// Remove implements the Store.Remove() interface function.
func (s *MemStore) Remove(ctx context.Context, key string) error {
	const op = "MemStore.Remove"
	if key == "" {
		return fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.evict(key, e)
	return nil
}

// UpdateCredential implements the Store.UpdateCredential() interface function.
func (s *MemStore) UpdateCredential(ctx context.Context, key string, version uint64, c *Credential) (*Account, error) {
	const op = "MemStore.UpdateCredential"
	if key == "" {
		return nil, fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	if c == nil {
		return nil, fmt.Errorf("%s: credential is nil: %w", op, ErrNilParameter)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.clock.Now()
	a := e.live(now)
	if a == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if a.Version != version {
		return nil, fmt.Errorf("%s: stored version %d, expected %d: %w", op, a.Version, version, ErrVersionConflict)
	}
	a.Credential = c.Clone()
	a.Version = s.seq.Add(1)
	a.UpdatedAt = now
	return a.Clone(), nil
}

// evict is called with e.mu held.
func (s *MemStore) evict(key string, e *entry) {
	e.removed = true
	e.account = nil
	s.entries.CompareAndDelete(key, e)
}

func (s *MemStore) loadOrStore(key string) *entry {
	v, _ := s.entries.LoadOrStore(key, &entry{})
	return v.(*entry)
}

// live returns the stored account unless it's missing or expired. It's
// called with e.mu held.
func (e *entry) live(now time.Time) *Account {
	if e.account == nil {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		return nil
	}
	return e.account
}
