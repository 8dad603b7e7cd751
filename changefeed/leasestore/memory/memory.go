/*
Copyright 2021 The KEDA Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package memory provides an in-memory changefeed.Store. Because state
// lives in one process's heap, it only gives correct multi-writer
// semantics within a single host — it is meant for tests and single-host
// deployments, never for a fleet sharing one lease catalog (spec §9 Open
// Question).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Azure/azure-changefeed-go/changefeed"
)

const (
	markerSuffix = ".info"
	lockSuffix   = ".lock"
)

// Store is a mutex-guarded map implementing changefeed.Store.
type Store struct {
	prefix string
	now    func() time.Time

	mu         sync.Mutex
	leases     map[string]*changefeed.Lease
	marker     bool
	lockToken  string
	lockExpiry time.Time
	haveLock   bool
}

// New creates an in-memory store. prefix is recorded but does not change
// any id: leases are keyed by their ID as given. Each Store holds its own
// marker, lock, and lease map, so multiple Store instances in the same
// test process never collide.
func New(prefix string) *Store {
	return &Store{
		prefix: prefix,
		now:    time.Now,
		leases: make(map[string]*changefeed.Lease),
	}
}

func (s *Store) IsInitialized(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *Store) MarkInitialized(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = true
	return nil
}

func (s *Store) AcquireInitLock(_ context.Context, ttlSeconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.haveLock && now.Before(s.lockExpiry) {
		return false, nil
	}

	s.lockToken = uuid.NewString()
	s.lockExpiry = now.Add(time.Duration(ttlSeconds) * time.Second)
	s.haveLock = true
	return true, nil
}

func (s *Store) ReleaseInitLock(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveLock {
		return false, nil
	}
	s.haveLock = false
	s.lockToken = ""
	return true, nil
}

func (s *Store) ListLeases(_ context.Context) ([]*changefeed.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*changefeed.Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l.Clone())
	}
	return out, nil
}

func (s *Store) GetLease(_ context.Context, id string) (*changefeed.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[id]
	if !ok {
		return nil, changefeed.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *Store) CreateLease(_ context.Context, lease *changefeed.Lease) (*changefeed.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.leases[lease.ID]; exists {
		return nil, changefeed.ErrAlreadyExists
	}

	stored := lease.Clone()
	stored.ConcurrencyToken = uuid.NewString()
	stored.ServerTimestamp = s.now().Unix()
	s.leases[lease.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) ReplaceLease(_ context.Context, lease *changefeed.Lease) (*changefeed.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.leases[lease.ID]
	if !ok {
		return nil, changefeed.ErrNotFound
	}
	if current.ConcurrencyToken != lease.ConcurrencyToken {
		return nil, changefeed.ErrConcurrencyConflict
	}

	stored := lease.Clone()
	stored.ConcurrencyToken = uuid.NewString()
	stored.ServerTimestamp = s.now().Unix()
	s.leases[lease.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) DeleteLease(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leases, id)
	return nil
}
