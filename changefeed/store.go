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

package changefeed

import (
	"context"
	"errors"
)

// ErrConcurrencyConflict is returned by a Store's ReplaceLease when the supplied concurrency token does not match the store's current
// value for that item (an OCC race lost).
var ErrConcurrencyConflict = errors.New("changefeed: concurrency token conflict")

// ErrNotFound is returned when the requested item does not exist in the
// store.
var ErrNotFound = errors.New("changefeed: item not found")

// ErrAlreadyExists is returned by CreateLease when an item with the same
// id already exists. AcquireInitLock reports a held lock as (false, nil)
// instead.
var ErrAlreadyExists = errors.New("changefeed: item already exists")

// Store is the persistence contract for the lease catalog (spec §4.A),
// implemented by changefeed/leasestore/blob (production, multi-host) and
// changefeed/leasestore/memory (single-host, tests). Every write that
// changes ownership, continuation, or properties is conditional on the
// lease's current ConcurrencyToken; the store is the sole arbiter of which
// concurrent writer wins a race.
type Store interface {
	// IsInitialized reports whether the init marker item exists.
	IsInitialized(ctx context.Context) (bool, error)

	// MarkInitialized idempotently creates the init marker item.
	MarkInitialized(ctx context.Context) error

	// AcquireInitLock creates a lock item with the given TTL, returning
	// false (not an error) if one already exists and has not expired.
	AcquireInitLock(ctx context.Context, ttlSeconds int) (bool, error)

	// ReleaseInitLock conditionally deletes the lock item previously
	// created by this process's AcquireInitLock call. Returns false if
	// this process did not hold the recorded token.
	ReleaseInitLock(ctx context.Context) (bool, error)

	// ListLeases returns every lease currently in the store.
	ListLeases(ctx context.Context) ([]*Lease, error)

	// GetLease fetches a single lease by its persisted id.
	GetLease(ctx context.Context, id string) (*Lease, error)

	// CreateLease persists a brand-new lease, failing with
	// ErrAlreadyExists if the id is taken.
	CreateLease(ctx context.Context, lease *Lease) (*Lease, error)

	// ReplaceLease conditionally overwrites a lease, failing with
	// ErrConcurrencyConflict if lease.ConcurrencyToken is stale. Returns
	// the post-write lease (with a refreshed ConcurrencyToken) on
	// success.
	ReplaceLease(ctx context.Context, lease *Lease) (*Lease, error)

	// DeleteLease unconditionally deletes a lease by id.
	DeleteLease(ctx context.Context, id string) error
}
