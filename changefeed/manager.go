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
	"fmt"
	"time"
)

// LeaseManager implements the OCC-guarded lease operations in spec §4.B on
// top of a Store. It never retries a lost race itself — callers (the
// controller, the renewer) decide what to do with ErrLeaseLost.
type LeaseManager struct {
	store        Store
	instanceName string
}

// NewLeaseManager constructs a LeaseManager bound to one instance's
// identity, stamped into Owner on every Acquire.
func NewLeaseManager(store Store, instanceName string) *LeaseManager {
	return &LeaseManager{store: store, instanceName: instanceName}
}

// Acquire attempts to take ownership of lease, bumping its timestamp and
// stamping Owner with this instance's name. It returns (nil, nil) if
// another owner won the race in between — the caller must not retry this
// lease in the current cycle (spec §4.B tie-break rule) — and
// (nil, ErrLeaseLost) is never returned from Acquire itself; ErrLeaseLost
// is reserved for Renew discovering a mid-flight conflict on a lease
// already believed owned.
func (m *LeaseManager) Acquire(ctx context.Context, lease *Lease) (*Lease, error) {
	working := lease.Clone()
	working.Owner = m.instanceName
	working.ExplicitTimestamp = time.Now().UTC()

	updated, err := m.store.ReplaceLease(ctx, working)
	if errors.Is(err, ErrConcurrencyConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("changefeed: acquire lease %s: %w", lease.ID, err)
	}
	return updated, nil
}

// Release clears ownership of lease.
func (m *LeaseManager) Release(ctx context.Context, lease *Lease) (*Lease, error) {
	working := lease.Clone()
	working.Owner = ""
	working.ExplicitTimestamp = time.Now().UTC()

	updated, err := m.store.ReplaceLease(ctx, working)
	if errors.Is(err, ErrConcurrencyConflict) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("changefeed: release lease %s: %w", lease.ID, err)
	}
	return updated, nil
}

// Renew refreshes lease's timestamp, keeping ownership. ErrLeaseLost means
// another host's Acquire won the race, or changed the owner, since the
// caller last observed this lease.
func (m *LeaseManager) Renew(ctx context.Context, lease *Lease) (*Lease, error) {
	working := lease.Clone()
	working.ExplicitTimestamp = time.Now().UTC()

	updated, err := m.store.ReplaceLease(ctx, working)
	if errors.Is(err, ErrConcurrencyConflict) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("changefeed: renew lease %s: %w", lease.ID, err)
	}
	if updated.Owner != lease.Owner {
		return nil, ErrLeaseLost
	}
	return updated, nil
}

// UpdateProperties conditionally writes lease.Properties without touching
// Owner (used when add_or_update observes a lease this instance already
// holds, per spec §4.H).
func (m *LeaseManager) UpdateProperties(ctx context.Context, lease *Lease) (*Lease, error) {
	working := lease.Clone()

	updated, err := m.store.ReplaceLease(ctx, working)
	if errors.Is(err, ErrConcurrencyConflict) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("changefeed: update properties for lease %s: %w", lease.ID, err)
	}
	return updated, nil
}

// Checkpoint conditionally writes lease.Continuation and refreshes the
// renewal timestamp, per spec §4.B / §4.D.
func (m *LeaseManager) Checkpoint(ctx context.Context, lease *Lease, continuation string) (*Lease, error) {
	working := lease.Clone()
	working.Continuation = continuation
	working.ExplicitTimestamp = time.Now().UTC()

	updated, err := m.store.ReplaceLease(ctx, working)
	if errors.Is(err, ErrConcurrencyConflict) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("changefeed: checkpoint lease %s: %w", lease.ID, err)
	}
	return updated, nil
}

// Delete unconditionally removes lease from the store (used by split
// handling once all children are created).
func (m *LeaseManager) Delete(ctx context.Context, lease *Lease) error {
	if err := m.store.DeleteLease(ctx, lease.ID); err != nil {
		return fmt.Errorf("changefeed: delete lease %s: %w", lease.ID, err)
	}
	return nil
}

// CreateChildLease persists a brand-new lease for a child range produced
// by a split, inheriting the parent's Properties (spec §4.H). The id is
// namespaced "<prefix>.lease.<token>" to match the blob store's listing
// prefix filter.
func (m *LeaseManager) CreateChildLease(ctx context.Context, leasePrefix, childToken string, properties map[string]string) (*Lease, error) {
	child := &Lease{
		ID:         leaseIDFor(leasePrefix, childToken),
		Token:      childToken,
		Properties: cloneProps(properties),
		Mode:       LeaseModePush,
	}
	created, err := m.store.CreateLease(ctx, child)
	if err != nil {
		return nil, fmt.Errorf("changefeed: create child lease for range %s: %w", childToken, err)
	}
	return created, nil
}

func leaseIDFor(prefix, token string) string {
	return fmt.Sprintf("%s.lease.%s", prefix, token)
}

func cloneProps(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// newLeaseID is used by the bootstrapper to mint ids for initial leases;
// kept distinct from leaseIDFor so initial-range ids are stable across
// bootstrap retries (keyed by range token, not a random id).
func newLeaseID(prefix, token string) string {
	return leaseIDFor(prefix, token)
}
