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

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// RangeEnumerator discovers the document store's current partition ranges
// at bootstrap time (spec §4.J) and the child ranges a split produced
// (spec §4.H). A feed.Reader's ChildRanges covers the latter; Bootstrapper
// only needs the former, kept as a separate narrow seam since it runs
// once, before any lease exists to call ChildRanges against.
type RangeEnumerator interface {
	CurrentRanges(ctx context.Context) ([]string, error)
}

// LockTTLSeconds is the init lock's TTL (spec §6 lock_time): bootstrap
// must complete within it, per spec §5.
const LockTTLSeconds = 60

// Bootstrapper ensures the lease store is seeded with one lease per
// initial partition range exactly once, idempotently across concurrent
// restarts from multiple hosts (spec §4.J, testable property 7).
type Bootstrapper struct {
	store       Store
	ranges      RangeEnumerator
	leasePrefix string
	log         logr.Logger
}

func NewBootstrapper(store Store, ranges RangeEnumerator, leasePrefix string, log logr.Logger) *Bootstrapper {
	return &Bootstrapper{
		store:       store,
		ranges:      ranges,
		leasePrefix: leasePrefix,
		log:         log.WithName("bootstrap"),
	}
}

// Run performs bootstrap, blocking until this instance either won the
// init lock and seeded the store, or observed another instance's marker
// appear while polling.
func (b *Bootstrapper) Run(ctx context.Context) error {
	initialized, err := b.store.IsInitialized(ctx)
	if err != nil {
		return fmt.Errorf("changefeed: bootstrap: check initialized: %w", err)
	}
	if initialized {
		return nil
	}

	acquired, err := b.store.AcquireInitLock(ctx, LockTTLSeconds)
	if err != nil {
		return fmt.Errorf("changefeed: bootstrap: acquire init lock: %w", err)
	}
	if !acquired {
		return b.waitForMarker(ctx)
	}
	defer func() {
		if _, err := b.store.ReleaseInitLock(ctx); err != nil {
			b.log.Error(err, "failed to release init lock")
		}
	}()

	initialized, err = b.store.IsInitialized(ctx)
	if err != nil {
		return fmt.Errorf("changefeed: bootstrap: re-check initialized after acquiring lock: %w", err)
	}
	if initialized {
		return nil
	}

	ranges, err := b.ranges.CurrentRanges(ctx)
	if err != nil {
		return fmt.Errorf("changefeed: bootstrap: enumerate ranges: %w", err)
	}

	for _, token := range ranges {
		lease := &Lease{
			ID:    newLeaseID(b.leasePrefix, token),
			Token: token,
			Mode:  LeaseModePush,
		}
		if _, err := b.store.CreateLease(ctx, lease); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue // a concurrent bootstrap already created it
			}
			return fmt.Errorf("changefeed: bootstrap: create lease for range %s: %w", token, err)
		}
	}

	if err := b.store.MarkInitialized(ctx); err != nil {
		return fmt.Errorf("changefeed: bootstrap: mark initialized: %w", err)
	}
	return nil
}

// waitForMarker polls for the init marker with exponential backoff,
// bounded by the lock's TTL (the contending instance must finish, or its
// lock expires and some instance re-attempts, within that window).
func (b *Bootstrapper) waitForMarker(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = LockTTLSeconds * time.Second
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	return backoff.Retry(func() error {
		initialized, err := b.store.IsInitialized(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("changefeed: bootstrap: poll for marker: %w", err))
		}
		if !initialized {
			return errors.New("init marker not yet present")
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
