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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-changefeed-go/changefeed"
)

func TestCreateLeaseRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := New("test")

	_, err := s.CreateLease(ctx, &changefeed.Lease{ID: "a"})
	require.NoError(t, err)

	_, err = s.CreateLease(ctx, &changefeed.Lease{ID: "a"})
	assert.ErrorIs(t, err, changefeed.ErrAlreadyExists)
}

func TestReplaceLeaseDetectsConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	s := New("test")

	created, err := s.CreateLease(ctx, &changefeed.Lease{ID: "a"})
	require.NoError(t, err)

	stale := created.Clone()
	stale.ConcurrencyToken = "not-the-current-token"
	_, err = s.ReplaceLease(ctx, stale)
	assert.ErrorIs(t, err, changefeed.ErrConcurrencyConflict)

	current := created.Clone()
	current.Owner = "host-1"
	updated, err := s.ReplaceLease(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, "host-1", updated.Owner)
	assert.NotEqual(t, created.ConcurrencyToken, updated.ConcurrencyToken)
}

func TestAcquireInitLockIsExclusiveUntilTTLExpires(t *testing.T) {
	ctx := context.Background()
	s := New("test")

	acquired, err := s.AcquireInitLock(ctx, 60)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.AcquireInitLock(ctx, 60)
	require.NoError(t, err)
	assert.False(t, acquired, "a second acquire must fail while the first lock is held")

	released, err := s.ReleaseInitLock(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	acquired, err = s.AcquireInitLock(ctx, 60)
	require.NoError(t, err)
	assert.True(t, acquired, "acquiring after release must succeed")
}

func TestListLeasesReturnsIndependentClones(t *testing.T) {
	ctx := context.Background()
	s := New("test")

	_, err := s.CreateLease(ctx, &changefeed.Lease{ID: "a", Properties: map[string]string{"k": "v"}})
	require.NoError(t, err)

	leases, err := s.ListLeases(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	leases[0].Properties["k"] = "mutated"

	leases2, err := s.ListLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", leases2[0].Properties["k"], "mutating a returned lease must not affect the store")
}

func TestGetLeaseNotFound(t *testing.T) {
	_, err := New("test").GetLease(context.Background(), "missing")
	assert.ErrorIs(t, err, changefeed.ErrNotFound)
}
