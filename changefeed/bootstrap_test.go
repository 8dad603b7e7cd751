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
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-changefeed-go/changefeed/leasestore/memory"
)

type staticRanges []string

func (s staticRanges) CurrentRanges(context.Context) ([]string, error) { return s, nil }

func TestBootstrapperSeedsOneLeasePerRange(t *testing.T) {
	ctx := context.Background()
	store := memory.New("test")
	b := NewBootstrapper(store, staticRanges{"range-1", "range-2", "range-3"}, "test", logr.Discard())

	require.NoError(t, b.Run(ctx))

	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Len(t, leases, 3)

	initialized, err := store.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)
}

func TestBootstrapperIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New("test")
	b := NewBootstrapper(store, staticRanges{"range-1", "range-2"}, "test", logr.Discard())

	require.NoError(t, b.Run(ctx))
	require.NoError(t, b.Run(ctx))

	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Len(t, leases, 2, "a second bootstrap run must not duplicate leases")
}

func TestBootstrapperSkipsWhenAlreadyInitializedByAnotherInstance(t *testing.T) {
	ctx := context.Background()
	store := memory.New("test")

	require.NoError(t, store.MarkInitialized(ctx))

	b := NewBootstrapper(store, staticRanges{"range-1"}, "test", logr.Discard())
	require.NoError(t, b.Run(ctx))

	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, leases, "bootstrap must not seed ranges once the marker already exists")
}
