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
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
	"github.com/Azure/azure-changefeed-go/changefeed/feed/feedfake"
	"github.com/Azure/azure-changefeed-go/changefeed/leasestore/memory"
)

// TestPartitionControllerShutdownLeavesNoGoroutinesRunning guards the
// supervisor/processor/renewer goroutine fan-out started by AddOrUpdate:
// Shutdown must wait for every one of them to actually exit, not just for
// their owner-set entries to be removed.
func TestPartitionControllerShutdownLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	store := memory.New("test")
	created, err := store.CreateLease(ctx, &Lease{ID: "a", Token: "range-1"})
	require.NoError(t, err)
	created2, err := store.CreateLease(ctx, &Lease{ID: "b", Token: "range-2"})
	require.NoError(t, err)

	manager := NewLeaseManager(store, "host-1")
	reader := feedfake.New()
	reader.Script("range-1", feedfake.Step{Err: feed.ErrNotModified})
	reader.Script("range-2", feedfake.Step{Err: feed.ErrNotModified})
	opts, err := NewOptions("host-1", "test", WithPollInterval(time.Hour), WithRenewInterval(time.Hour), WithExpirationInterval(3*time.Hour))
	require.NoError(t, err)

	controller := NewPartitionController(store, manager, reader, newRecordingObserverFactory(), opts, logr.Discard())
	require.NoError(t, controller.AddOrUpdate(ctx, created))
	require.NoError(t, controller.AddOrUpdate(ctx, created2))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	controller.Shutdown(stopCtx)
}
