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
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
	"github.com/Azure/azure-changefeed-go/changefeed/feed/feedfake"
	"github.com/Azure/azure-changefeed-go/changefeed/leasestore/memory"
)

type observerCloseCapture struct {
	reason CloseReason
	closed chan struct{}
}

func (o *observerCloseCapture) Open(context.Context, string) error { return nil }
func (o *observerCloseCapture) Process(context.Context, ObserverContext, [][]byte) error {
	return nil
}
func (o *observerCloseCapture) Close(_ context.Context, _ string, reason CloseReason) error {
	o.reason = reason
	close(o.closed)
	return nil
}

func TestPartitionSupervisorCancelPropagatesToRenewer(t *testing.T) {
	ctx := context.Background()
	store := memory.New("test")
	created, err := store.CreateLease(ctx, &Lease{ID: "a", Token: "range-1"})
	require.NoError(t, err)
	manager := NewLeaseManager(store, "host-1")
	owned, err := manager.Acquire(ctx, created)
	require.NoError(t, err)

	// Never-responding reader: the processor blocks on NotModified polling
	// forever unless the supervisor's outer cancellation tears it down.
	reader := feedfake.New()
	reader.Script("range-1", feedfake.Step{Err: feed.ErrNotModified})

	observer := &observerCloseCapture{closed: make(chan struct{})}
	opts, err := NewOptions("host-1", "test", WithRenewInterval(130*time.Millisecond), WithExpirationInterval(300*time.Millisecond), WithPollInterval(time.Hour))
	require.NoError(t, err)

	sup := newPartitionSupervisor(owned, manager, reader, observer, opts, logr.Discard())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sup.run(runCtx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a cooperative shutdown must not surface context.Canceled upward")
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after outer cancellation")
	}

	select {
	case <-observer.closed:
		assert.Equal(t, CloseReasonShutdown, observer.reason)
	case <-time.After(time.Second):
		t.Fatal("observer.Close was never called")
	}
}

func TestPartitionSupervisorReturnsSplitError(t *testing.T) {
	ctx := context.Background()
	store := memory.New("test")
	created, err := store.CreateLease(ctx, &Lease{ID: "a", Token: "range-1"})
	require.NoError(t, err)
	manager := NewLeaseManager(store, "host-1")
	owned, err := manager.Acquire(ctx, created)
	require.NoError(t, err)

	reader := feedfake.New()
	reader.Script("range-1", feedfake.Step{Err: feed.ErrGone})

	observer := &observerCloseCapture{closed: make(chan struct{})}
	opts, err := NewOptions("host-1", "test", WithRenewInterval(time.Hour), WithExpirationInterval(3*time.Hour))
	require.NoError(t, err)

	sup := newPartitionSupervisor(owned, manager, reader, observer, opts, logr.Discard())

	err = sup.run(ctx)
	var split *FeedSplitError
	assert.True(t, errors.As(err, &split))

	<-observer.closed
	assert.Equal(t, CloseReasonLeaseGone, observer.reason)
}
