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
	"sync"

	"github.com/Azure/azure-changefeed-go/changefeed/metrics"
)

// ObserverContext is handed to Observer.Process, exposing the single
// operation user code needs beyond the batch itself: an explicit
// checkpoint, for observers that want tighter control than the
// auto-checkpoint policy (spec §6).
type ObserverContext interface {
	// LeaseToken identifies which partition range this batch belongs to.
	LeaseToken() string
	// Checkpoint persists continuation into the owning lease immediately,
	// ahead of the auto-checkpoint policy's next decision point.
	Checkpoint(ctx context.Context) error
}

// Observer is the user-supplied business logic consumed by a
// PartitionProcessor (spec §6). Open is called once before the first
// batch; Close is called exactly once when processing of this partition
// ends, with the reason it ended.
type Observer interface {
	Open(ctx context.Context, leaseToken string) error
	Process(ctx context.Context, octx ObserverContext, items [][]byte) error
	Close(ctx context.Context, leaseToken string, reason CloseReason) error
}

// ObserverFactory creates one Observer instance per partition range, so
// stateful observers don't need to be safe for concurrent use across
// ranges.
type ObserverFactory func() Observer

// checkpointer serializes checkpoint writes for one lease, satisfying
// spec §4.D's "must be serialized with respect to itself" requirement. It
// is not exported: callers only ever see it through ObserverContext.
type checkpointer struct {
	manager *LeaseManager
	mu      sync.Mutex
	lease   *Lease
}

func newCheckpointer(manager *LeaseManager, lease *Lease) *checkpointer {
	return &checkpointer{manager: manager, lease: lease}
}

func (c *checkpointer) Checkpoint(ctx context.Context, continuation string) (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := c.manager.Checkpoint(ctx, c.lease, continuation)
	if err != nil {
		return nil, err
	}
	c.lease = updated
	metrics.IncCheckpoints(updated.Token)
	return updated, nil
}

func (c *checkpointer) current() *Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease
}

// adopt replaces the in-flight lease snapshot with one produced by a
// concurrent renewal, so the next checkpoint carries a fresh concurrency
// token instead of racing the renewer's write.
func (c *checkpointer) adopt(lease *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lease = lease
}
