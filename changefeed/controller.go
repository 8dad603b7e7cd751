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

	"github.com/go-logr/logr"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
	"github.com/Azure/azure-changefeed-go/changefeed/metrics"
)

// Controller is the interface the load balancer drives (spec §4.H). The
// health-monitor decorator (§2.N) is a second implementation wrapping a
// PartitionController, not a subtype of it — spec §9's guidance to prefer
// composition over an inheritance tree.
type Controller interface {
	AddOrUpdate(ctx context.Context, lease *Lease) error
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// PartitionController owns the set of leases this instance currently
// holds a running supervisor for, and reacts to splits reported by one of
// them.
type PartitionController struct {
	store     Store
	manager   *LeaseManager
	reader    feed.Reader
	observers ObserverFactory
	opts      *Options
	log       logr.Logger

	owned       *ownerSet
	shutdownCtx context.Context
	shutdown    context.CancelFunc
}

// NewPartitionController wires a controller against the given store,
// feed reader, and per-range observer factory.
func NewPartitionController(store Store, manager *LeaseManager, reader feed.Reader, observers ObserverFactory, opts *Options, log logr.Logger) *PartitionController {
	ctx, cancel := context.WithCancel(context.Background())
	return &PartitionController{
		store:       store,
		manager:     manager,
		reader:      reader,
		observers:   observers,
		opts:        opts,
		log:         log.WithName("controller"),
		owned:       newOwnerSet(),
		shutdownCtx: ctx,
		shutdown:    cancel,
	}
}

// Initialize adopts leases already owned by this instance from a prior
// run (spec §4.K: "load already-owned leases from store and adopt them").
func (c *PartitionController) Initialize(ctx context.Context) error {
	leases, err := c.store.ListLeases(ctx)
	if err != nil {
		return fmt.Errorf("changefeed: controller initialize: list leases: %w", err)
	}
	for _, lease := range leases {
		if lease.Mode != LeaseModePush || lease.Owner != c.manager.instanceName {
			continue
		}
		if err := c.startSupervisor(lease); err != nil {
			c.log.Error(err, "failed to adopt previously-owned lease", "range", lease.Token)
		}
	}
	return nil
}

// AddOrUpdate is called by the load balancer for every lease it selected
// this cycle. If the token is already owned, it refreshes Properties
// in-place; otherwise it attempts to acquire the lease and, on success,
// starts a supervisor for it.
func (c *PartitionController) AddOrUpdate(ctx context.Context, lease *Lease) error {
	if lease.Mode != LeaseModePush {
		return fmt.Errorf("changefeed: range %s is a pull-mode lease, not eligible for controller ownership", lease.Token)
	}
	if c.owned.contains(lease.Token) {
		if _, err := c.manager.UpdateProperties(ctx, lease); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				c.owned.remove(lease.Token)
				return err
			}
			return fmt.Errorf("changefeed: update properties for range %s: %w", lease.Token, err)
		}
		return nil
	}

	acquired, err := c.manager.Acquire(ctx, lease)
	if err != nil {
		metrics.IncAddOrUpdateErrors(lease.Token)
		return fmt.Errorf("changefeed: acquire lease for range %s: %w", lease.Token, err)
	}
	if acquired == nil {
		// Another host won the race; spec §4.B says don't retry this
		// lease in the current cycle.
		return nil
	}
	metrics.IncAcquisitions(c.manager.instanceName)

	if err := c.startSupervisor(acquired); err != nil {
		metrics.IncAddOrUpdateErrors(lease.Token)
		return fmt.Errorf("changefeed: start supervisor for range %s: %w", lease.Token, err)
	}
	metrics.SetLeasesOwned(c.manager.instanceName, len(c.owned.all()))
	return nil
}

func (c *PartitionController) startSupervisor(lease *Lease) error {
	entry := &ownedLease{done: make(chan struct{})}
	runCtx, cancel := context.WithCancel(c.shutdownCtx)
	entry.cancel = cancel

	if !c.owned.tryInsert(lease.Token, entry) {
		cancel()
		return fmt.Errorf("range %s already has a running supervisor", lease.Token)
	}

	supervisor := newPartitionSupervisor(lease, c.manager, c.reader, c.observers(), c.opts, c.log)

	go func() {
		defer close(entry.done)
		defer cancel()

		err := supervisor.run(runCtx)
		c.owned.remove(lease.Token)
		metrics.SetLeasesOwned(c.manager.instanceName, len(c.owned.all()))

		var split *FeedSplitError
		switch {
		case err == nil:
			return
		case errors.As(err, &split):
			if handleErr := c.handleSplit(context.WithoutCancel(runCtx), lease, split); handleErr != nil {
				c.log.Error(handleErr, "split handling failed", "range", lease.Token)
			}
		default:
			c.log.Error(err, "partition supervisor ended", "range", lease.Token)
		}
	}()
	return nil
}

// handleSplit implements spec §4.H's split protocol: persist the parent's
// last continuation, discover child ranges, create one child lease per
// range inheriting the parent's properties, delete the parent, then
// add_or_update each child.
func (c *PartitionController) handleSplit(ctx context.Context, parent *Lease, split *FeedSplitError) error {
	current, err := c.store.GetLease(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("reload parent lease %s before split: %w", parent.ID, err)
	}
	current.Continuation = split.LastContinuation
	updated, err := c.manager.Checkpoint(ctx, current, split.LastContinuation)
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("persist last continuation on parent %s: %w", parent.ID, err)
	}
	if updated == nil {
		updated = current
	}

	children, err := c.reader.ChildRanges(ctx, parent.Token)
	if err != nil {
		return fmt.Errorf("discover child ranges of %s: %w", parent.Token, err)
	}
	if len(children) < 2 {
		return fmt.Errorf("range %s reported split but synchronizer returned %d child ranges", parent.Token, len(children))
	}
	metrics.IncSplits(parent.Token)

	childLeases := make([]*Lease, 0, len(children))
	for _, childToken := range children {
		child, err := c.manager.CreateChildLease(ctx, c.opts.LeasePrefix, childToken, updated.Properties)
		if err != nil {
			return fmt.Errorf("create child lease for range %s: %w", childToken, err)
		}
		childLeases = append(childLeases, child)
	}

	if err := c.manager.Delete(ctx, updated); err != nil {
		return fmt.Errorf("delete parent lease %s after split: %w", parent.ID, err)
	}

	for _, child := range childLeases {
		if err := c.AddOrUpdate(ctx, child); err != nil {
			c.log.Error(err, "add_or_update failed for child lease after split", "range", child.Token)
		}
	}
	return nil
}

// Shutdown cancels every running supervisor and waits for each to finish
// closing its observer before returning.
func (c *PartitionController) Shutdown(ctx context.Context) {
	c.shutdown()

	for _, entry := range c.owned.all() {
		select {
		case <-entry.done:
		case <-ctx.Done():
			return
		}
	}
}
