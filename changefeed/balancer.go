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
	"math"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

// LoadBalancingStrategy decides, given the full set of leases currently in
// the store, which ones this instance should try to acquire this cycle
// (spec §4.I). Implementations must be deterministic given identical
// input (testable property 6) and must never select a lease already
// stably held by self unless it needs no action. For a self-owned lease a
// strategy does include, AddOrUpdate writes the lease's properties back
// instead of acquiring it again.
type LoadBalancingStrategy interface {
	SelectLeasesToAcquire(leases []*Lease, selfInstanceName string, now time.Time) []*Lease
}

// pushModeOnly drops pull-mode leases from consideration: only push-mode
// leases are renewed/owned by the load balancer, per the shared Store's
// data model. Pull-mode leases are read by the stand-by
// CompositeContinuation reader and never registered with a controller.
func pushModeOnly(leases []*Lease) []*Lease {
	out := make([]*Lease, 0, len(leases))
	for _, l := range leases {
		if l.Mode == LeaseModePush {
			out = append(out, l)
		}
	}
	return out
}

// EqualSpreadStrategy is the default LoadBalancingStrategy (spec §9 Open
// Question, resolved): first take unowned and expired leases, then take
// leases from hosts that own more than ceil(total/hosts)+1, capped so this
// instance takes at most ceil(total/hosts) minus the number it already
// owns in one cycle. This converges the
// fleet toward an equal spread within a finite number of cycles
// (testable property 6) without requiring any cross-instance
// coordination beyond what's already visible in the lease catalog.
type EqualSpreadStrategy struct {
	ExpirationInterval time.Duration
}

func (s EqualSpreadStrategy) SelectLeasesToAcquire(leases []*Lease, selfInstanceName string, now time.Time) []*Lease {
	leases = pushModeOnly(leases)
	if len(leases) == 0 {
		return nil
	}

	ownerCounts := make(map[string]int)
	hosts := make(map[string]struct{})
	for _, l := range leases {
		if l.Owner != "" {
			ownerCounts[l.Owner]++
			hosts[l.Owner] = struct{}{}
		}
	}
	hosts[selfInstanceName] = struct{}{}

	target := int(math.Ceil(float64(len(leases)) / float64(len(hosts))))
	selfCount := ownerCounts[selfInstanceName]
	need := target - selfCount
	if need <= 0 {
		return nil
	}

	var candidates []*Lease
	for _, l := range leases {
		if l.Owner == "" {
			candidates = append(candidates, l)
			continue
		}
		if l.Owner == selfInstanceName {
			continue
		}
		if l.IsExpired(s.ExpirationInterval, now) {
			candidates = append(candidates, l)
			continue
		}
		if ownerCounts[l.Owner] > target+1 {
			candidates = append(candidates, l)
		}
	}

	// Deterministic ordering: unowned and expired leases first (most
	// urgent to rebalance), then by token, so repeated cycles over the
	// same input make the same choice.
	sort.SliceStable(candidates, func(i, j int) bool {
		ei, ej := candidates[i].Owner == "" || candidates[i].IsExpired(s.ExpirationInterval, now), candidates[j].Owner == "" || candidates[j].IsExpired(s.ExpirationInterval, now)
		if ei != ej {
			return ei
		}
		return candidates[i].Token < candidates[j].Token
	})

	if len(candidates) > need {
		candidates = candidates[:need]
	}
	return candidates
}

// LoadBalancer periodically fetches every lease and delegates selection to
// a LoadBalancingStrategy, handing each selected lease to a Controller
// (spec §4.I).
type LoadBalancer struct {
	store      Store
	controller Controller
	strategy   LoadBalancingStrategy
	opts       *Options
	log        logr.Logger

	stop chan struct{}
	done chan struct{}
}

// NewLoadBalancer constructs a balancer over store/controller using
// strategy. Pass nil for strategy to use EqualSpreadStrategy with the
// options' ExpirationInterval.
func NewLoadBalancer(store Store, controller Controller, strategy LoadBalancingStrategy, opts *Options, log logr.Logger) *LoadBalancer {
	if strategy == nil {
		strategy = EqualSpreadStrategy{ExpirationInterval: opts.ExpirationInterval}
	}
	return &LoadBalancer{
		store:      store,
		controller: controller,
		strategy:   strategy,
		opts:       opts,
		log:        log.WithName("balancer"),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the periodic acquire loop until Stop is called or ctx is
// cancelled. It returns immediately; callers should select on Stop having
// returned (or simply always pair Start with a deferred Stop).
func (b *LoadBalancer) Start(ctx context.Context, instanceName string) {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.opts.AcquireInterval)
		defer ticker.Stop()

		b.runOnce(ctx, instanceName)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-ticker.C:
				b.runOnce(ctx, instanceName)
			}
		}
	}()
}

func (b *LoadBalancer) runOnce(ctx context.Context, instanceName string) {
	leases, err := b.store.ListLeases(ctx)
	if err != nil {
		b.log.Error(err, "failed to list leases this cycle")
		return
	}

	selected := b.strategy.SelectLeasesToAcquire(leases, instanceName, time.Now())
	for _, lease := range selected {
		// A failure on one lease must not stop the iteration (spec
		// §4.I): logged and naturally retried next cycle.
		if err := b.controller.AddOrUpdate(ctx, lease); err != nil {
			b.log.Error(err, "add_or_update failed, will retry next cycle", "range", lease.Token)
		}
	}
}

// Stop halts the periodic loop and waits for the in-flight cycle, if any,
// to finish.
func (b *LoadBalancer) Stop() {
	close(b.stop)
	<-b.done
}
