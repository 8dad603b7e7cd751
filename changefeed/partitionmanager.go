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
	"fmt"

	"github.com/go-logr/logr"
)

// PartitionManager composes the Bootstrapper, Controller, and LoadBalancer
// into the single start/stop unit described in spec §4.K, and is the type
// most callers construct directly (see cmd/changefeedhost).
type PartitionManager struct {
	bootstrap  *Bootstrapper
	controller Controller
	balancer   *LoadBalancer
	opts       *Options
	log        logr.Logger
}

// NewPartitionManager wires the three components together. controller is
// accepted as the interface so callers can pass a health-monitor-wrapped
// controller without this type knowing about the decorator.
func NewPartitionManager(bootstrap *Bootstrapper, controller Controller, balancer *LoadBalancer, opts *Options, log logr.Logger) *PartitionManager {
	return &PartitionManager{
		bootstrap:  bootstrap,
		controller: controller,
		balancer:   balancer,
		opts:       opts,
		log:        log.WithName("partitionmanager"),
	}
}

// Start bootstraps the lease store, adopts this instance's previously-held
// leases, then starts the periodic load balancer (spec §4.K).
func (m *PartitionManager) Start(ctx context.Context) error {
	if err := m.bootstrap.Run(ctx); err != nil {
		return fmt.Errorf("changefeed: partition manager start: bootstrap: %w", err)
	}
	if err := m.controller.Initialize(ctx); err != nil {
		return fmt.Errorf("changefeed: partition manager start: controller initialize: %w", err)
	}
	m.balancer.Start(ctx, m.opts.InstanceName)
	return nil
}

// Stop halts the load balancer, then waits for the controller to close
// every running supervisor's observer before returning (spec §4.K, §5:
// "stop() returns only after all supervisors have closed their
// observers").
func (m *PartitionManager) Stop(ctx context.Context) {
	m.balancer.Stop()
	m.controller.Shutdown(ctx)
}
