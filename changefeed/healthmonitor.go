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

	"github.com/go-logr/logr"

	"github.com/Azure/azure-changefeed-go/changefeed/metrics"
)

// HealthMonitor wraps a Controller and records an Informational or Error
// record for every add_or_update outcome (spec §2.N), without changing
// the wrapped controller's behavior. It composes rather than embeds, per
// the same "decorator, not inheritance" guidance as the controller
// itself (§4.H).
type HealthMonitor struct {
	inner Controller
	log   logr.Logger
}

// NewHealthMonitor wraps inner, logging under the "healthmonitor" name.
func NewHealthMonitor(inner Controller, log logr.Logger) *HealthMonitor {
	return &HealthMonitor{inner: inner, log: log.WithName("healthmonitor")}
}

func (h *HealthMonitor) Initialize(ctx context.Context) error {
	err := h.inner.Initialize(ctx)
	if err != nil {
		metrics.IncHealthError()
		h.log.Error(err, "initialize failed")
		return err
	}
	metrics.IncHealthInformational()
	h.log.Info("initialize succeeded")
	return nil
}

func (h *HealthMonitor) AddOrUpdate(ctx context.Context, lease *Lease) error {
	err := h.inner.AddOrUpdate(ctx, lease)
	if err != nil {
		metrics.IncHealthError()
		h.log.Error(err, "add_or_update failed", "range", lease.Token)
		return err
	}
	metrics.IncHealthInformational()
	h.log.Info("add_or_update succeeded", "range", lease.Token)
	return nil
}

func (h *HealthMonitor) Shutdown(ctx context.Context) {
	h.inner.Shutdown(ctx)
	h.log.Info("shutdown complete")
}
