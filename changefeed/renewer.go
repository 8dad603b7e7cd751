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
	"time"

	"github.com/go-logr/logr"

	"github.com/Azure/azure-changefeed-go/changefeed/metrics"
)

// leaseRenewer periodically renews one owned lease (spec §4.F), updating
// cp's in-flight lease snapshot so the processor's next checkpoint call
// carries a fresh concurrency token.
type leaseRenewer struct {
	manager *LeaseManager
	cp      *checkpointer
	opts    *Options
	log     logr.Logger
}

func newLeaseRenewer(manager *LeaseManager, cp *checkpointer, opts *Options, log logr.Logger) *leaseRenewer {
	return &leaseRenewer{
		manager: manager,
		cp:      cp,
		opts:    opts,
		log:     log.WithName("renewer"),
	}
}

// run blocks until ctx is cancelled or renewal fails with ErrLeaseLost.
func (r *leaseRenewer) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.RenewInterval):
		}

		current := r.cp.current()
		updated, err := r.manager.Renew(ctx, current)
		if errors.Is(err, ErrLeaseLost) {
			r.log.Info("lease lost on renew", "range", current.Token)
			return ErrLeaseLost
		}
		if err != nil {
			metrics.IncRenewalErrors(current.Owner, current.Token)
			r.log.Error(err, "lease renew failed, will retry next interval", "range", current.Token)
			continue
		}
		metrics.IncRenewals(updated.Owner, updated.Token)
		r.cp.adopt(updated)
	}
}
