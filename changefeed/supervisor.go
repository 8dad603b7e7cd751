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

	"github.com/go-logr/logr"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
)

// partitionSupervisor runs one partitionProcessor and one leaseRenewer
// concurrently for a single owned lease, with a mutual-cancel interlock:
// whichever finishes first (success, cancellation, or fault) triggers
// cancellation of the other. It opens the observer before either task
// starts and closes it, with the derived CloseReason, after both have
// stopped (spec §4.G).
type partitionSupervisor struct {
	lease    *Lease
	manager  *LeaseManager
	reader   feed.Reader
	observer Observer
	opts     *Options
	log      logr.Logger
}

func newPartitionSupervisor(lease *Lease, manager *LeaseManager, reader feed.Reader, observer Observer, opts *Options, log logr.Logger) *partitionSupervisor {
	return &partitionSupervisor{
		lease:    lease,
		manager:  manager,
		reader:   reader,
		observer: observer,
		opts:     opts,
		log:      log.WithName("supervisor").WithValues("range", lease.Token),
	}
}

// run blocks for the lifetime of this lease's processing. It returns nil
// on clean shutdown, *FeedSplitError so the controller can run the split
// protocol, or any other fault for the controller to log and drop the
// lease from its owned set.
func (s *partitionSupervisor) run(ctx context.Context) error {
	if err := s.observer.Open(ctx, s.lease.Token); err != nil {
		return &ObserverError{Cause: err}
	}

	cp := newCheckpointer(s.manager, s.lease)
	processor := newPartitionProcessor(s.lease, s.reader, s.observer, cp, s.opts, s.log)
	renewer := newLeaseRenewer(s.manager, cp, s.opts, s.log)

	// Mutual-cancel: a private cancellable context wraps the one handed
	// in, so either task finishing triggers the other's teardown without
	// affecting the caller's own cancellation semantics.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		err  error
		from string
	}
	results := make(chan result, 2)

	go func() {
		err := processor.run(runCtx)
		cancel()
		results <- result{err: err, from: "processor"}
	}()
	go func() {
		err := renewer.run(runCtx)
		cancel()
		results <- result{err: err, from: "renewer"}
	}()

	first := <-results
	second := <-results

	// Whichever task's own completion triggered the mutual cancel is the
	// one carrying the real fault; the other only observes the resulting
	// context.Canceled as a side effect and must not be allowed to mask
	// it, regardless of which of the two sends won the race.
	fault := first.err
	if isSideEffectCancellation(fault) && !isSideEffectCancellation(second.err) {
		fault = second.err
	}
	if ctx.Err() != nil {
		// Outer shutdown takes priority over whatever local fault the
		// tasks observed as a side effect of the cancellation cascade.
		fault = ctx.Err()
	}

	reason := s.reasonFor(fault)
	closeErr := s.observer.Close(context.WithoutCancel(ctx), s.lease.Token, reason)

	return s.finalError(fault, closeErr)
}

// isSideEffectCancellation reports whether err is nothing more than the
// context.Canceled a task observes when the *other* task's completion
// tore down their shared runCtx, as opposed to a fault of its own.
func isSideEffectCancellation(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func (s *partitionSupervisor) reasonFor(fault error) CloseReason {
	if errors.Is(fault, context.Canceled) {
		return CloseReasonShutdown
	}
	return closeReasonForFault(fault)
}

// finalError decides what run() propagates upward: FeedSplit is always
// re-raised so the controller can act on it; Shutdown is swallowed;
// everything else (including a Close failure, if the fault itself was
// nil) is re-raised per spec §4.G.
func (s *partitionSupervisor) finalError(fault, closeErr error) error {
	var split *FeedSplitError
	if errors.As(fault, &split) {
		return fault
	}
	if errors.Is(fault, context.Canceled) {
		return nil
	}
	if fault != nil {
		return fault
	}
	return closeErr
}
