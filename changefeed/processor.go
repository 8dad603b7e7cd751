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

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
)

// partitionProcessor runs the read-observe-checkpoint loop of spec §4.E
// for one owned lease, until ctx is cancelled or a fault terminates it.
type partitionProcessor struct {
	lease    *Lease
	reader   feed.Reader
	observer Observer
	cp       *checkpointer
	opts     *Options
	log      logr.Logger
}

func newPartitionProcessor(lease *Lease, reader feed.Reader, observer Observer, cp *checkpointer, opts *Options, log logr.Logger) *partitionProcessor {
	return &partitionProcessor{
		lease:    lease,
		reader:   reader,
		observer: observer,
		cp:       cp,
		opts:     opts,
		log:      log.WithName("processor").WithValues("range", lease.Token),
	}
}

// run blocks until ctx is cancelled or a fault occurs. The returned error
// is one of: ctx.Err() (context.Canceled is mapped by the supervisor to
// Shutdown), ErrFeedNotFound, ErrReadSessionNotAvailable, a
// *FeedSplitError, a *ObserverError, the error of a failed checkpoint
// (ErrLeaseLost on a lost race), or any other reader error unchanged.
func (p *partitionProcessor) run(ctx context.Context) error {
	pos := p.initialPosition()
	docsSinceCheckpoint := 0
	lastCheckpoint := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := p.reader.ReadPage(ctx, p.lease.Token, pos, p.opts.MaxItems)
		switch {
		case errors.Is(err, feed.ErrNotModified):
			pos = feed.Continuation(page.Continuation)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.PollInterval):
			}
			continue

		case errors.Is(err, feed.ErrGone):
			return &FeedSplitError{LastContinuation: pos.Continuation}

		case errors.Is(err, feed.ErrNotFound):
			return ErrFeedNotFound

		case errors.Is(err, feed.ErrReadSessionNotAvailable):
			return ErrReadSessionNotAvailable

		case errors.Is(err, feed.ErrNameCacheStale):
			// one-shot local retry after a forced refresh (spec §7);
			// the reader is responsible for refreshing its own cache
			// on the next call, so simply retry once from the same
			// position.
			page, err = p.reader.ReadPage(ctx, p.lease.Token, pos, p.opts.MaxItems)
			if err != nil {
				return err
			}

		case err != nil:
			return err
		}

		octx := &observerContext{token: p.lease.Token, cp: p.cp, continuation: page.Continuation}
		if procErr := p.observer.Process(ctx, octx, page.Items); procErr != nil {
			return &ObserverError{Cause: procErr}
		}

		pos = feed.Continuation(page.Continuation)
		docsSinceCheckpoint += len(page.Items)

		if p.opts.shouldCheckpoint(docsSinceCheckpoint, time.Since(lastCheckpoint)) {
			if _, err := p.cp.Checkpoint(ctx, page.Continuation); err != nil {
				return err
			}
			docsSinceCheckpoint = 0
			lastCheckpoint = time.Now()
		}
	}
}

func (p *partitionProcessor) initialPosition() feed.StartPosition {
	if p.lease.Continuation != "" {
		return feed.Continuation(p.lease.Continuation)
	}
	return p.opts.InitialStartPosition()
}

// observerContext is the concrete ObserverContext handed to Observer.Process.
type observerContext struct {
	token        string
	cp           *checkpointer
	continuation string
}

func (o *observerContext) LeaseToken() string { return o.token }

func (o *observerContext) Checkpoint(ctx context.Context) error {
	_, err := o.cp.Checkpoint(ctx, o.continuation)
	return err
}
