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
	"errors"
	"fmt"
)

// Sentinel errors for the internal fault taxonomy (spec §7). Components
// compare against these with errors.Is; the supervisor maps them to a
// CloseReason.
var (
	// ErrLeaseLost is returned by the lease manager when an OCC write loses
	// a race with another owner, or by the renewer when it discovers the
	// lease changed owner underneath it.
	ErrLeaseLost = errors.New("changefeed: lease lost")

	// ErrFeedNotFound means the underlying range no longer exists.
	ErrFeedNotFound = errors.New("changefeed: feed resource not found")

	// ErrReadSessionNotAvailable means the store could not satisfy the
	// requested consistency/session guarantee for this read.
	ErrReadSessionNotAvailable = errors.New("changefeed: read session not available")

	// ErrNameCacheStale signals a one-shot local retry after a forced
	// partition-map refresh.
	ErrNameCacheStale = errors.New("changefeed: partition name cache stale")

	// ErrShutdown is not a fault; it marks cooperative cancellation.
	ErrShutdown = errors.New("changefeed: shutdown")
)

// FeedSplitError carries the continuation the processor last accepted
// before discovering that its range has split. The controller uses
// LastContinuation to seed the parent lease before invoking the partition
// synchronizer.
type FeedSplitError struct {
	LastContinuation string
}

func (e *FeedSplitError) Error() string {
	return fmt.Sprintf("changefeed: partition range gone (split), last continuation %q", e.LastContinuation)
}

// ObserverError wraps an error returned by the user's observer from its
// Open or Process call; a panic is not recovered. It is re-raised to the
// supervisor and surfaced on Close.
type ObserverError struct {
	Cause error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("changefeed: observer error: %v", e.Cause)
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// CloseReason is handed to Observer.Close, describing why processing of a
// lease's partition ended.
type CloseReason int

const (
	// CloseReasonUnknown covers any processor-task fault not otherwise
	// classified.
	CloseReasonUnknown CloseReason = iota
	CloseReasonShutdown
	CloseReasonLeaseLost
	CloseReasonLeaseGone
	CloseReasonResourceGone
	CloseReasonReadSessionNotAvailable
	CloseReasonObserverError
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "Shutdown"
	case CloseReasonLeaseLost:
		return "LeaseLost"
	case CloseReasonLeaseGone:
		return "LeaseGone"
	case CloseReasonResourceGone:
		return "ResourceGone"
	case CloseReasonReadSessionNotAvailable:
		return "ReadSessionNotAvailable"
	case CloseReasonObserverError:
		return "ObserverError"
	default:
		return "Unknown"
	}
}

// closeReasonForFault maps a fault surfaced from the processor/renewer pair
// onto the close reason table in spec §4.G. Cancellation (context.Canceled)
// must be checked by the caller before this function, since it takes
// priority over any other concurrently-observed fault.
func closeReasonForFault(err error) CloseReason {
	var split *FeedSplitError
	var observerErr *ObserverError

	switch {
	case err == nil:
		return CloseReasonUnknown
	case errors.Is(err, ErrLeaseLost):
		return CloseReasonLeaseLost
	case errors.As(err, &split):
		return CloseReasonLeaseGone
	case errors.Is(err, ErrFeedNotFound):
		return CloseReasonResourceGone
	case errors.Is(err, ErrReadSessionNotAvailable):
		return CloseReasonReadSessionNotAvailable
	case errors.As(err, &observerErr):
		return CloseReasonObserverError
	default:
		return CloseReasonUnknown
	}
}
