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

// Package feed defines the partition feed reader contract (spec §4.C): how
// the processor pulls pages of changes for one partition range. The
// document store's wire protocol, auth, and request-level retry are out of
// scope (spec §1) — Reader is the seam a real SDK client sits behind.
package feed

import (
	"context"
	"errors"
)

// Sentinel errors mirroring the taxonomy in spec §7, scoped to feed reads.
var (
	ErrNotModified             = errors.New("feed: not modified")
	ErrGone                    = errors.New("feed: partition key range gone")
	ErrNotFound                = errors.New("feed: resource not found")
	ErrReadSessionNotAvailable = errors.New("feed: read session not available")
	ErrNameCacheStale          = errors.New("feed: name cache is stale")
)

// StartPositionKind tags which variant of StartPosition is populated. Spec
// §9 asks for a tagged variant + function dispatch rather than a visitor
// inheritance tree.
type StartPositionKind int

const (
	StartBeginning StartPositionKind = iota
	StartTime
	StartContinuation
	StartContinuationAndRange
)

// StartPosition selects where a Reader begins pulling a range's change
// feed. Precedence when multiple fields are set by a caller assembling one
// from configuration is continuation > time > beginning (spec §6).
type StartPosition struct {
	Kind         StartPositionKind
	Time         int64  // Unix seconds, valid when Kind == StartTime
	Continuation string // valid when Kind is StartContinuation or StartContinuationAndRange
	Range        string // valid when Kind == StartContinuationAndRange
}

// Beginning returns a StartPosition that reads from the start of the feed.
func Beginning() StartPosition { return StartPosition{Kind: StartBeginning} }

// Time returns a StartPosition that reads from the first change at or
// after t (Unix seconds).
func Time(t int64) StartPosition { return StartPosition{Kind: StartTime, Time: t} }

// Continuation returns a StartPosition that resumes from an opaque ETag.
func Continuation(etag string) StartPosition {
	return StartPosition{Kind: StartContinuation, Continuation: etag}
}

// ContinuationAndRange is like Continuation but additionally pins the
// range the continuation was issued against, used by the composite
// continuation reader after a ring rotation.
func ContinuationAndRange(etag, rng string) StartPosition {
	return StartPosition{Kind: StartContinuationAndRange, Continuation: etag, Range: rng}
}

// Page is one change-feed response: zero or more items plus the new
// continuation ETag to resume from next. Items are left as raw JSON since
// parsing user documents is out of scope (spec §1).
type Page struct {
	Items        [][]byte
	Continuation string
	// SessionToken is the store's session-consistency token for this
	// response, consumed by the remaining-work estimator (spec §4.L).
	SessionToken string
}

// Reader pulls pages of changes for one partition range.
type Reader interface {
	// ReadPage fetches the next page starting from pos. maxItems is a
	// size hint (spec §6 max_items), not a hard contract.
	//
	// Errors are reported via the sentinel values in this package:
	// ErrNotModified (no new items — caller should sleep poll_interval
	// and retry from page.Continuation), ErrGone (split: fatal for this
	// reader), ErrNotFound, ErrReadSessionNotAvailable. Any other error
	// is an opaque transport/store fault the caller propagates.
	ReadPage(ctx context.Context, rng string, pos StartPosition, maxItems int) (Page, error)

	// ChildRanges returns the partition ranges that replaced rng after a
	// split was observed (ErrGone), used by the partition synchronizer
	// (spec §4.H).
	ChildRanges(ctx context.Context, rng string) ([]string, error)
}
