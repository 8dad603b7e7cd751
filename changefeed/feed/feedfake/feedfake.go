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

// Package feedfake provides a scriptable feed.Reader for tests, so
// processor/supervisor/estimator behavior can be driven deterministically
// without a real document store.
package feedfake

import (
	"context"
	"sync"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
)

// Step is one scripted response for a range. Err, when non-nil, is
// returned verbatim from ReadPage (typically one of the feed sentinel
// errors).
type Step struct {
	Page feed.Page
	Err  error
}

// Reader replays a fixed script of Steps per range, one per call, then
// repeats the final step forever. It also records every position it was
// asked to read from, for assertions.
type Reader struct {
	mu       sync.Mutex
	scripts  map[string][]Step
	cursors  map[string]int
	children map[string][]string
	calls    []Call
}

// Call records one ReadPage invocation.
type Call struct {
	Range string
	Pos   feed.StartPosition
}

// New constructs an empty fake; use Script to program per-range responses.
func New() *Reader {
	return &Reader{
		scripts:  make(map[string][]Step),
		cursors:  make(map[string]int),
		children: make(map[string][]string),
	}
}

// Script registers the sequence of Steps ReadPage will return for rng.
func (r *Reader) Script(rng string, steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[rng] = steps
}

// SetChildren registers the ranges ChildRanges should return for rng.
func (r *Reader) SetChildren(rng string, children []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children[rng] = children
}

// Calls returns every recorded ReadPage invocation in order.
func (r *Reader) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *Reader) ReadPage(_ context.Context, rng string, pos feed.StartPosition, _ int) (feed.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Range: rng, Pos: pos})

	steps := r.scripts[rng]
	if len(steps) == 0 {
		return feed.Page{Continuation: pos.Continuation}, feed.ErrNotModified
	}

	idx := r.cursors[rng]
	if idx >= len(steps) {
		idx = len(steps) - 1
	} else {
		r.cursors[rng] = idx + 1
	}
	step := steps[idx]
	return step.Page, step.Err
}

func (r *Reader) ChildRanges(_ context.Context, rng string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.children[rng], nil
}
