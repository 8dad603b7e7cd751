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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
)

// rangeToken is one entry of a CompositeContinuation: the range it
// belongs to and the continuation last accepted for it.
type rangeToken struct {
	Min   string `json:"min"`
	Max   string `json:"max"`
	Token string `json:"token"`
	Range string `json:"-"` // the opaque range identifier used to call feed.Reader
}

// CompositeContinuation is the ordered FIFO of (range, token) pairs used
// by the pull-mode stand-by iterator (spec §3, §4.M). The head is the
// current range; MoveNext rotates head to tail.
type CompositeContinuation struct {
	ring []rangeToken
}

// NewCompositeContinuation builds a FIFO over ranges, sorted by Min to
// match the wire format's documented ordering (spec §6).
func NewCompositeContinuation(entries []RangeContinuation) *CompositeContinuation {
	ring := make([]rangeToken, len(entries))
	for i, e := range entries {
		ring[i] = rangeToken{Min: e.Min, Max: e.Max, Token: e.Token, Range: e.Range}
	}
	sort.SliceStable(ring, func(i, j int) bool { return ring[i].Min < ring[j].Min })
	return &CompositeContinuation{ring: ring}
}

// RangeContinuation is the caller-facing view of one FIFO entry; Range is
// the opaque range id passed to feed.Reader.ReadPage, kept separate from
// Min/Max since those are only needed for serialization ordering.
type RangeContinuation struct {
	Min, Max, Token, Range string
}

var errEmptyComposite = errors.New("changefeed: composite continuation has no ranges")

// Current returns the head entry.
func (c *CompositeContinuation) Current() (RangeContinuation, error) {
	if len(c.ring) == 0 {
		return RangeContinuation{}, errEmptyComposite
	}
	return toRangeContinuation(c.ring[0]), nil
}

// MoveNext rotates the head to the tail (pop-front, push-back).
func (c *CompositeContinuation) MoveNext() {
	if len(c.ring) == 0 {
		return
	}
	head := c.ring[0]
	c.ring = append(c.ring[1:], head)
}

// ReplaceCurrent overwrites the head entry's token in place without
// rotating; the entry's range is left unchanged.
func (c *CompositeContinuation) ReplaceCurrent(token string) {
	if len(c.ring) == 0 {
		return
	}
	c.ring[0].Token = token
}

// RefreshCurrentAfterSplit replaces the head entry with its children,
// invalidating the range cache the way spec §4.M's
// get_current_with_refresh describes. children must tile the parent's
// [min,max) and each inherits the parent's last-known token as its
// starting continuation.
func (c *CompositeContinuation) RefreshCurrentAfterSplit(children []RangeContinuation) error {
	if len(c.ring) == 0 {
		return errEmptyComposite
	}
	replacement := make([]rangeToken, len(children))
	for i, ch := range children {
		replacement[i] = rangeToken{Min: ch.Min, Max: ch.Max, Token: ch.Token, Range: ch.Range}
	}
	sort.SliceStable(replacement, func(i, j int) bool { return replacement[i].Min < replacement[j].Min })

	rest := c.ring[1:]
	c.ring = append(append([]rangeToken{}, replacement...), rest...)
	return nil
}

// Len reports how many ranges are in the ring.
func (c *CompositeContinuation) Len() int { return len(c.ring) }

func toRangeContinuation(rt rangeToken) RangeContinuation {
	return RangeContinuation{Min: rt.Min, Max: rt.Max, Token: rt.Token, Range: rt.Range}
}

// Serialize renders the FIFO as the JSON array wire format in spec §6,
// preserving ring order (current entry first).
func (c *CompositeContinuation) Serialize() ([]byte, error) {
	out := make([]rangeToken, len(c.ring))
	copy(out, c.ring)
	return json.Marshal(out)
}

// ParseCompositeContinuation parses either the canonical JSON-array wire
// format or the flat single-token form a caller's MoveToNextToken-style
// serialization may still be producing (spec §6: "Also acceptable on
// ingest: the flat form").
func ParseCompositeContinuation(data []byte) (*CompositeContinuation, error) {
	var ring []rangeToken
	if err := json.Unmarshal(data, &ring); err == nil {
		return &CompositeContinuation{ring: ring}, nil
	}

	var flat struct {
		Token string `json:"token"`
		Range string `json:"range"`
	}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("changefeed: parse composite continuation: %w", err)
	}
	return &CompositeContinuation{ring: []rangeToken{{Token: flat.Token, Range: flat.Range}}}, nil
}

// PullReader drives the stand-by read API over a CompositeContinuation
// (spec §4.M read_next): it reads the current range, and on NotModified
// rotates to the next range, remembering the first range that returned
// NotModified so it can detect having gone all the way around the ring.
// It stops and returns as soon as any range returns OK, or once the ring
// completes a full lap (all NotModified) — in which case it returns the
// last NotModified response. Per spec §9's Open Question, any other
// error (including a 5xx) is surfaced unchanged rather than continuing
// the ring — matching the ambiguous-but-preserved source behavior.
type PullReader struct {
	reader  feed.Reader
	current *CompositeContinuation
}

func NewPullReader(reader feed.Reader, current *CompositeContinuation) *PullReader {
	return &PullReader{reader: reader, current: current}
}

// PullResult is one read_next response: the page read (if any), and the
// composite continuation to hand back to the caller (spec §4.M: "Always
// emits a composite continuation as the response's continuation header").
type PullResult struct {
	Page         feed.Page
	Continuation []byte
}

func (p *PullReader) ReadNext(ctx context.Context, maxItems int) (PullResult, error) {
	if p.current.Len() == 0 {
		return PullResult{}, errEmptyComposite
	}

	firstNotModifiedRange := ""
	var lastNotModified feed.Page

	for i := 0; i < p.current.Len(); i++ {
		head, err := p.current.Current()
		if err != nil {
			return PullResult{}, err
		}

		pos := feed.ContinuationAndRange(head.Token, head.Range)
		page, err := p.reader.ReadPage(ctx, head.Range, pos, maxItems)

		switch {
		case errors.Is(err, feed.ErrGone):
			children, cerr := p.reader.ChildRanges(ctx, head.Range)
			if cerr != nil {
				return PullResult{}, fmt.Errorf("changefeed: resolve split during pull read: %w", cerr)
			}
			replacements := make([]RangeContinuation, len(children))
			for j, child := range children {
				replacements[j] = RangeContinuation{Token: head.Token, Range: child}
			}
			if rerr := p.current.RefreshCurrentAfterSplit(replacements); rerr != nil {
				return PullResult{}, rerr
			}
			continue // retry from the new head, which is now a child range

		case errors.Is(err, feed.ErrNotModified):
			if firstNotModifiedRange == "" {
				firstNotModifiedRange = head.Range
			}
			p.current.ReplaceCurrent(page.Continuation)
			lastNotModified = page
			p.current.MoveNext()
			if p.current.Len() > 0 {
				next, _ := p.current.Current()
				if next.Range == firstNotModifiedRange {
					// completed a full lap
					return p.finish(lastNotModified, nil)
				}
			}
			continue

		case err != nil:
			// Spec §9 Open Question: preserve source behavior and break
			// on any other error (including a 5xx), surfaced unchanged.
			return PullResult{}, err

		default:
			p.current.ReplaceCurrent(page.Continuation)
			return p.finish(page, nil)
		}
	}

	return p.finish(lastNotModified, nil)
}

func (p *PullReader) finish(page feed.Page, err error) (PullResult, error) {
	if err != nil {
		return PullResult{}, err
	}
	data, serr := p.current.Serialize()
	if serr != nil {
		return PullResult{}, serr
	}
	return PullResult{Page: page, Continuation: data}, nil
}
