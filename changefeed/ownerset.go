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

import "sync"

// ownedLease is what the controller's owner set tracks for one lease
// token: the completion handle that resolves when its supervisor stops,
// and a cancel func to tear it down early (shutdown, or a failed
// add_or_update needing to drop the entry).
type ownedLease struct {
	done   chan struct{}
	cancel func()
}

// ownerSet is a concurrent insert-if-absent map from partition range token
// to its owned lease's completion handle, adapted from the teacher's
// generic reference-counted map (pkg/util/refmap.go) down to the simpler
// shape this controller needs: no reference counting, since a token has at
// most one live supervisor, but the same insert-if-absent guard that
// RefMap.Store gives by erroring on a duplicate key, which is exactly the
// guard spec §5 requires ("at most one acquisition succeeds... fast
// insert-if-absent on the token").
type ownerSet struct {
	mu   sync.Mutex
	data map[string]*ownedLease
}

func newOwnerSet() *ownerSet {
	return &ownerSet{data: make(map[string]*ownedLease)}
}

// tryInsert adds entry for token if absent, returning false without
// modifying the set if a supervisor is already tracked for token.
func (s *ownerSet) tryInsert(token string, entry *ownedLease) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[token]; exists {
		return false
	}
	s.data[token] = entry
	return true
}

func (s *ownerSet) contains(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[token]
	return ok
}

func (s *ownerSet) remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, token)
}

// tokens returns a snapshot of currently-owned tokens.
func (s *ownerSet) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// all returns a snapshot of the owned entries, for shutdown fan-in.
func (s *ownerSet) all() []*ownedLease {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ownedLease, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	return out
}
