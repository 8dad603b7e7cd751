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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnerSetTryInsertGuardsAgainstDoubleAcquire(t *testing.T) {
	s := newOwnerSet()

	assert.True(t, s.tryInsert("range-1", &ownedLease{}))
	assert.False(t, s.tryInsert("range-1", &ownedLease{}), "a second insert for the same token must be refused")
	assert.True(t, s.contains("range-1"))
}

func TestOwnerSetRemoveThenReinsertSucceeds(t *testing.T) {
	s := newOwnerSet()
	require := assert.New(t)

	require.True(s.tryInsert("range-1", &ownedLease{}))
	s.remove("range-1")
	require.False(s.contains("range-1"))
	require.True(s.tryInsert("range-1", &ownedLease{}), "after removal the token is free again")
}

func TestOwnerSetTokensAndAllReflectCurrentContents(t *testing.T) {
	s := newOwnerSet()
	s.tryInsert("a", &ownedLease{})
	s.tryInsert("b", &ownedLease{})

	assert.ElementsMatch(t, []string{"a", "b"}, s.tokens())
	assert.Len(t, s.all(), 2)
}

func TestOwnerSetTryInsertIsConcurrencySafe(t *testing.T) {
	s := newOwnerSet()
	const n = 50

	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.tryInsert("contended", &ownedLease{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent tryInsert for the same token must win")
}
