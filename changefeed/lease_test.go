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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalLeaseAcceptsLegacyPartitionIDField(t *testing.T) {
	l, err := UnmarshalLease([]byte(`{"id":"x","PartitionId":"range-1","Owner":"host-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "range-1", l.Token)
	assert.Equal(t, "host-1", l.Owner)
}

func TestMarshalLeaseAlwaysWritesCurrentFieldName(t *testing.T) {
	l, err := UnmarshalLease([]byte(`{"id":"x","PartitionId":"range-1"}`))
	require.NoError(t, err)

	data, err := MarshalLease(l)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"LeaseToken":"range-1"`, "a lease loaded via the legacy field must be saved under the current field name")
	assert.NotContains(t, string(data), "PartitionId")
}

func TestMarshalLeasePrefersLeaseTokenAfterFreshCreate(t *testing.T) {
	l := &Lease{ID: "x", Token: "range-2"}
	data, err := MarshalLease(l)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"LeaseToken":"range-2"`)
	assert.NotContains(t, string(data), "PartitionId")
}

func TestLeaseIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	l := &Lease{ServerTimestamp: now.Add(-90 * time.Second).Unix()}

	assert.True(t, l.IsExpired(60*time.Second, now))
	assert.False(t, l.IsExpired(120*time.Second, now))
}

func TestLeaseTimestampPrefersExplicitOverServer(t *testing.T) {
	server := time.Unix(1000, 0).UTC()
	explicit := time.Unix(2000, 0).UTC()

	l := &Lease{ServerTimestamp: server.Unix(), ExplicitTimestamp: explicit}
	assert.Equal(t, explicit, l.Timestamp())

	l2 := &Lease{ServerTimestamp: server.Unix()}
	assert.Equal(t, server, l2.Timestamp())
}

func TestLeaseCloneDoesNotAliasProperties(t *testing.T) {
	l := &Lease{Properties: map[string]string{"k": "v"}}
	cp := l.Clone()
	cp.Properties["k"] = "mutated"
	assert.Equal(t, "v", l.Properties["k"])
}
