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

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
)

func TestNewOptionsRequiresInstanceNameAndLeasePrefix(t *testing.T) {
	_, err := NewOptions("", "prefix")
	assert.Error(t, err)

	_, err = NewOptions("host-1", "")
	assert.Error(t, err)
}

func TestNewOptionsRejectsExpirationNotStrictlyGreaterThanTwiceRenew(t *testing.T) {
	_, err := NewOptions("host-1", "test",
		WithRenewInterval(30*time.Second),
		WithExpirationInterval(60*time.Second))
	assert.Error(t, err, "60s == 2x30s must be rejected, not just <")

	_, err = NewOptions("host-1", "test",
		WithRenewInterval(30*time.Second),
		WithExpirationInterval(61*time.Second))
	assert.NoError(t, err)
}

func TestNewOptionsRejectsNonPositiveEstimatorParallelism(t *testing.T) {
	_, err := NewOptions("host-1", "test", WithEstimatorDegreeOfParallelism(0))
	assert.Error(t, err)

	_, err = NewOptions("host-1", "test", WithEstimatorDegreeOfParallelism(-1))
	assert.Error(t, err)
}

func TestInitialStartPositionPrecedence(t *testing.T) {
	opts, err := NewOptions("host-1", "test",
		WithStartContinuation("etag-1"),
		WithStartTime(1000),
		WithStartFromBeginning())
	require.NoError(t, err)
	assert.Equal(t, "etag-1", opts.InitialStartPosition().Continuation, "continuation must win over time and beginning")

	opts, err = NewOptions("host-1", "test",
		WithStartTime(1000),
		WithStartFromBeginning())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), opts.InitialStartPosition().Time, "time must win over beginning when no continuation is set")

	opts, err = NewOptions("host-1", "test", WithStartFromBeginning())
	require.NoError(t, err)
	assert.Equal(t, feed.StartBeginning, opts.InitialStartPosition().Kind)

	opts, err = NewOptions("host-1", "test")
	require.NoError(t, err)
	assert.Equal(t, feed.StartBeginning, opts.InitialStartPosition().Kind, "beginning is the default with no start options set")
}

func TestShouldCheckpointWithNoPolicyAlwaysCheckpoints(t *testing.T) {
	opts, err := NewOptions("host-1", "test")
	require.NoError(t, err)
	assert.True(t, opts.shouldCheckpoint(0, 0))
	assert.True(t, opts.shouldCheckpoint(1000, time.Hour))
}

func TestShouldCheckpointHonorsDocCountThreshold(t *testing.T) {
	opts, err := NewOptions("host-1", "test", WithCheckpointAfterNDocs(10))
	require.NoError(t, err)
	assert.False(t, opts.shouldCheckpoint(9, 0))
	assert.True(t, opts.shouldCheckpoint(10, 0))
}

func TestShouldCheckpointHonorsIntervalThreshold(t *testing.T) {
	opts, err := NewOptions("host-1", "test", WithCheckpointAfterInterval(time.Minute))
	require.NoError(t, err)
	assert.False(t, opts.shouldCheckpoint(0, 30*time.Second))
	assert.True(t, opts.shouldCheckpoint(0, time.Minute))
}

func TestShouldCheckpointEitherThresholdCrossedIsEnough(t *testing.T) {
	opts, err := NewOptions("host-1", "test",
		WithCheckpointAfterNDocs(100),
		WithCheckpointAfterInterval(time.Minute))
	require.NoError(t, err)
	assert.True(t, opts.shouldCheckpoint(0, time.Minute), "interval threshold alone must be enough even if doc count is far below its own threshold")
	assert.False(t, opts.shouldCheckpoint(0, time.Second))
}
