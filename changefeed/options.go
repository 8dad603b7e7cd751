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
	"fmt"
	"time"

	"github.com/Azure/azure-changefeed-go/changefeed/feed"
)

// Options holds the recognized configuration for a PartitionManager (spec
// §6). Build one with NewOptions and Option funcs, in the teacher's
// functional-options idiom (see NewScaleHandler in the example pack).
type Options struct {
	InstanceName string
	LeasePrefix  string

	AcquireInterval    time.Duration
	ExpirationInterval time.Duration
	RenewInterval      time.Duration
	PollInterval       time.Duration
	MaxItems           int

	StartFromBeginning bool
	StartTime          int64
	StartContinuation  string

	CheckpointAfterNDocs    int
	CheckpointAfterInterval time.Duration

	EstimatorDegreeOfParallelism int
}

// Option mutates an Options during construction.
type Option func(*Options)

// NewOptions builds an Options with the defaults below, then applies opts
// in order. instanceName and leasePrefix are required; every other knob
// has a default matching common SDK change-feed-processor defaults.
func NewOptions(instanceName, leasePrefix string, opts ...Option) (*Options, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("changefeed: instance_name is required")
	}
	if leasePrefix == "" {
		return nil, fmt.Errorf("changefeed: lease_prefix is required")
	}

	o := &Options{
		InstanceName:                 instanceName,
		LeasePrefix:                  leasePrefix,
		AcquireInterval:              13 * time.Second,
		ExpirationInterval:           60 * time.Second,
		RenewInterval:                17 * time.Second,
		PollInterval:                 5 * time.Second,
		MaxItems:                     100,
		EstimatorDegreeOfParallelism: 1,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.ExpirationInterval <= 2*o.RenewInterval {
		return nil, fmt.Errorf("changefeed: expiration_interval (%s) must be strictly greater than 2x renew_interval (%s)", o.ExpirationInterval, o.RenewInterval)
	}
	if o.EstimatorDegreeOfParallelism < 1 {
		return nil, fmt.Errorf("changefeed: estimator_degree_of_parallelism must be >= 1")
	}
	return o, nil
}

func WithAcquireInterval(d time.Duration) Option   { return func(o *Options) { o.AcquireInterval = d } }
func WithExpirationInterval(d time.Duration) Option { return func(o *Options) { o.ExpirationInterval = d } }
func WithRenewInterval(d time.Duration) Option      { return func(o *Options) { o.RenewInterval = d } }
func WithPollInterval(d time.Duration) Option       { return func(o *Options) { o.PollInterval = d } }
func WithMaxItems(n int) Option                     { return func(o *Options) { o.MaxItems = n } }

func WithStartFromBeginning() Option { return func(o *Options) { o.StartFromBeginning = true } }
func WithStartTime(t int64) Option   { return func(o *Options) { o.StartTime = t } }
func WithStartContinuation(etag string) Option {
	return func(o *Options) { o.StartContinuation = etag }
}

func WithCheckpointAfterNDocs(n int) Option { return func(o *Options) { o.CheckpointAfterNDocs = n } }
func WithCheckpointAfterInterval(d time.Duration) Option {
	return func(o *Options) { o.CheckpointAfterInterval = d }
}

func WithEstimatorDegreeOfParallelism(n int) Option {
	return func(o *Options) { o.EstimatorDegreeOfParallelism = n }
}

// InitialStartPosition resolves the configured initial position with
// precedence continuation > time > beginning (spec §6).
func (o *Options) InitialStartPosition() feed.StartPosition {
	switch {
	case o.StartContinuation != "":
		return feed.Continuation(o.StartContinuation)
	case o.StartTime != 0:
		return feed.Time(o.StartTime)
	case o.StartFromBeginning:
		return feed.Beginning()
	default:
		return feed.Beginning()
	}
}

// shouldCheckpoint implements the auto-checkpoint decision in spec §4.E:
// checkpoint if no policy is set, or either threshold is crossed.
func (o *Options) shouldCheckpoint(docsSinceCheckpoint int, sinceLastCheckpoint time.Duration) bool {
	if o.CheckpointAfterNDocs <= 0 && o.CheckpointAfterInterval <= 0 {
		return true
	}
	if o.CheckpointAfterNDocs > 0 && docsSinceCheckpoint >= o.CheckpointAfterNDocs {
		return true
	}
	if o.CheckpointAfterInterval > 0 && sinceLastCheckpoint >= o.CheckpointAfterInterval {
		return true
	}
	return false
}
