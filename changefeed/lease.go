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

// Package changefeed implements a lease-coordinated change-feed processor:
// a host-pool worker that distributes ownership of partition ranges across
// instances, reads each range's change feed in commit order, and delivers
// batches to a user Observer at-least-once.
package changefeed

import (
	"encoding/json"
	"time"
)

// LeaseMode distinguishes a lease owned by a push-mode PartitionSupervisor
// (load-balanced, renewed, checkpointed automatically) from one used only
// by the pull-mode stand-by CompositeContinuation reader, which never
// registers ownership with the load balancer.
type LeaseMode int

const (
	LeaseModePush LeaseMode = iota
	LeaseModePull
)

// Lease represents ownership of one partition range for change-feed
// reading. It is the unit of optimistic-concurrency-controlled persistence
// in a leasestore.Store.
type Lease struct {
	// ID is the opaque persisted primary key ("<prefix>.lease.<token>" by
	// convention, but the store treats it as opaque).
	ID string

	// Token identifies the partition range. Historically persisted under
	// the field name PartitionId; loaders must accept either, savers
	// always write LeaseToken.
	Token string

	// Owner is the instance name currently holding the lease, or empty.
	Owner string

	// Continuation is the most recently accepted change-feed ETag.
	Continuation string

	// ConcurrencyToken is the store-provided OCC stamp (e.g. blob ETag),
	// refreshed by the store on every successful write.
	ConcurrencyToken string

	// ServerTimestamp is seconds since the Unix epoch as last written by
	// the store (analogous to Cosmos's _ts).
	ServerTimestamp int64

	// ExplicitTimestamp optionally overrides ServerTimestamp as the
	// renewal clock; zero means "use ServerTimestamp".
	ExplicitTimestamp time.Time

	// Properties is a user-opaque string map carried end-to-end,
	// including across a split onto child leases.
	Properties map[string]string

	// Mode distinguishes push-mode (load-balanced) from pull-mode
	// (stand-by) leases; see LeaseMode.
	Mode LeaseMode
}

// Timestamp returns the renewal clock: ExplicitTimestamp if set, else
// ServerTimestamp interpreted as a UTC instant.
func (l *Lease) Timestamp() time.Time {
	if !l.ExplicitTimestamp.IsZero() {
		return l.ExplicitTimestamp
	}
	return time.Unix(l.ServerTimestamp, 0).UTC()
}

// IsExpired reports whether the lease's renewal clock is older than age.
func (l *Lease) IsExpired(age time.Duration, now time.Time) bool {
	return now.Sub(l.Timestamp()) > age
}

// Clone returns a deep copy, so callers may mutate a working copy before
// handing it to the lease manager without aliasing Properties.
func (l *Lease) Clone() *Lease {
	cp := *l
	if l.Properties != nil {
		cp.Properties = make(map[string]string, len(l.Properties))
		for k, v := range l.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

// leaseDocument is the JSON wire shape persisted by a leasestore.Store
// implementation. Field names match spec §6 exactly.
type leaseDocument struct {
	ID                string            `json:"id"`
	ETag              string            `json:"_etag,omitempty"`
	LeaseToken        string            `json:"LeaseToken,omitempty"`
	PartitionID       string            `json:"PartitionId,omitempty"`
	Owner             string            `json:"Owner,omitempty"`
	ContinuationToken string            `json:"ContinuationToken,omitempty"`
	Timestamp         *time.Time        `json:"timestamp,omitempty"`
	ServerTS          int64             `json:"_ts,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
	Mode              int               `json:"mode,omitempty"`
}

// MarshalLease serializes a Lease to the persisted JSON wire shape,
// always writing the current LeaseToken field name (never PartitionId).
func MarshalLease(l *Lease) ([]byte, error) {
	doc := leaseDocument{
		ID:                l.ID,
		ETag:              l.ConcurrencyToken,
		LeaseToken:        l.Token,
		Owner:             l.Owner,
		ContinuationToken: l.Continuation,
		ServerTS:          l.ServerTimestamp,
		Properties:        l.Properties,
		Mode:              int(l.Mode),
	}
	if !l.ExplicitTimestamp.IsZero() {
		ts := l.ExplicitTimestamp
		doc.Timestamp = &ts
	}
	return json.Marshal(doc)
}

// UnmarshalLease parses the persisted JSON wire shape into a Lease,
// accepting either the current LeaseToken field or the legacy PartitionId
// field for the range token.
func UnmarshalLease(data []byte) (*Lease, error) {
	var doc leaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	l := &Lease{
		ID:               doc.ID,
		ConcurrencyToken: doc.ETag,
		Owner:            doc.Owner,
		Continuation:     doc.ContinuationToken,
		ServerTimestamp:  doc.ServerTS,
		Properties:       doc.Properties,
		Mode:             LeaseMode(doc.Mode),
	}
	if doc.Timestamp != nil {
		l.ExplicitTimestamp = *doc.Timestamp
	}
	if doc.LeaseToken != "" {
		l.Token = doc.LeaseToken
	} else {
		l.Token = doc.PartitionID
	}
	return l, nil
}
