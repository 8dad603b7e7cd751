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

// Package blob implements changefeed.Store on top of Azure Blob Storage:
// every lease, the init marker, and the init lock is one blob in a
// configured container, and the blob's ETag doubles as the lease's
// optimistic-concurrency token. This mirrors how the teacher's event-hub
// checkpoint reader (pkg/scalers/azure/azure_eventhub_checkpoint.go) reads
// per-partition checkpoint blobs from the same SDK, turned around into a
// writer with conditional-put semantics.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/Azure/azure-changefeed-go/changefeed"
)

const (
	markerSuffix = ".info"
	lockSuffix   = ".lock"
)

// Client is the subset of *azblob.Client this package needs, so tests can
// substitute a fake without standing up a real storage account.
type Client interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *azblob.ListBlobsFlatPager
}

// Store persists leases as JSON blobs inside a single container.
type Store struct {
	client    Client
	container string
	prefix    string
	now       func() time.Time
}

// New constructs a blob-backed lease store. container must already exist;
// prefix namespaces the marker, lock, and lease blob names, matching the
// lease_prefix configuration option (spec §6).
func New(client Client, container, prefix string) *Store {
	return &Store{
		client:    client,
		container: container,
		prefix:    prefix,
		now:       time.Now,
	}
}

func (s *Store) markerName() string { return s.prefix + markerSuffix }
func (s *Store) lockName() string   { return s.prefix + lockSuffix }

func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	_, err := s.client.DownloadStream(ctx, s.container, s.markerName(), nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("leasestore/blob: check marker: %w", err)
}

func (s *Store) MarkInitialized(ctx context.Context) error {
	_, err := s.client.UploadBuffer(ctx, s.container, s.markerName(), []byte(`{"id":"`+s.markerName()+`"}`), &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	if err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return fmt.Errorf("leasestore/blob: mark initialized: %w", err)
	}
	return nil
}

func (s *Store) AcquireInitLock(ctx context.Context, ttlSeconds int) (bool, error) {
	body := fmt.Sprintf(`{"id":"%s","ttl":%d}`, s.lockName(), ttlSeconds)

	resp, err := s.client.DownloadStream(ctx, s.container, s.lockName(), nil)
	if err == nil {
		if resp.LastModified != nil && s.now().Sub(*resp.LastModified) < time.Duration(ttlSeconds)*time.Second {
			return false, nil
		}
		// Lock has expired; fall through to a conditional overwrite
		// keyed on its current ETag so a concurrent racer can't both
		// succeed.
		_, err = s.client.UploadBuffer(ctx, s.container, s.lockName(), []byte(body), &azblob.UploadBufferOptions{
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: resp.ETag},
			},
		})
		if err != nil {
			if bloberror.HasCode(err, bloberror.ConditionNotMet) {
				return false, nil
			}
			return false, fmt.Errorf("leasestore/blob: steal expired init lock: %w", err)
		}
		return true, nil
	}
	if !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, fmt.Errorf("leasestore/blob: check init lock: %w", err)
	}

	_, err = s.client.UploadBuffer(ctx, s.container, s.lockName(), []byte(body), &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return false, nil
		}
		return false, fmt.Errorf("leasestore/blob: create init lock: %w", err)
	}
	return true, nil
}

func (s *Store) ReleaseInitLock(ctx context.Context) (bool, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.lockName(), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("leasestore/blob: read init lock before release: %w", err)
	}

	_, err = s.client.DeleteBlob(ctx, s.container, s.lockName(), &azblob.DeleteBlobOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: resp.ETag},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("leasestore/blob: release init lock: %w", err)
	}
	return true, nil
}

func (s *Store) ListLeases(ctx context.Context) ([]*changefeed.Lease, error) {
	var out []*changefeed.Lease

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(s.prefix + ".lease.")})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("leasestore/blob: list leases: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			lease, err := s.GetLease(ctx, *item.Name)
			if err != nil {
				if errors.Is(err, changefeed.ErrNotFound) {
					continue // deleted between list and get
				}
				return nil, err
			}
			out = append(out, lease)
		}
	}
	return out, nil
}

func (s *Store) GetLease(ctx context.Context, id string) (*changefeed.Lease, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, id, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, changefeed.ErrNotFound
		}
		return nil, fmt.Errorf("leasestore/blob: get lease %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("leasestore/blob: read lease %s: %w", id, err)
	}

	lease, err := changefeed.UnmarshalLease(data)
	if err != nil {
		return nil, fmt.Errorf("leasestore/blob: decode lease %s: %w", id, err)
	}
	if resp.ETag != nil {
		lease.ConcurrencyToken = string(*resp.ETag)
	}
	return lease, nil
}

func (s *Store) CreateLease(ctx context.Context, lease *changefeed.Lease) (*changefeed.Lease, error) {
	lease = lease.Clone()
	lease.ServerTimestamp = s.now().Unix()
	data, err := changefeed.MarshalLease(lease)
	if err != nil {
		return nil, fmt.Errorf("leasestore/blob: encode lease %s: %w", lease.ID, err)
	}

	resp, err := s.client.UploadBuffer(ctx, s.container, lease.ID, data, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return nil, changefeed.ErrAlreadyExists
		}
		return nil, fmt.Errorf("leasestore/blob: create lease %s: %w", lease.ID, err)
	}
	if resp.ETag != nil {
		lease.ConcurrencyToken = string(*resp.ETag)
	}
	return lease, nil
}

func (s *Store) ReplaceLease(ctx context.Context, lease *changefeed.Lease) (*changefeed.Lease, error) {
	lease = lease.Clone()
	lease.ServerTimestamp = s.now().Unix()
	data, err := changefeed.MarshalLease(lease)
	if err != nil {
		return nil, fmt.Errorf("leasestore/blob: encode lease %s: %w", lease.ID, err)
	}

	etag := azcore.ETag(lease.ConcurrencyToken)
	resp, err := s.client.UploadBuffer(ctx, s.container, lease.ID, data, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet) {
			return nil, changefeed.ErrConcurrencyConflict
		}
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, changefeed.ErrNotFound
		}
		return nil, fmt.Errorf("leasestore/blob: replace lease %s: %w", lease.ID, err)
	}
	if resp.ETag != nil {
		lease.ConcurrencyToken = string(*resp.ETag)
	}
	return lease, nil
}

func (s *Store) DeleteLease(ctx context.Context, id string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, id, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("leasestore/blob: delete lease %s: %w", id, err)
	}
	return nil
}
