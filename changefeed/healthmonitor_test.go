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
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

type stubController struct {
	initializeErr  error
	addOrUpdateErr error
	shutdownCalled bool
	lastLease      *Lease
}

func (s *stubController) Initialize(context.Context) error { return s.initializeErr }

func (s *stubController) AddOrUpdate(_ context.Context, lease *Lease) error {
	s.lastLease = lease
	return s.addOrUpdateErr
}

func (s *stubController) Shutdown(context.Context) { s.shutdownCalled = true }

func TestHealthMonitorDelegatesInitializeAndPreservesError(t *testing.T) {
	inner := &stubController{}
	hm := NewHealthMonitor(inner, logr.Discard())
	assert.NoError(t, hm.Initialize(context.Background()))

	wantErr := errors.New("boom")
	inner = &stubController{initializeErr: wantErr}
	hm = NewHealthMonitor(inner, logr.Discard())
	assert.ErrorIs(t, hm.Initialize(context.Background()), wantErr)
}

func TestHealthMonitorDelegatesAddOrUpdateAndPreservesError(t *testing.T) {
	inner := &stubController{}
	hm := NewHealthMonitor(inner, logr.Discard())

	lease := &Lease{Token: "range-1"}
	require := assert.New(t)
	require.NoError(hm.AddOrUpdate(context.Background(), lease))
	require.Same(lease, inner.lastLease, "the wrapped controller must receive the exact same lease")

	wantErr := errors.New("acquire failed")
	inner = &stubController{addOrUpdateErr: wantErr}
	hm = NewHealthMonitor(inner, logr.Discard())
	require.ErrorIs(hm.AddOrUpdate(context.Background(), lease), wantErr)
}

func TestHealthMonitorDelegatesShutdown(t *testing.T) {
	inner := &stubController{}
	hm := NewHealthMonitor(inner, logr.Discard())
	hm.Shutdown(context.Background())
	assert.True(t, inner.shutdownCalled)
}
