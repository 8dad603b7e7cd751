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

package feed

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDecodeFeedResponseOKDecodesItemsAndHeaders(t *testing.T) {
	header := http.Header{"Etag": []string{"e1"}, "X-Ms-Session-Token": []string{"0:1#2"}}
	page, err := decodeFeedResponse(newResponse(http.StatusOK, header, `{"items":[{"_lsn":"1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", page.Continuation)
	assert.Equal(t, "0:1#2", page.SessionToken)
	require.Len(t, page.Items, 1)
	assert.JSONEq(t, `{"_lsn":"1"}`, string(page.Items[0]), "items are embedded raw JSON, not base64-encoded bytes")
}

func TestDecodeFeedResponseNotModifiedCarriesContinuation(t *testing.T) {
	header := http.Header{"Etag": []string{"e1"}}
	page, err := decodeFeedResponse(newResponse(http.StatusNotModified, header, ""))
	assert.ErrorIs(t, err, ErrNotModified)
	assert.Equal(t, "e1", page.Continuation)
}

func TestDecodeFeedResponseNotFoundMapsReadSessionSubstatus(t *testing.T) {
	header := http.Header{"X-Ms-Substatus": []string{"1002"}}
	_, err := decodeFeedResponse(newResponse(http.StatusNotFound, header, ""))
	assert.ErrorIs(t, err, ErrReadSessionNotAvailable)
}

func TestDecodeFeedResponseNotFoundWithoutSubstatusIsPlainNotFound(t *testing.T) {
	_, err := decodeFeedResponse(newResponse(http.StatusNotFound, nil, ""))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeFeedResponseGoneMapsSplitSubstatuses(t *testing.T) {
	for _, substatus := range []string{"1002", "1007"} {
		header := http.Header{"X-Ms-Substatus": []string{substatus}}
		_, err := decodeFeedResponse(newResponse(http.StatusGone, header, ""))
		assert.ErrorIsf(t, err, ErrGone, "substatus %s must map to ErrGone", substatus)
	}
}

func TestDecodeFeedResponseGoneMapsNameCacheStaleSubstatus(t *testing.T) {
	header := http.Header{"X-Ms-Substatus": []string{"1000"}}
	_, err := decodeFeedResponse(newResponse(http.StatusGone, header, ""))
	assert.ErrorIs(t, err, ErrNameCacheStale)
}

func TestDecodeFeedResponseGoneWithUnknownSubstatusDefaultsToErrGone(t *testing.T) {
	header := http.Header{"X-Ms-Substatus": []string{"9999"}}
	_, err := decodeFeedResponse(newResponse(http.StatusGone, header, ""))
	assert.ErrorIs(t, err, ErrGone)
}

func TestDecodeFeedResponseTooManyRequestsIsAnError(t *testing.T) {
	_, err := decodeFeedResponse(newResponse(http.StatusTooManyRequests, nil, ""))
	assert.Error(t, err)
}

func TestDecodeFeedResponseUnexpectedStatusIsAnError(t *testing.T) {
	_, err := decodeFeedResponse(newResponse(http.StatusInternalServerError, nil, ""))
	assert.Error(t, err)
}

func newTestRequest(t *testing.T) *policy.Request {
	t.Helper()
	req, err := runtime.NewRequest(context.Background(), http.MethodGet, "https://example.test/changefeed/range-1")
	require.NoError(t, err)
	return req
}

func TestApplyStartPositionBeginningSetsNoHeader(t *testing.T) {
	req := newTestRequest(t)
	applyStartPosition(req, Beginning())
	assert.Empty(t, req.Raw().Header.Get("if-none-match"))
	assert.Empty(t, req.Raw().Header.Get("x-ms-start-time"))
}

func TestApplyStartPositionTimeSetsStartTimeHeader(t *testing.T) {
	req := newTestRequest(t)
	applyStartPosition(req, Time(1000))
	assert.Equal(t, "1000", req.Raw().Header.Get("x-ms-start-time"))
}

func TestApplyStartPositionContinuationSetsIfNoneMatch(t *testing.T) {
	req := newTestRequest(t)
	applyStartPosition(req, Continuation("etag-1"))
	assert.Equal(t, "etag-1", req.Raw().Header.Get("if-none-match"))

	req = newTestRequest(t)
	applyStartPosition(req, ContinuationAndRange("etag-2", "r1"))
	assert.Equal(t, "etag-2", req.Raw().Header.Get("if-none-match"))
}
