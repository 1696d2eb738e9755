package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

const requestRecord = `{
  "request_id": "5501",
  "user_primary_id": "test.user",
  "request_type": "HOLD",
  "mms_id": "991000001"
}`

func TestRequest_FetchResolvesUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		require.Equal(t, "/users/ALL/requests/5501", r.URL.Path)
		w.Write([]byte(requestRecord))
	}))
	defer server.Close()
	client, _ := testClient(t, server)

	// Only the request ID is known; the owning account comes from the
	// payload.
	req := NewRequest(client, "", "5501", "NZ", apikeys.EnvSandbox)
	require.NoError(t, req.Fetch(context.Background()))
	assert.Equal(t, "test.user", req.PrimaryID)
}

func TestRequest_CreateTitleLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/users/test.user/requests", r.URL.Path)
		require.Equal(t, "991000001", r.URL.Query().Get("mms_id"))
		require.Empty(t, r.URL.Query().Get("item_pid"))
		w.Write([]byte(requestRecord))
	}))
	defer server.Close()
	client, _ := testClient(t, server)

	data, err := alma.NewJSONDataFromBytes([]byte(`{"request_type": "HOLD", "mms_id": "991000001"}`))
	require.NoError(t, err)

	req := NewRequestWithData(client, "test.user", "NZ", apikeys.EnvSandbox, data)
	req.Create(context.Background())
	require.False(t, req.Failed(), "create failed: %v", req.Err())
	assert.Equal(t, "5501", req.RequestID)
}

func TestRequest_CreateItemLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		require.Equal(t, "231", r.URL.Query().Get("item_pid"))
		require.Empty(t, r.URL.Query().Get("mms_id"))
		w.Write([]byte(requestRecord))
	}))
	defer server.Close()
	client, _ := testClient(t, server)

	data, err := alma.NewJSONDataFromBytes([]byte(`{"request_type": "HOLD", "mms_id": "991", "item_id": "231"}`))
	require.NoError(t, err)

	req := NewRequestWithData(client, "test.user", "NZ", apikeys.EnvSandbox, data)
	req.Create(context.Background())
	require.False(t, req.Failed(), "create failed: %v", req.Err())
}

func TestRequest_CreateWithoutTargetFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()
	client, _ := testClient(t, server)

	data, err := alma.NewJSONDataFromBytes([]byte(`{"request_type": "HOLD"}`))
	require.NoError(t, err)

	req := NewRequestWithData(client, "test.user", "NZ", apikeys.EnvSandbox, data)
	req.Create(context.Background())
	assert.True(t, req.Failed())
	assert.Equal(t, int32(0), calls.Load(), "nothing is dispatched without a target record")
}

func TestRequest_Cancel(t *testing.T) {
	var params atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(requestRecord))
		case http.MethodDelete:
			params.Store(r.URL.Query())
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()
	client, fs := testClient(t, server)

	req := NewRequest(client, "test.user", "5501", "NZ", apikeys.EnvSandbox)
	req.Cancel(context.Background(), "", "duplicate request", true)
	require.False(t, req.Failed(), "cancel failed: %v", req.Err())

	q := params.Load().(url.Values)
	assert.Equal(t, DefaultCancelReason, q.Get("reason"))
	assert.Equal(t, "true", q.Get("notify_user"))
	assert.Equal(t, "duplicate request", q.Get("note"))

	// The request is snapshotted before the cancellation.
	assert.Equal(t, 1, backupCount(t, fs, "records/NZ_5501"))
}
