package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

const collectionRecord = `{
  "pid": {"value": "81123"},
  "name": "Digitized maps",
  "parent_collection": {"value": "81000"}
}`

func TestCollection_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		require.Equal(t, "/bibs/collections/81123", r.URL.Path)
		w.Write([]byte(collectionRecord))
	}))
	defer server.Close()
	client, _ := testClient(t, server)

	coll := NewCollection(client, "81123", "NZ", apikeys.EnvSandbox)
	require.NoError(t, coll.Fetch(context.Background()))

	name, ok := coll.JSON().Get("name")
	require.True(t, ok)
	assert.Equal(t, "Digitized maps", name)
}

func TestCollection_BibsPagination(t *testing.T) {
	total := collectionPageSize + 3
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		require.Equal(t, "/bibs/collections/81123/bibs", r.URL.Path)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var bibs []map[string]string
		for i := offset; i < total && i < offset+collectionPageSize; i++ {
			bibs = append(bibs, map[string]string{"mms_id": fmt.Sprintf("99%d", i)})
		}
		body, err := json.Marshal(map[string]any{
			"total_record_count": total,
			"bib":                bibs,
		})
		require.NoError(t, err)
		w.Write(body)
	}))
	defer server.Close()
	client, _ := testClient(t, server)

	coll := NewCollection(client, "81123", "NZ", apikeys.EnvSandbox)
	ids, err := coll.Bibs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, total)
	assert.Equal(t, "990", ids[0])
	assert.Equal(t, fmt.Sprintf("99%d", total-1), ids[total-1])
}

func TestCollection_AddAndRemoveBib(t *testing.T) {
	var posted atomic.Value
	var deleted atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(request.HeaderRemaining, "100000")
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(collectionRecord))
		case http.MethodPost:
			require.Equal(t, "/bibs/collections/81123/bibs", r.URL.Path)
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			posted.Store(string(body))
			w.Write(body)
		case http.MethodDelete:
			deleted.Store(r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()
	client, fs := testClient(t, server)

	coll := NewCollection(client, "81123", "NZ", apikeys.EnvSandbox)
	coll.AddBib(context.Background(), "991000001").RemoveBib(context.Background(), "991000002")
	require.False(t, coll.Failed(), "membership change failed: %v", coll.Err())

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(posted.Load().(string)), &body))
	assert.Equal(t, "991000001", body["mms_id"])
	assert.Equal(t, "/bibs/collections/81123/bibs/991000002", deleted.Load())

	// Each membership change snapshots the pre-mutation collection.
	assert.Equal(t, 2, backupCount(t, fs, "records/NZ_81123"))
}
