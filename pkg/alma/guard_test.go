package alma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/backup"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/quota"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

func testRegistry() *apikeys.Registry {
	return apikeys.NewRegistry(map[string][]apikeys.Credential{
		"NZ": {{
			Zone: "NZ", Key: "l8xx-rw",
			APIs: []apikeys.SupportedAPI{
				{Area: "Bibs", Env: apikeys.EnvSandbox, Permissions: apikeys.PermissionReadWrite},
			},
		}},
		"RO": {{
			Zone: "RO", Key: "l8xx-r",
			APIs: []apikeys.SupportedAPI{
				{Area: "Bibs", Env: apikeys.EnvSandbox, Permissions: apikeys.PermissionRead},
			},
		}},
	}, nil)
}

func testClient(t *testing.T, serverURL string) (*Client, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	gov := quota.New(quota.Config{WindowLimit: 1000, OnHalt: func(int) {}})
	client, err := New(Config{
		BaseURL:  serverURL,
		Registry: testRegistry(),
		Governor: gov,
		Executor: request.New(gov, request.Config{
			NetworkRetryDelay: time.Millisecond,
			ServerRetryDelay:  time.Millisecond,
		}),
		Backups: backup.NewStore(backup.Config{Root: "records", Fs: fs}),
	})
	require.NoError(t, err)
	return client, fs
}

func backupFiles(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestMutate_BackupPrecedesUpdate(t *testing.T) {
	var order []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.Method)
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`<bib><status>remote</status></bib>`))
		case http.MethodPut:
			w.Write([]byte(`<bib><status>updated</status></bib>`))
		}
	}))
	defer server.Close()

	client, fs := testClient(t, server.URL)
	res := client.NewResource("NZ", apikeys.EnvSandbox, "Bibs", request.FormatXML)

	var applied []byte
	res.Mutate(context.Background(), Mutation{
		Op:          OpUpdate,
		Type:        "bib",
		ID:          "99",
		Path:        "/bibs/99",
		Body:        []byte(`<bib><status>local</status></bib>`),
		CurrentPath: "/bibs/99",
		Apply: func(resp *request.Response) error {
			applied = resp.Body
			return nil
		},
	})

	require.False(t, res.Failed(), "error: %v", res.Err())
	assert.Equal(t, []string{"GET", "PUT"}, order, "fresh state is fetched before the mutating call")
	assert.Contains(t, string(applied), "updated")

	// The backup holds the pre-mutation remote state, not the local edit.
	names := backupFiles(t, fs, "records/NZ_99")
	require.Len(t, names, 1)
	content, err := afero.ReadFile(fs, "records/NZ_99/"+names[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "remote")
}

func TestMutate_CreateSnapshotsOutboundPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`<bib/>`))
	}))
	defer server.Close()

	client, fs := testClient(t, server.URL)
	res := client.NewResource("NZ", apikeys.EnvSandbox, "Bibs", request.FormatXML)

	res.Mutate(context.Background(), Mutation{
		Op:   OpCreate,
		Type: "bib",
		ID:   "new",
		Path: "/bibs",
		Body: []byte(`<bib><title>fresh</title></bib>`),
	})

	require.False(t, res.Failed())
	names := backupFiles(t, fs, "records/NZ_new")
	require.Len(t, names, 1)
	content, err := afero.ReadFile(fs, "records/NZ_new/"+names[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "fresh")
}

func TestMutate_FailedHandleShortCircuitsChain(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorList":{"error":[{"errorMessage":"not found"}]}}`))
	}))
	defer server.Close()

	client, _ := testClient(t, server.URL)
	res := client.NewResource("NZ", apikeys.EnvSandbox, "Bibs", request.FormatXML)
	ctx := context.Background()

	// op1 fails: the fresh-state fetch is rejected.
	res.Mutate(ctx, Mutation{Op: OpUpdate, Type: "bib", ID: "1", Path: "/bibs/1", CurrentPath: "/bibs/1"})
	require.True(t, res.Failed())
	callsAfterFirst := calls

	var rejected *request.RejectedError
	require.ErrorAs(t, res.Err(), &rejected)

	// op2 and op3 must be no-ops: the failed flag stays set and no
	// further request reaches the remote service.
	res.Mutate(ctx, Mutation{Op: OpUpdate, Type: "bib", ID: "1", Path: "/bibs/1", CurrentPath: "/bibs/1"})
	res.Mutate(ctx, Mutation{Op: OpDelete, Type: "bib", ID: "1", Path: "/bibs/1", CurrentPath: "/bibs/1"})
	assert.True(t, res.Failed())
	assert.Equal(t, callsAfterFirst, calls)
}

func TestMutate_ReadOnlyCredentialNeverBacksWrite(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client, _ := testClient(t, server.URL)
	res := client.NewResource("RO", apikeys.EnvSandbox, "Bibs", request.FormatXML)

	res.Mutate(context.Background(), Mutation{
		Op: OpUpdate, Type: "bib", ID: "1", Path: "/bibs/1", Body: []byte("<bib/>"),
	})

	require.True(t, res.Failed())
	var notFound *apikeys.CredentialNotFoundError
	require.ErrorAs(t, res.Err(), &notFound)
	assert.Equal(t, 0, calls, "no request is dispatched without a sufficient credential")
}

func TestGet_SurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := testClient(t, server.URL)
	res := client.NewResource("NZ", apikeys.EnvSandbox, "Bibs", request.FormatXML)

	_, err := res.Get(context.Background(), "/bibs/404", nil)
	var rejected *request.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.False(t, res.Failed(), "reads surface errors without marking the handle")
}

func TestWriteBackup_RequiresData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client, fs := testClient(t, server.URL)
	res := client.NewResource("NZ", apikeys.EnvSandbox, "Bibs", request.FormatXML)

	require.Error(t, res.WriteBackup("bib", "1"))

	data, err := NewXMLData([]byte("<bib/>"))
	require.NoError(t, err)
	res.SetData(data)
	require.NoError(t, res.WriteBackup("bib", "1"))
	assert.Len(t, backupFiles(t, fs, "records/NZ_1"), 1)
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{Registry: testRegistry(), BaseURL: "::not a url::"})
	require.Error(t, err)
}
