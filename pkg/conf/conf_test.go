package conf

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/backup"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/quota"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// testClient builds a client against the given mock server with a
// read-write Conf credential and a memory-backed backup store.
func testClient(t *testing.T, server *httptest.Server) (*alma.Client, afero.Fs) {
	t.Helper()

	registry := apikeys.NewRegistry(map[string][]apikeys.Credential{
		"NZ": {{
			Zone: "NZ", Key: "l8xx-test",
			APIs: []apikeys.SupportedAPI{
				{Area: "Conf", Env: apikeys.EnvSandbox, Permissions: apikeys.PermissionReadWrite},
			},
		}},
	}, nil)

	fs := afero.NewMemMapFs()
	gov := quota.New(quota.Config{WindowLimit: 1000, OnHalt: func(int) {}})
	client, err := alma.New(alma.Config{
		BaseURL:  server.URL,
		Registry: registry,
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
