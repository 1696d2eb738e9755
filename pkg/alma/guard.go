package alma

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/backup"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// errNoData is returned when a backup is requested for a handle that has
// no payload loaded.
var errNoData = errors.New("alma: no data available for backup")

// Operation is a mutating operation kind.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// method maps the operation onto its HTTP verb.
func (o Operation) method() string {
	switch o {
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		return http.MethodPut
	case OpDelete:
		return http.MethodDelete
	default:
		return http.MethodPost
	}
}

// Mutation describes one guarded create, update or delete.
type Mutation struct {
	// Op selects the HTTP verb and backup semantics.
	Op Operation

	// Type names the resource kind in backup files ("bib", "user", ...).
	Type string

	// ID of the resource being mutated.
	ID string

	// Path of the mutating call, relative to the API base URL.
	Path string

	// Params are optional query parameters.
	Params url.Values

	// Body is the outbound payload (empty for delete).
	Body []byte

	// CurrentPath, when set, is fetched fresh and backed up as the
	// pre-mutation state (update/delete). When empty the outbound Body
	// is snapshotted instead (create).
	CurrentPath string

	// Apply refreshes the handle's payload from the authoritative
	// response after a successful mutation (optional).
	Apply func(*request.Response) error
}

// Mutate runs one mutation under the guard discipline: exactly one backup
// of the pre-mutation state is written before the outbound request, and no
// error escapes — any failure marks the handle failed so that subsequent
// chained operations no-op.
func (r *Resource) Mutate(ctx context.Context, m Mutation) {
	if r.failed {
		r.logger.Warn("handle marked failed, operation skipped",
			"operation", string(m.Op), "type", m.Type, "id", m.ID)
		return
	}

	cred, err := r.credential(apikeys.PermissionReadWrite)
	if err != nil {
		r.MarkFailed(string(m.Op), err)
		return
	}

	snapshot := m.Body
	if m.CurrentPath != "" {
		resp, err := r.client.executor.Do(ctx, request.Request{
			Method:     http.MethodGet,
			URL:        r.client.url(m.CurrentPath),
			Credential: cred,
			Format:     r.format,
		})
		if err != nil {
			r.MarkFailed(string(m.Op), err)
			return
		}
		snapshot = resp.Body
	}

	// The snapshot is timestamped strictly before the outbound request.
	_, err = r.client.backups.Write(backup.Record{
		Type:      m.Type,
		Zone:      r.zone,
		ID:        m.ID,
		Timestamp: time.Now(),
		Payload:   snapshot,
		Extension: string(r.format),
	})
	if err != nil {
		r.MarkFailed(string(m.Op), err)
		return
	}

	resp, err := r.client.executor.Do(ctx, request.Request{
		Method:     m.Op.method(),
		URL:        r.client.url(m.Path),
		Params:     m.Params,
		Credential: cred,
		Body:       m.Body,
		Format:     r.format,
	})
	if err != nil {
		r.MarkFailed(string(m.Op), err)
		return
	}

	if m.Apply != nil {
		if err := m.Apply(resp); err != nil {
			r.MarkFailed(string(m.Op), err)
			return
		}
	}

	r.cause = nil
	r.logger.Info("mutation committed",
		"operation", string(m.Op), "type", m.Type, "id", m.ID, "zone", r.zone)
}

// WriteBackup snapshots the current in-memory payload without mutating
// anything, backing the explicit Save operation on handles.
func (r *Resource) WriteBackup(resourceType, id string) error {
	if r.data == nil {
		return errNoData
	}
	payload, err := r.data.Bytes()
	if err != nil {
		return err
	}
	_, err = r.client.backups.Write(backup.Record{
		Type:      resourceType,
		Zone:      r.zone,
		ID:        id,
		Timestamp: time.Now(),
		Payload:   payload,
		Extension: string(r.format),
	})
	return err
}
