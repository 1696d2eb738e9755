package alma

import (
	"context"
	"net/url"

	"github.com/hashicorp/go-hclog"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// Resource is the base every handle embeds. It carries the zone,
// environment, API area and wire format of one remote object, routes all
// network activity through the executor, and tracks the failed flag that
// drives skip-on-error chaining.
//
// A handle that failed short-circuits every subsequent mutating operation:
// each becomes a no-op returning the handle unchanged, so chains like
// fetch → update → delete never leave partial remote state behind. The
// failure cause stays inspectable through Err.
type Resource struct {
	client *Client
	logger hclog.Logger

	zone   string
	env    apikeys.Environment
	area   string
	format request.Format

	data   Data
	failed bool
	cause  error
}

// NewResource creates the embedded base for a concrete handle.
func (c *Client) NewResource(zone string, env apikeys.Environment, area string, format request.Format) Resource {
	return Resource{
		client: c,
		logger: c.logger,
		zone:   zone,
		env:    env,
		area:   area,
		format: format,
	}
}

// Client returns the client the resource is bound to.
func (r *Resource) Client() *Client { return r.client }

// Zone returns the institution zone of the resource.
func (r *Resource) Zone() string { return r.zone }

// Env returns the environment the resource lives in.
func (r *Resource) Env() apikeys.Environment { return r.env }

// Area returns the API area credentials are resolved against.
func (r *Resource) Area() string { return r.area }

// Failed reports whether an operation on the handle failed. All further
// mutating operations no-op while the flag is set.
func (r *Resource) Failed() bool { return r.failed }

// Err returns the cause of the failure, or nil. Chained usage ignores it;
// callers deciding on manual remediation can inspect it.
func (r *Resource) Err() error { return r.cause }

// Data returns the in-memory payload, which may be nil before a fetch.
func (r *Resource) Data() Data { return r.data }

// SetData replaces the in-memory payload, e.g. to restore a record from a
// backup snapshot.
func (r *Resource) SetData(data Data) { r.data = data }

// MarkFailed sets the failed flag with the given cause. Exposed for
// handle-local operations (payload edits) that can fail without a network
// call.
func (r *Resource) MarkFailed(op string, err error) {
	r.failed = true
	r.cause = err
	r.logger.Error("operation failed, handle marked failed",
		"operation", op, "zone", r.zone, "area", r.area, "error", err)
}

// Get performs a read against the resource path. Reads bypass the
// mutation guard (nothing to back up) but still pass the quota governor
// inside the executor. Errors surface directly to the caller.
func (r *Resource) Get(ctx context.Context, path string, params url.Values) (*request.Response, error) {
	return r.GetAs(ctx, path, params, r.format)
}

// GetAs performs a read negotiating the given wire format instead of the
// resource's own, for endpoints that serve a different representation
// (job instances are JSON even on an XML job).
func (r *Resource) GetAs(ctx context.Context, path string, params url.Values, format request.Format) (*request.Response, error) {
	cred, err := r.credential(apikeys.PermissionRead)
	if err != nil {
		return nil, err
	}
	return r.client.executor.Do(ctx, request.Request{
		Method:     "GET",
		URL:        r.client.url(path),
		Params:     params,
		Credential: cred,
		Format:     format,
	})
}

// credential resolves an API key for the resource's zone, environment and
// area with the required permission.
func (r *Resource) credential(perm apikeys.Permission) (apikeys.Credential, error) {
	return r.client.registry.Resolve(r.zone, r.env, r.area, perm)
}
