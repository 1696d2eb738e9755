package users

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// DefaultCancelReason is applied when a request is cancelled without an
// explicit reason.
const DefaultCancelReason = "CannotBeFulfilled"

// Request is a handle on one user request (hold, digitization, ...).
type Request struct {
	alma.Resource

	// PrimaryID identifies the requesting account. May be empty when
	// only the request ID is known; Fetch then resolves it.
	PrimaryID string
	// RequestID identifies the request.
	RequestID string
}

// NewRequest creates a handle on an existing request. primaryID may be
// empty when unknown; the first Fetch resolves it from the payload.
func NewRequest(client *alma.Client, primaryID, requestID, zone string, env apikeys.Environment) *Request {
	return &Request{
		Resource:  client.NewResource(zone, env, areaUsers, request.FormatJSON),
		PrimaryID: primaryID,
		RequestID: requestID,
	}
}

// NewRequestWithData creates a handle carrying a local payload, for
// request creation. The payload must name either an item_id or an mms_id.
func NewRequestWithData(client *alma.Client, primaryID, zone string, env apikeys.Environment, data *alma.JSONData) *Request {
	r := NewRequest(client, primaryID, "", zone, env)
	r.SetData(data)
	return r
}

func (r *Request) path() string {
	user := r.PrimaryID
	if user == "" {
		// The requests API resolves a bare request ID across users.
		user = "ALL"
	}
	return fmt.Sprintf("/users/%s/requests/%s", user, r.RequestID)
}

// JSON returns the request payload, or nil before a fetch.
func (r *Request) JSON() *alma.JSONData {
	data, _ := r.Data().(*alma.JSONData)
	return data
}

func (r *Request) stringField(path string) string {
	if r.JSON() == nil {
		return ""
	}
	v, _ := r.JSON().Get(path)
	s, _ := v.(string)
	return s
}

// Fetch loads the request, resolving the owning account when the handle
// was constructed without one.
func (r *Request) Fetch(ctx context.Context) error {
	resp, err := r.Get(ctx, r.path(), nil)
	if err != nil {
		r.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		r.MarkFailed("fetch", err)
		return err
	}
	r.SetData(data)
	if r.PrimaryID == "" {
		r.PrimaryID = r.stringField("user_primary_id")
	}
	return nil
}

// Create posts the in-memory payload as a new request. Item-level when
// the payload carries an item_id, title-level on its mms_id otherwise.
func (r *Request) Create(ctx context.Context) *Request {
	if r.Failed() {
		return r
	}
	body, err := r.payload()
	if err != nil {
		r.MarkFailed("create", err)
		return r
	}

	params := url.Values{}
	if itemID := r.stringField("item_id"); itemID != "" {
		params.Set("item_pid", itemID)
	} else if mmsID := r.stringField("mms_id"); mmsID != "" {
		params.Set("mms_id", mmsID)
	} else {
		r.MarkFailed("create", fmt.Errorf("users: request data names neither item_id nor mms_id"))
		return r
	}

	r.Mutate(ctx, alma.Mutation{
		Op:     alma.OpCreate,
		Type:   "request",
		ID:     r.RequestID,
		Path:   fmt.Sprintf("/users/%s/requests", r.PrimaryID),
		Params: params,
		Body:   body,
		Apply: func(resp *request.Response) error {
			if err := r.applyJSON(resp); err != nil {
				return err
			}
			if id := r.stringField("request_id"); id != "" {
				r.RequestID = id
			}
			return nil
		},
	})
	return r
}

// Update commits the in-memory payload.
func (r *Request) Update(ctx context.Context) *Request {
	if r.Failed() {
		return r
	}
	body, err := r.payload()
	if err != nil {
		r.MarkFailed("update", err)
		return r
	}
	r.Mutate(ctx, alma.Mutation{
		Op:          alma.OpUpdate,
		Type:        "request",
		ID:          r.RequestID,
		Path:        r.path(),
		Body:        body,
		CurrentPath: r.path(),
		Apply:       r.applyJSON,
	})
	return r
}

// Cancel cancels the request. An empty reason falls back to
// DefaultCancelReason; note is optional; notifyUser controls whether the
// account is informed.
func (r *Request) Cancel(ctx context.Context, reason, note string, notifyUser bool) *Request {
	if r.Failed() {
		return r
	}
	if reason == "" {
		reason = DefaultCancelReason
	}
	params := url.Values{}
	params.Set("reason", reason)
	params.Set("notify_user", fmt.Sprintf("%t", notifyUser))
	if note != "" {
		params.Set("note", note)
	}
	r.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "request",
		ID:          r.RequestID,
		Path:        r.path(),
		Params:      params,
		CurrentPath: r.path(),
	})
	return r
}

// Save snapshots the current payload into the backup store.
func (r *Request) Save() *Request {
	if r.Failed() {
		return r
	}
	if err := r.WriteBackup("request", r.RequestID); err != nil {
		r.MarkFailed("save", err)
	}
	return r
}

func (r *Request) payload() ([]byte, error) {
	if r.Data() == nil {
		return nil, fmt.Errorf("users: no request data available")
	}
	return r.Data().Bytes()
}

func (r *Request) applyJSON(resp *request.Response) error {
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		return err
	}
	r.SetData(data)
	return nil
}
