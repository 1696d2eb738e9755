// Package users provides the handle for Alma user accounts. User
// payloads are JSON documents; mutations are guarded with pre-mutation
// backups like every other resource kind.
package users

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// areaUsers is the API area user credentials are resolved against.
const areaUsers = "Users"

// User is a handle on one Alma user account.
type User struct {
	alma.Resource

	// PrimaryID identifies the account.
	PrimaryID string
}

// NewUser creates a handle on an existing user. No call is made until
// Fetch.
func NewUser(client *alma.Client, primaryID, zone string, env apikeys.Environment) *User {
	return &User{
		Resource:  client.NewResource(zone, env, areaUsers, request.FormatJSON),
		PrimaryID: primaryID,
	}
}

// NewUserWithData creates a handle carrying a local payload, typically
// for account creation or restoring from a backup.
func NewUserWithData(client *alma.Client, primaryID, zone string, env apikeys.Environment, data *alma.JSONData) *User {
	u := NewUser(client, primaryID, zone, env)
	u.SetData(data)
	return u
}

func (u *User) path() string {
	return fmt.Sprintf("/users/%s", u.PrimaryID)
}

// JSON returns the typed payload, or nil before a fetch.
func (u *User) JSON() *alma.JSONData {
	data, _ := u.Data().(*alma.JSONData)
	return data
}

// Fetch loads the account. The error surfaces to the caller and the
// handle is marked failed so that chained mutations no-op.
func (u *User) Fetch(ctx context.Context) error {
	resp, err := u.Get(ctx, u.path(), nil)
	if err != nil {
		u.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		u.MarkFailed("fetch", err)
		return err
	}
	u.SetData(data)
	return nil
}

// GetValue reads a dot-separated path out of the payload, e.g.
// "user_group.value".
func (u *User) GetValue(path string) (any, bool) {
	if u.JSON() == nil {
		return nil, false
	}
	return u.JSON().Get(path)
}

// SetValue writes a dot-separated path into the payload. No-ops on a
// failed handle.
func (u *User) SetValue(path string, value any) *User {
	if u.Failed() {
		return u
	}
	if u.JSON() == nil {
		u.MarkFailed("set_value", fmt.Errorf("users: no user data available"))
		return u
	}
	if err := u.JSON().Set(path, value); err != nil {
		u.MarkFailed("set_value", err)
	}
	return u
}

// Update commits the in-memory payload. Override lists the fields the
// API must overwrite even when it considers them externally managed,
// e.g. "user_group,job_category".
func (u *User) Update(ctx context.Context, override ...string) *User {
	if u.Failed() {
		return u
	}
	body, err := u.payload()
	if err != nil {
		u.MarkFailed("update", err)
		return u
	}
	params := url.Values{}
	if len(override) > 0 {
		params.Set("override", strings.Join(override, ","))
	}
	u.Mutate(ctx, alma.Mutation{
		Op:          alma.OpUpdate,
		Type:        "user",
		ID:          u.PrimaryID,
		Path:        u.path(),
		Params:      params,
		Body:        body,
		CurrentPath: u.path(),
		Apply:       u.applyJSON,
	})
	return u
}

// Create posts the in-memory payload as a new account.
func (u *User) Create(ctx context.Context) *User {
	if u.Failed() {
		return u
	}
	body, err := u.payload()
	if err != nil {
		u.MarkFailed("create", err)
		return u
	}
	u.Mutate(ctx, alma.Mutation{
		Op:   alma.OpCreate,
		Type: "user",
		ID:   u.PrimaryID,
		Path: "/users",
		Body: body,
		Apply: func(resp *request.Response) error {
			if err := u.applyJSON(resp); err != nil {
				return err
			}
			if id, ok := u.JSON().Get("primary_id"); ok {
				if s, ok := id.(string); ok {
					u.PrimaryID = s
				}
			}
			return nil
		},
	})
	return u
}

// Delete removes the account.
func (u *User) Delete(ctx context.Context) *User {
	u.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "user",
		ID:          u.PrimaryID,
		Path:        u.path(),
		CurrentPath: u.path(),
	})
	return u
}

// Save snapshots the current payload into the backup store.
func (u *User) Save() *User {
	if u.Failed() {
		return u
	}
	if err := u.WriteBackup("user", u.PrimaryID); err != nil {
		u.MarkFailed("save", err)
	}
	return u
}

func (u *User) payload() ([]byte, error) {
	if u.Data() == nil {
		return nil, fmt.Errorf("users: no user data available")
	}
	return u.Data().Bytes()
}

func (u *User) applyJSON(resp *request.Response) error {
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		return err
	}
	u.SetData(data)
	return nil
}
