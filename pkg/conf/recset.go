// Package conf provides handles for Alma configuration resources: record
// sets and jobs.
package conf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// areaConf is the API area configuration credentials are resolved against.
const areaConf = "Conf"

// membersPageSize is the page size used when walking set members.
const membersPageSize = 100

// RecSet is a handle on one Alma record set.
type RecSet struct {
	alma.Resource

	// SetID identifies the set.
	SetID string
}

// Member is one entry of a record set.
type Member struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

type memberList struct {
	TotalRecordCount int      `json:"total_record_count"`
	Member           []Member `json:"member"`
}

// NewRecSet creates a handle on an existing set.
func NewRecSet(client *alma.Client, setID, zone string, env apikeys.Environment) *RecSet {
	return &RecSet{
		Resource: client.NewResource(zone, env, areaConf, request.FormatJSON),
		SetID:    setID,
	}
}

// NewRecSetWithData creates a handle carrying a set definition, for
// creation.
func NewRecSetWithData(client *alma.Client, zone string, env apikeys.Environment, data *alma.JSONData) *RecSet {
	s := NewRecSet(client, "", zone, env)
	s.SetData(data)
	return s
}

func (s *RecSet) path() string {
	return fmt.Sprintf("/conf/sets/%s", s.SetID)
}

// JSON returns the set payload, or nil before a fetch.
func (s *RecSet) JSON() *alma.JSONData {
	data, _ := s.Data().(*alma.JSONData)
	return data
}

// Fetch loads the set definition.
func (s *RecSet) Fetch(ctx context.Context) error {
	resp, err := s.Get(ctx, s.path(), nil)
	if err != nil {
		s.MarkFailed("fetch", err)
		return err
	}
	return s.applyJSON(resp)
}

// Name returns the set name from the payload.
func (s *RecSet) Name() string {
	if s.JSON() == nil {
		return ""
	}
	name, _ := s.JSON().Get("name")
	str, _ := name.(string)
	return str
}

// Create posts the in-memory definition as a new set and records the
// assigned set ID.
func (s *RecSet) Create(ctx context.Context) *RecSet {
	if s.Failed() {
		return s
	}
	body, err := s.payload()
	if err != nil {
		s.MarkFailed("create", err)
		return s
	}
	s.Mutate(ctx, alma.Mutation{
		Op:   alma.OpCreate,
		Type: "set",
		ID:   s.SetID,
		Path: "/conf/sets",
		Body: body,
		Apply: func(resp *request.Response) error {
			if err := s.applyJSON(resp); err != nil {
				return err
			}
			if id, ok := s.JSON().Get("id"); ok {
				if str, ok := id.(string); ok {
					s.SetID = str
				}
			}
			return nil
		},
	})
	return s
}

// Delete removes the set. Members are not touched.
func (s *RecSet) Delete(ctx context.Context) *RecSet {
	s.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "set",
		ID:          s.SetID,
		Path:        s.path(),
		CurrentPath: s.path(),
	})
	return s
}

// Members walks the member pages and returns the full list.
func (s *RecSet) Members(ctx context.Context) ([]Member, error) {
	var members []Member
	for offset := 0; ; offset += membersPageSize {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(membersPageSize))
		params.Set("offset", strconv.Itoa(offset))

		resp, err := s.Get(ctx, s.path()+"/members", params)
		if err != nil {
			return nil, err
		}
		var page memberList
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, err
		}
		members = append(members, page.Member...)
		if len(members) >= page.TotalRecordCount || len(page.Member) == 0 {
			return members, nil
		}
	}
}

// AddMembers adds the given record IDs to an itemized set.
func (s *RecSet) AddMembers(ctx context.Context, ids ...string) *RecSet {
	return s.modifyMembers(ctx, "add_members", ids)
}

// RemoveMembers removes the given record IDs from an itemized set.
func (s *RecSet) RemoveMembers(ctx context.Context, ids ...string) *RecSet {
	return s.modifyMembers(ctx, "delete_members", ids)
}

func (s *RecSet) modifyMembers(ctx context.Context, op string, ids []string) *RecSet {
	if s.Failed() {
		return s
	}
	members := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		members = append(members, map[string]string{"id": id})
	}
	body, err := json.Marshal(map[string]any{
		"members": map[string]any{"member": members},
	})
	if err != nil {
		s.MarkFailed(op, err)
		return s
	}
	params := url.Values{}
	params.Set("op", op)
	s.Mutate(ctx, alma.Mutation{
		Op:          alma.OpCreate,
		Type:        "set",
		ID:          s.SetID,
		Path:        s.path(),
		Params:      params,
		Body:        body,
		CurrentPath: s.path(),
		Apply:       s.applyJSON,
	})
	return s
}

func (s *RecSet) payload() ([]byte, error) {
	if s.Data() == nil {
		return nil, fmt.Errorf("conf: no set data available")
	}
	return s.Data().Bytes()
}

func (s *RecSet) applyJSON(resp *request.Response) error {
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		return err
	}
	s.SetData(data)
	return nil
}
