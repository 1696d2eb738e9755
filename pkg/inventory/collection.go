package inventory

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

// collectionPageSize is the page size used when walking collection bibs.
const collectionPageSize = 100

// Collection is a handle on one bibliographic collection. Collections
// hold lists of bib records and exist in both network and institution
// zones.
type Collection struct {
	alma.Resource

	// PID identifies the collection.
	PID string
}

type collectionBibList struct {
	TotalRecordCount int `json:"total_record_count"`
	Bib              []struct {
		MMSID string `json:"mms_id"`
	} `json:"bib"`
}

// NewCollection creates a handle on an existing collection.
func NewCollection(client *alma.Client, pid, zone string, env apikeys.Environment) *Collection {
	return &Collection{
		Resource: client.NewResource(zone, env, areaBibs, request.FormatJSON),
		PID:      pid,
	}
}

func (c *Collection) path() string {
	return fmt.Sprintf("/bibs/collections/%s", c.PID)
}

// JSON returns the collection payload, or nil before a fetch.
func (c *Collection) JSON() *alma.JSONData {
	data, _ := c.Data().(*alma.JSONData)
	return data
}

// Fetch loads the collection definition.
func (c *Collection) Fetch(ctx context.Context) error {
	resp, err := c.Get(ctx, c.path(), nil)
	if err != nil {
		c.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		c.MarkFailed("fetch", err)
		return err
	}
	c.SetData(data)
	return nil
}

// Bibs walks the collection pages and returns the MMS IDs of every bib
// record it contains. Callers needing full records build Bib handles from
// the IDs.
func (c *Collection) Bibs(ctx context.Context) ([]string, error) {
	var ids []string
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(collectionPageSize))
		params.Set("offset", strconv.Itoa(len(ids)))

		resp, err := c.Get(ctx, c.path()+"/bibs", params)
		if err != nil {
			return nil, err
		}
		var page collectionBibList
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, err
		}
		for _, rec := range page.Bib {
			ids = append(ids, rec.MMSID)
		}
		if len(ids) >= page.TotalRecordCount || len(page.Bib) == 0 {
			return ids, nil
		}
	}
}

// AddBib adds the bib record to the collection.
func (c *Collection) AddBib(ctx context.Context, mmsID string) *Collection {
	if c.Failed() {
		return c
	}
	body, err := json.Marshal(map[string]string{"mms_id": mmsID})
	if err != nil {
		c.MarkFailed("add_bib", err)
		return c
	}
	c.Mutate(ctx, alma.Mutation{
		Op:          alma.OpCreate,
		Type:        "collection",
		ID:          c.PID,
		Path:        c.path() + "/bibs",
		Body:        body,
		CurrentPath: c.path(),
	})
	return c
}

// RemoveBib removes the bib record from the collection. The record itself
// is untouched.
func (c *Collection) RemoveBib(ctx context.Context, mmsID string) *Collection {
	c.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "collection",
		ID:          c.PID,
		Path:        c.path() + "/bibs/" + mmsID,
		CurrentPath: c.path(),
	})
	return c
}

// Save snapshots the current payload into the backup store.
func (c *Collection) Save() *Collection {
	if c.Failed() {
		return c
	}
	if err := c.WriteBackup("collection", c.PID); err != nil {
		c.MarkFailed("save", err)
	}
	return c
}
