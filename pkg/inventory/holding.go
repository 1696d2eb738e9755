package inventory

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// Holding is a handle on one holding record attached to a bib.
type Holding struct {
	alma.Resource

	// MMSID of the parent bibliographic record.
	MMSID string

	// HoldingID identifies the holding. Empty until Create succeeds on
	// a handle built for creation.
	HoldingID string
}

// NewHolding creates a handle on an existing holding.
func NewHolding(client *alma.Client, mmsID, holdingID, zone string, env apikeys.Environment) *Holding {
	return &Holding{
		Resource:  client.NewResource(zone, env, areaBibs, request.FormatXML),
		MMSID:     mmsID,
		HoldingID: holdingID,
	}
}

// NewHoldingWithData creates a handle for a holding to be created under
// the given bib.
func NewHoldingWithData(client *alma.Client, mmsID, zone string, env apikeys.Environment, data *alma.XMLData) *Holding {
	h := &Holding{
		Resource: client.NewResource(zone, env, areaBibs, request.FormatXML),
		MMSID:    mmsID,
	}
	h.SetData(data)
	return h
}

func (h *Holding) path() string {
	return fmt.Sprintf("/bibs/%s/holdings/%s", h.MMSID, h.HoldingID)
}

// XML returns the typed payload, or nil before a fetch.
func (h *Holding) XML() *alma.XMLData {
	data, _ := h.Data().(*alma.XMLData)
	return data
}

// Fetch loads the holding.
func (h *Holding) Fetch(ctx context.Context) error {
	resp, err := h.Get(ctx, h.path(), nil)
	if err != nil {
		h.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		h.MarkFailed("fetch", err)
		return err
	}
	h.SetData(data)
	return nil
}

// Create posts the in-memory payload as a new holding under the parent
// bib and stores the assigned holding id.
func (h *Holding) Create(ctx context.Context) *Holding {
	if h.Failed() {
		return h
	}
	body, err := h.payload()
	if err != nil {
		h.MarkFailed("create", err)
		return h
	}
	h.Mutate(ctx, alma.Mutation{
		Op:   alma.OpCreate,
		Type: "hol",
		ID:   h.MMSID,
		Path: fmt.Sprintf("/bibs/%s/holdings", h.MMSID),
		Body: body,
		Apply: func(resp *request.Response) error {
			if err := h.applyXML(resp); err != nil {
				return err
			}
			if el := h.XML().Find("//holding_id"); el != nil {
				h.HoldingID = el.Text()
			}
			return nil
		},
	})
	return h
}

// Update commits the in-memory payload.
func (h *Holding) Update(ctx context.Context) *Holding {
	if h.Failed() {
		return h
	}
	body, err := h.payload()
	if err != nil {
		h.MarkFailed("update", err)
		return h
	}
	h.Mutate(ctx, alma.Mutation{
		Op:          alma.OpUpdate,
		Type:        "hol",
		ID:          h.HoldingID,
		Path:        h.path(),
		Body:        body,
		CurrentPath: h.path(),
		Apply:       h.applyXML,
	})
	return h
}

// Delete removes the holding. With force set, attached items are removed
// as well.
func (h *Holding) Delete(ctx context.Context, force bool) *Holding {
	params := url.Values{}
	if force {
		params.Set("override", "true")
	}
	h.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "hol",
		ID:          h.HoldingID,
		Path:        h.path(),
		Params:      params,
		CurrentPath: h.path(),
	})
	return h
}

// Save snapshots the current payload into the backup store.
func (h *Holding) Save() *Holding {
	if h.Failed() {
		return h
	}
	if err := h.WriteBackup("hol", h.HoldingID); err != nil {
		h.MarkFailed("save", err)
	}
	return h
}

// Library returns the library code from 852 $b, or an empty string.
func (h *Holding) Library() string {
	return h.subfield852("b")
}

// SetLibrary changes the library code in 852 $b.
func (h *Holding) SetLibrary(code string) *Holding {
	return h.setSubfield852("b", code, "library")
}

// Location returns the location code from 852 $c, or an empty string.
func (h *Holding) Location() string {
	return h.subfield852("c")
}

// SetLocation changes the location code in 852 $c.
func (h *Holding) SetLocation(code string) *Holding {
	return h.setSubfield852("c", code, "location")
}

// Items lists the items attached to the holding.
func (h *Holding) Items(ctx context.Context) ([]*Item, error) {
	resp, err := h.Get(ctx, h.path()+"/items", url.Values{"limit": {"100"}})
	if err != nil {
		return nil, err
	}
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		return nil, err
	}

	var items []*Item
	for _, el := range data.Doc().FindElements("//item") {
		pid := el.FindElement(".//item_data/pid")
		if pid == nil {
			continue
		}
		item := NewItem(h.Client(), h.MMSID, h.HoldingID, pid.Text(), h.Zone(), h.Env())
		itemDoc := alma.NewXMLDataFromElement(el)
		item.SetData(itemDoc)
		items = append(items, item)
	}
	return items, nil
}

func (h *Holding) subfield852(code string) string {
	if h.XML() == nil {
		return ""
	}
	el := h.XML().Find(fmt.Sprintf(`//datafield[@tag='852']/subfield[@code='%s']`, code))
	if el == nil {
		return ""
	}
	return el.Text()
}

func (h *Holding) setSubfield852(code, value, what string) *Holding {
	if h.Failed() {
		return h
	}
	if h.XML() == nil {
		h.MarkFailed("set_"+what, fmt.Errorf("inventory: no holding data available"))
		return h
	}
	el := h.XML().Find(fmt.Sprintf(`//datafield[@tag='852']/subfield[@code='%s']`, code))
	if el == nil {
		h.MarkFailed("set_"+what, fmt.Errorf("inventory: no %s subfield in holding", what))
		return h
	}
	el.SetText(value)
	return h
}

func (h *Holding) payload() ([]byte, error) {
	if h.Data() == nil {
		return nil, fmt.Errorf("inventory: no holding data available")
	}
	return h.Data().Bytes()
}

func (h *Holding) applyXML(resp *request.Response) error {
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		return err
	}
	h.SetData(data)
	return nil
}
