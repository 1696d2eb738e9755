package inventory

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// Item is a handle on one physical item attached to a holding.
type Item struct {
	alma.Resource

	MMSID     string
	HoldingID string

	// ItemID is the item pid. Empty until Create succeeds on a handle
	// built for creation.
	ItemID string

	// barcode set when the handle was built for a barcode lookup.
	barcode string
}

// NewItem creates a handle on an existing item.
func NewItem(client *alma.Client, mmsID, holdingID, itemID, zone string, env apikeys.Environment) *Item {
	return &Item{
		Resource:  client.NewResource(zone, env, areaBibs, request.FormatXML),
		MMSID:     mmsID,
		HoldingID: holdingID,
		ItemID:    itemID,
	}
}

// NewItemByBarcode creates a handle resolved through the barcode lookup
// endpoint on the next Fetch.
func NewItemByBarcode(client *alma.Client, barcode, zone string, env apikeys.Environment) *Item {
	return &Item{
		Resource: client.NewResource(zone, env, areaBibs, request.FormatXML),
		barcode:  barcode,
	}
}

// NewItemWithData creates a handle for an item to be created under the
// given holding.
func NewItemWithData(client *alma.Client, mmsID, holdingID, zone string, env apikeys.Environment, data *alma.XMLData) *Item {
	i := &Item{
		Resource:  client.NewResource(zone, env, areaBibs, request.FormatXML),
		MMSID:     mmsID,
		HoldingID: holdingID,
	}
	i.SetData(data)
	return i
}

func (i *Item) path() string {
	return fmt.Sprintf("/bibs/%s/holdings/%s/items/%s", i.MMSID, i.HoldingID, i.ItemID)
}

// XML returns the typed payload, or nil before a fetch.
func (i *Item) XML() *alma.XMLData {
	data, _ := i.Data().(*alma.XMLData)
	return data
}

// Fetch loads the item, either through its ids or through the barcode
// lookup the handle was built with. A barcode lookup fills in the ids
// from the response.
func (i *Item) Fetch(ctx context.Context) error {
	var (
		resp *request.Response
		err  error
	)
	if i.barcode != "" && i.ItemID == "" {
		resp, err = i.Get(ctx, "/items", url.Values{"item_barcode": {i.barcode}})
	} else {
		resp, err = i.Get(ctx, i.path(), nil)
	}
	if err != nil {
		i.MarkFailed("fetch", err)
		return err
	}

	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		i.MarkFailed("fetch", err)
		return err
	}
	i.SetData(data)
	i.fillIDs()
	return nil
}

// fillIDs reads the identifiers out of the payload after a barcode lookup.
func (i *Item) fillIDs() {
	if el := i.XML().Find("//bib_data/mms_id"); el != nil && i.MMSID == "" {
		i.MMSID = el.Text()
	}
	if el := i.XML().Find("//holding_data/holding_id"); el != nil && i.HoldingID == "" {
		i.HoldingID = el.Text()
	}
	if el := i.XML().Find("//item_data/pid"); el != nil && i.ItemID == "" {
		i.ItemID = el.Text()
	}
}

// Create posts the in-memory payload as a new item under the holding.
func (i *Item) Create(ctx context.Context) *Item {
	if i.Failed() {
		return i
	}
	body, err := i.payload()
	if err != nil {
		i.MarkFailed("create", err)
		return i
	}
	i.Mutate(ctx, alma.Mutation{
		Op:   alma.OpCreate,
		Type: "item",
		ID:   i.HoldingID,
		Path: fmt.Sprintf("/bibs/%s/holdings/%s/items", i.MMSID, i.HoldingID),
		Body: body,
		Apply: func(resp *request.Response) error {
			if err := i.applyXML(resp); err != nil {
				return err
			}
			i.fillIDs()
			return nil
		},
	})
	return i
}

// Update commits the in-memory payload.
func (i *Item) Update(ctx context.Context) *Item {
	if i.Failed() {
		return i
	}
	body, err := i.payload()
	if err != nil {
		i.MarkFailed("update", err)
		return i
	}
	i.Mutate(ctx, alma.Mutation{
		Op:          alma.OpUpdate,
		Type:        "item",
		ID:          i.ItemID,
		Path:        i.path(),
		Body:        body,
		CurrentPath: i.path(),
		Apply:       i.applyXML,
	})
	return i
}

// Delete removes the item.
func (i *Item) Delete(ctx context.Context) *Item {
	i.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "item",
		ID:          i.ItemID,
		Path:        i.path(),
		CurrentPath: i.path(),
	})
	return i
}

// Save snapshots the current payload into the backup store.
func (i *Item) Save() *Item {
	if i.Failed() {
		return i
	}
	if err := i.WriteBackup("item", i.ItemID); err != nil {
		i.MarkFailed("save", err)
	}
	return i
}

// Barcode returns the item barcode, or an empty string.
func (i *Item) Barcode() string {
	if i.XML() == nil {
		return ""
	}
	el := i.XML().Find("//item_data/barcode")
	if el == nil {
		return ""
	}
	return el.Text()
}

// SetBarcode changes the barcode in the payload. No-ops on a failed
// handle; fails the handle when the payload carries no barcode field.
func (i *Item) SetBarcode(barcode string) *Item {
	if i.Failed() {
		return i
	}
	if i.XML() == nil {
		i.MarkFailed("set_barcode", fmt.Errorf("inventory: no item data available"))
		return i
	}
	el := i.XML().Find("//item_data/barcode")
	if el == nil {
		i.MarkFailed("set_barcode", fmt.Errorf("inventory: no barcode field in item"))
		return i
	}
	el.SetText(barcode)
	return i
}

func (i *Item) payload() ([]byte, error) {
	if i.Data() == nil {
		return nil, fmt.Errorf("inventory: no item data available")
	}
	return i.Data().Bytes()
}

func (i *Item) applyXML(resp *request.Response) error {
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		return err
	}
	i.SetData(data)
	return nil
}
