// Package inventory provides handles for Alma bibliographic records,
// holdings and items. Payloads are MARC-flavoured XML documents; every
// network-touching operation routes through the shared executor and every
// mutation through the backup guard.
package inventory

import (
	"context"
	"fmt"
	"net/url"

	"github.com/beevik/etree"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// areaBibs is the API area inventory credentials are resolved against.
const areaBibs = "Bibs"

// Bib is a handle on one bibliographic record.
type Bib struct {
	alma.Resource

	// MMSID identifies the record.
	MMSID string
}

// NewBib creates a handle on an existing record. No call is made until
// Fetch.
func NewBib(client *alma.Client, mmsID, zone string, env apikeys.Environment) *Bib {
	return &Bib{
		Resource: client.NewResource(zone, env, areaBibs, request.FormatXML),
		MMSID:    mmsID,
	}
}

// NewBibWithData creates a handle carrying a local payload, typically a
// backup snapshot used to force-restore the record.
func NewBibWithData(client *alma.Client, mmsID, zone string, env apikeys.Environment, data *alma.XMLData) *Bib {
	b := NewBib(client, mmsID, zone, env)
	b.SetData(data)
	return b
}

func (b *Bib) path() string {
	return fmt.Sprintf("/bibs/%s", b.MMSID)
}

// XML returns the typed payload, or nil before a fetch.
func (b *Bib) XML() *alma.XMLData {
	data, _ := b.Data().(*alma.XMLData)
	return data
}

// Fetch loads the record. The error surfaces to the caller and the handle
// is marked failed so that chained mutations no-op.
func (b *Bib) Fetch(ctx context.Context) error {
	resp, err := b.Get(ctx, b.path(), nil)
	if err != nil {
		b.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		b.MarkFailed("fetch", err)
		return err
	}
	b.SetData(data)
	return nil
}

// Update commits the in-memory payload. The pre-mutation remote state is
// fetched fresh and backed up first; on success the payload is refreshed
// from the authoritative response.
func (b *Bib) Update(ctx context.Context) *Bib {
	if b.Failed() {
		return b
	}
	body, err := b.payload()
	if err != nil {
		b.MarkFailed("update", err)
		return b
	}
	b.Mutate(ctx, alma.Mutation{
		Op:          alma.OpUpdate,
		Type:        "bib",
		ID:          b.MMSID,
		Path:        b.path(),
		Body:        body,
		CurrentPath: b.path(),
		Apply:       b.applyXML,
	})
	return b
}

// Delete removes the record. With override set, holdings attached to the
// record are deleted as well.
func (b *Bib) Delete(ctx context.Context, override bool) *Bib {
	params := url.Values{}
	if override {
		params.Set("override", "true")
	}
	b.Mutate(ctx, alma.Mutation{
		Op:          alma.OpDelete,
		Type:        "bib",
		ID:          b.MMSID,
		Path:        b.path(),
		Params:      params,
		CurrentPath: b.path(),
	})
	return b
}

// Save snapshots the current payload into the backup store without any
// remote call. No-ops on a failed handle.
func (b *Bib) Save() *Bib {
	if b.Failed() {
		return b
	}
	if err := b.WriteBackup("bib", b.MMSID); err != nil {
		b.MarkFailed("save", err)
	}
	return b
}

// RecordMMSID reads the MMS ID from controlfield 001. Useful when the
// record was fetched through its network-zone identifier.
func (b *Bib) RecordMMSID() (string, error) {
	if b.XML() == nil {
		return "", fmt.Errorf("inventory: no bib data available")
	}
	el := b.XML().Find(`//controlfield[@tag='001']`)
	if el == nil {
		return "", fmt.Errorf("inventory: no controlfield 001 in record")
	}
	return el.Text(), nil
}

// AddFields appends deep copies of the given fields to the record and
// re-sorts it. No-ops on a failed handle.
func (b *Bib) AddFields(fields ...*etree.Element) *Bib {
	if b.Failed() {
		return b
	}
	if b.XML() == nil {
		b.MarkFailed("add_fields", fmt.Errorf("inventory: no bib data available"))
		return b
	}
	record := b.XML().Find("//record")
	if record == nil {
		b.MarkFailed("add_fields", fmt.Errorf("inventory: no record element in data"))
		return b
	}
	for _, f := range fields {
		record.AddChild(f.Copy())
	}
	return b.SortFields()
}

// SortFields orders the record fields by tag. No-ops on a failed handle.
func (b *Bib) SortFields() *Bib {
	if b.Failed() {
		return b
	}
	if b.XML() == nil {
		b.MarkFailed("sort_fields", fmt.Errorf("inventory: no bib data available"))
		return b
	}
	if err := b.XML().SortRecordFields(); err != nil {
		b.MarkFailed("sort_fields", err)
	}
	return b
}

func (b *Bib) payload() ([]byte, error) {
	if b.Data() == nil {
		return nil, fmt.Errorf("inventory: no bib data available")
	}
	return b.Data().Bytes()
}

func (b *Bib) applyXML(resp *request.Response) error {
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		return err
	}
	b.SetData(data)
	return nil
}
