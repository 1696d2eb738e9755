package alma

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/spf13/afero"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// Data is a resource payload in its wire document form.
type Data interface {
	Bytes() ([]byte, error)
	Format() request.Format
}

// XMLData wraps an XML document. Used by bibliographic and inventory
// resources.
type XMLData struct {
	doc *etree.Document
}

// NewXMLData parses XML content.
func NewXMLData(content []byte) (*XMLData, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return nil, fmt.Errorf("alma: failed to parse XML data: %w", err)
	}
	return &XMLData{doc: doc}, nil
}

// NewXMLDataFromFile reads and parses an XML file, typically a backup
// snapshot used to force-restore a record.
func NewXMLDataFromFile(fs afero.Fs, path string) (*XMLData, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("alma: failed to read XML file %s: %w", path, err)
	}
	return NewXMLData(raw)
}

// NewXMLDataFromElement wraps a deep copy of the element in a document of
// its own, e.g. to lift one entry out of a list response.
func NewXMLDataFromElement(el *etree.Element) *XMLData {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	return &XMLData{doc: doc}
}

// Doc returns the underlying document for direct manipulation.
func (d *XMLData) Doc() *etree.Document { return d.doc }

// Root returns the document root element.
func (d *XMLData) Root() *etree.Element { return d.doc.Root() }

// Find returns the first element matching the etree path, or nil.
func (d *XMLData) Find(path string) *etree.Element {
	return d.doc.FindElement(path)
}

// Bytes serializes the document.
func (d *XMLData) Bytes() ([]byte, error) {
	return d.doc.WriteToBytes()
}

// Format returns the wire format.
func (d *XMLData) Format() request.Format { return request.FormatXML }

// String pretty-prints the document.
func (d *XMLData) String() string {
	dup := d.doc.Copy()
	dup.Indent(2)
	s, err := dup.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// SortRecordFields sorts the datafields and controlfields of the MARC
// record element by their tag attribute. Fails when the document carries
// no record element.
func (d *XMLData) SortRecordFields() error {
	record := d.doc.FindElement("//record")
	if record == nil {
		return fmt.Errorf("alma: no record element available in data")
	}

	fields := record.ChildElements()
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].SelectAttrValue("tag", "000") < fields[j].SelectAttrValue("tag", "000")
	})

	for _, f := range fields {
		record.RemoveChild(f)
	}
	for _, f := range fields {
		record.AddChild(f)
	}
	return nil
}

// JSONData wraps a JSON document. Used by users, sets and job instances.
type JSONData struct {
	Content map[string]any
}

// NewJSONData wraps existing content.
func NewJSONData(content map[string]any) *JSONData {
	if content == nil {
		content = map[string]any{}
	}
	return &JSONData{Content: content}
}

// NewJSONDataFromBytes parses JSON content.
func NewJSONDataFromBytes(raw []byte) (*JSONData, error) {
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("alma: failed to parse JSON data: %w", err)
	}
	return &JSONData{Content: content}, nil
}

// NewJSONDataFromFile reads and parses a JSON file.
func NewJSONDataFromFile(fs afero.Fs, path string) (*JSONData, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("alma: failed to read JSON file %s: %w", path, err)
	}
	return NewJSONDataFromBytes(raw)
}

// Bytes serializes the document.
func (d *JSONData) Bytes() ([]byte, error) {
	return json.Marshal(d.Content)
}

// Format returns the wire format.
func (d *JSONData) Format() request.Format { return request.FormatJSON }

// String pretty-prints the document.
func (d *JSONData) String() string {
	s, err := json.MarshalIndent(d.Content, "", "  ")
	if err != nil {
		return ""
	}
	return string(s)
}

// Get returns the value at a dot-separated path, e.g.
// "user_group.value".
func (d *JSONData) Get(path string) (any, bool) {
	current := any(d.Content)
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes the value at a dot-separated path, creating intermediate
// objects as needed. Fails when an intermediate node exists but is not an
// object.
func (d *JSONData) Set(path string, value any) error {
	keys := strings.Split(path, ".")
	current := d.Content
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key]
		if !ok {
			child := map[string]any{}
			current[key] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("alma: %q is not an object", key)
		}
		current = child
	}
	current[keys[len(keys)-1]] = value
	return nil
}
