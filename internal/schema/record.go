package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformedRecord is returned for record documents that are not JSON
// objects or lack a string id.
var ErrMalformedRecord = errors.New("malformed record")

// Record is one stored entity kept as its verbatim JSON document.
//
// The envelope fields are extracted when the record is parsed; the document
// itself is never re-encoded so unknown fields survive storage and transfer.
type Record struct {
	ID      string
	Created string
	Updated string

	raw json.RawMessage
}

// ParseRecord validates data as a record document and extracts its
// envelope. The document is stored compacted; the caller keeps data.
func ParseRecord(data []byte) (*Record, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedRecord)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedRecord, doc.Type)
	}

	id := doc.Get("id")
	if id.Type != gjson.String || id.Str == "" {
		return nil, fmt.Errorf("%w: id is required", ErrMalformedRecord)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	return &Record{
		ID:      id.Str,
		Created: doc.Get("created").String(),
		Updated: doc.Get("updated").String(),
		raw:     compact.Bytes(),
	}, nil
}

// NewRecord encodes v (usually one of the typed entities) as a record.
func NewRecord(v any) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return ParseRecord(data)
}

// Raw returns the record document.
func (r *Record) Raw() json.RawMessage {
	return r.raw
}

// UpdatedTime returns the parsed updated timestamp, or the Unix epoch when
// the field is absent or unparseable.
func (r *Record) UpdatedTime() time.Time {
	return timeOf(gjson.GetBytes(r.raw, "updated"))
}

// Ref returns the id held in a soft reference field, or "" when unset.
func (r *Record) Ref(field string) string {
	v := gjson.GetBytes(r.raw, field)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

// Field returns the raw value of an arbitrary top-level field.
func (r *Record) Field(name string) gjson.Result {
	return gjson.GetBytes(r.raw, name)
}

// WithoutField returns a copy of the record with field removed. The
// envelope is unchanged.
func (r *Record) WithoutField(field string) (*Record, error) {
	data, err := sjson.DeleteBytes(bytes.Clone(r.raw), field)
	if err != nil {
		return nil, fmt.Errorf("failed to remove %s from %s: %w", field, r.ID, err)
	}
	return &Record{ID: r.ID, Created: r.Created, Updated: r.Updated, raw: data}, nil
}

// Decode unmarshals the record document into v.
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", r.ID, err)
	}
	return nil
}

// Equal reports whether both records hold byte-identical documents.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return bytes.Equal(r.raw, other.raw)
}

// MarshalJSON implements json.Marshaler by emitting the verbatim document.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.raw == nil {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRecord(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
