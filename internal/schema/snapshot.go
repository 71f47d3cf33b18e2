package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMalformedSnapshot is returned when a snapshot or one of its known
	// collections has the wrong shape.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrCorruptPayload is returned when a received payload is not valid
	// JSON at all, which points at a truncated or damaged transfer rather
	// than a peer with a different schema.
	ErrCorruptPayload = errors.New("corrupt snapshot payload")
)

// ValidationError describes why a snapshot was rejected. Index is the
// position of the offending record, or -1 when the collection itself is at
// fault.
type ValidationError struct {
	Collection string
	Index      int
	Reason     string
	Err        error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Collection == "":
		return fmt.Sprintf("invalid snapshot: %s", e.Reason)
	case e.Index < 0:
		return fmt.Sprintf("invalid snapshot: collection %s: %s", e.Collection, e.Reason)
	default:
		return fmt.Sprintf("invalid snapshot: %s[%d]: %s", e.Collection, e.Index, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Snapshot maps collection names to their JSON arrays of records.
// Values stay undecoded until Records is called so unknown collections
// are never inspected.
type Snapshot map[string]json.RawMessage

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return make(Snapshot)
}

// DecodeSnapshot parses a snapshot document received from a peer or read
// from disk. It only checks the outer shape; records are validated by
// Records.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if !json.Valid(data) {
		return nil, ErrCorruptPayload
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ValidationError{
			Index:  -1,
			Reason: "document is not an object",
			Err:    ErrMalformedSnapshot,
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, &ValidationError{Index: -1, Reason: err.Error(), Err: ErrMalformedSnapshot}
	}
	return snap, nil
}

// Encode serializes the snapshot. Keys are written in sorted order.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := marshalNoEscape(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// marshalNoEscape is json.Marshal without HTML escaping, so note and drawing
// content travels byte-for-byte.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Has reports whether the snapshot carries a non-null value for collection.
func (s Snapshot) Has(collection string) bool {
	v, ok := s[collection]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Names returns the collection names present in the snapshot, sorted.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records decodes and validates the records of one collection in document
// order. A missing or null collection yields no records.
func (s Snapshot) Records(collection string) ([]*Record, error) {
	if !s.Has(collection) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(s[collection], &items); err != nil {
		return nil, &ValidationError{
			Collection: collection,
			Index:      -1,
			Reason:     "value is not an array",
			Err:        ErrMalformedSnapshot,
		}
	}

	records := make([]*Record, 0, len(items))
	for i, item := range items {
		rec, err := ParseRecord(item)
		if err != nil {
			return nil, &ValidationError{
				Collection: collection,
				Index:      i,
				Reason:     err.Error(),
				Err:        ErrMalformedRecord,
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetRecords replaces the collection with the given records.
func (s Snapshot) SetRecords(collection string, records []*Record) error {
	if records == nil {
		records = []*Record{}
	}
	data, err := marshalNoEscape(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", collection, err)
	}
	s[collection] = data
	return nil
}

// Len returns the total number of records in known collections. Malformed
// collections count as empty.
func (s Snapshot) Len() int {
	total := 0
	for _, name := range collections {
		records, err := s.Records(name)
		if err != nil {
			continue
		}
		total += len(records)
	}
	return total
}
