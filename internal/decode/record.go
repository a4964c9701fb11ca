package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RecordSet is the decoded-but-unnormalized incident section of a document.
// It maps a record class ("active", "recent") to a sequence of records.
type RecordSet map[string]any

// Record is one loosely-typed upstream record. Every accessor has a defined
// default so that missing fields never fail a batch.
type Record map[string]any

// Section returns the named object inside the document. A missing or null
// section is an empty RecordSet; any other non-object is ErrUnexpectedShape.
func (d Document) Section(name string) (RecordSet, error) {
	v, ok := d[name]
	if !ok || v == nil {
		return RecordSet{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s, want object", ErrUnexpectedShape, name, kind(v))
	}
	return RecordSet(m), nil
}

// List returns the named array inside the document (e.g. "agencies").
func (d Document) List(name string) ([]any, error) {
	return list(d, name)
}

// Class returns the raw elements of one record class. A missing or null class
// is empty; a class that is not an array is ErrUnexpectedShape.
func (rs RecordSet) Class(name string) ([]any, error) {
	return list(rs, name)
}

// AsRecord reports whether v is an object and returns it as a Record.
func AsRecord(v any) (Record, bool) {
	m, ok := v.(map[string]any)
	return Record(m), ok
}

// Has reports whether key is present with a non-null value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the scalar at key rendered as text, or "" when the key is
// missing, null, or not a scalar.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// StringOr is String with a fallback for missing or empty values.
func (r Record) StringOr(key, fallback string) string {
	if s := r.String(key); s != "" {
		return s
	}
	return fallback
}

// List returns the array at key with the same rules as RecordSet.Class.
func (r Record) List(key string) ([]any, error) {
	return list(r, key)
}

func list(m map[string]any, key string) ([]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s, want array", ErrUnexpectedShape, key, kind(v))
	}
	return s, nil
}
