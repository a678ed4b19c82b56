// Package record defines the document types stored by the engine and the
// schema validation applied at the storage boundary.
package record

import (
	"fmt"
	"math"
	"strconv"
)

// Record is an opaque JSON-like document. Every stored record carries a
// required `id` field that is stable across syncs; everything else is
// domain data the engine does not interpret.
type Record map[string]any

// Key returns the canonical string key for the record's `id` field.
//
// The id may be a string or an integer (JSON numbers decode as float64).
// The original value stays untouched in the document body; only the storage
// key is canonicalized.
func (r Record) Key() (string, error) {
	id, ok := r["id"]
	if !ok {
		return "", fmt.Errorf("record has no id field")
	}
	return KeyOf(id)
}

// KeyOf canonicalizes an id value into a storage key.
func KeyOf(id any) (string, error) {
	switch v := id.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("record id is empty")
		}
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v != math.Trunc(v) {
			return "", fmt.Errorf("record id %v is not an integer", v)
		}
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", fmt.Errorf("record id has unsupported type %T", id)
	}
}

// Clone returns a shallow copy of the record. Nested values are shared;
// callers that mutate nested structures must copy them first.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the record's field as a string, or "" when absent or not
// a string. Convenience for filter helpers.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}
