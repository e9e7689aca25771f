// Package source fetches the identity snapshot that the directory is reconciled against.
package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Record is one user, group or deletion reference as decoded from JSON.
// Numbers decode as json.Number. Absent and null fields are equivalent.
type Record map[string]any

// Has reports whether field is present and non-null.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

// String returns field as a string. Numbers and booleans are formatted;
// ok is false when the field is absent or null.
func (r Record) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	return stringify(v)
}

// Bool returns field as a boolean. True, any non-zero number and the
// strings accepted by strconv.ParseBool as true ("1", "t", "true") are true.
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Strings returns an array field as strings, skipping null elements.
// A scalar is returned as a single-element slice.
func (r Record) Strings(field string) []string {
	v, ok := r[field]
	if !ok || v == nil {
		return nil
	}

	items, isList := v.([]any)
	if !isList {
		if s, ok := stringify(v); ok {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if s, ok := stringify(item); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

// Snapshot is one fully materialized set of collections.
type Snapshot struct {
	Users         []Record `json:"users"`
	Groups        []Record `json:"groups"`
	DeletedUsers  []Record `json:"deleted_users"`
	DeletedGroups []Record `json:"deleted_groups"`
}

// Counts returns the collection sizes, for logging.
func (s *Snapshot) Counts() map[string]any {
	return map[string]any{
		"users":          len(s.Users),
		"groups":         len(s.Groups),
		"deleted_users":  len(s.DeletedUsers),
		"deleted_groups": len(s.DeletedGroups),
	}
}

// DecodeRecords decodes a JSON array of objects.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// DecodeSnapshot decodes a document with users, groups, deleted_users and
// deleted_groups arrays. Missing arrays are empty.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("snapshot document is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
