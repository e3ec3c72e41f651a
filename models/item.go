package models

import "fmt"

// Item is a single record of a list resource as returned by the backend.
// Only the identifying fields are interpreted here.
type Item map[string]any

// ID returns the normalized identifier, or "" when the item has none.
func (it Item) ID() string {
	return fieldString(it, "_id")
}

// Normalized returns a copy of the item with _id populated from id when missing.
// Calling it on an already normalized item returns an equal item.
func (it Item) Normalized() Item {
	out := make(Item, len(it)+1)
	for k, v := range it {
		out[k] = v
	}
	if isBlank(out["_id"]) {
		if id, ok := out["id"]; ok && !isBlank(id) {
			out["_id"] = id
		}
	}
	return out
}

// Has reports whether field is present and not blank.
func (it Item) Has(field string) bool {
	return !isBlank(it[field])
}

// NormalizeAll normalizes every item of list into a new slice.
func NormalizeAll(list []Item) []Item {
	out := make([]Item, len(list))
	for i, it := range list {
		out[i] = it.Normalized()
	}
	return out
}

func fieldString(it Item, field string) string {
	v, ok := it[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
