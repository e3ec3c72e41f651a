package cache

import (
	"encoding/json"

	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/models"
)

// Validator guards a key against persisting a payload that would poison the
// next cold start. A non-nil error skips the write.
type Validator func(data any) error

// ItemList accepts arrays whose every element is an object carrying each of
// the required fields with a non-empty value. An empty array is valid.
func ItemList(required ...string) Validator {
	return func(data any) error {
		items, err := asItems(data)
		if err != nil {
			return err
		}
		for i, item := range items {
			for _, field := range required {
				if !item.Has(field) {
					return fault.Validation("item %d is missing %q", i, field)
				}
			}
		}
		return nil
	}
}

// Object accepts any JSON object.
func Object() Validator {
	return func(data any) error {
		switch v := data.(type) {
		case models.Item:
			if v != nil {
				return nil
			}
		case map[string]any:
			if v != nil {
				return nil
			}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return fault.Validation("payload is not encodable: %v", err)
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return fault.Validation("expected an object, got %T", data)
		}
		return nil
	}
}

func asItems(data any) ([]models.Item, error) {
	switch v := data.(type) {
	case []models.Item:
		return v, nil
	case []map[string]any:
		items := make([]models.Item, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, nil
	case []any:
		items := make([]models.Item, len(v))
		for i, el := range v {
			switch m := el.(type) {
			case models.Item:
				items[i] = m
			case map[string]any:
				items[i] = m
			default:
				return nil, fault.Validation("item %d is %T, not an object", i, el)
			}
		}
		return items, nil
	case nil:
		return nil, fault.Validation("expected an array, got null")
	}

	// Typed slices of structs go through their JSON form.
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fault.Validation("payload is not encodable: %v", err)
	}
	var items []models.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fault.Validation("expected an array of objects, got %T", data)
	}
	return items, nil
}
