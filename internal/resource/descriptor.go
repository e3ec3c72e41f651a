package resource

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"goflare.io/freshen/config"
	"goflare.io/freshen/internal/cache"
	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/models"
)

// Descriptor tells a Store where a resource lives and how to read it.
type Descriptor[T any] struct {
	Name      string
	Key       string
	Path      string
	Policy    config.ExpiryPolicy
	Extract   func(body []byte) (T, error)
	Validator cache.Validator
}

// ListDescriptor describes a list resource. Responses may be a bare array or
// an object holding the array under one of fields or under "data". Items are
// normalized so that every one carries _id. Cached lists must carry every
// required field on each item.
func ListDescriptor(name, key, path string, policy config.ExpiryPolicy, fields, required []string) Descriptor[[]models.Item] {
	candidates := append(append([]string{}, fields...), "data")
	return Descriptor[[]models.Item]{
		Name:   name,
		Key:    key,
		Path:   path,
		Policy: policy,
		Extract: func(body []byte) ([]models.Item, error) {
			return extractList(body, candidates)
		},
		Validator: cache.ItemList(required...),
	}
}

// ObjectDescriptor describes a single-object resource. The object is taken
// from "data" when that is an object, then from field, then the body itself.
func ObjectDescriptor(name, key, path string, policy config.ExpiryPolicy, field string) Descriptor[models.Item] {
	return Descriptor[models.Item]{
		Name:   name,
		Key:    key,
		Path:   path,
		Policy: policy,
		Extract: func(body []byte) (models.Item, error) {
			return extractObject(body, field)
		},
		Validator: cache.Object(),
	}
}

func extractList(body []byte, fields []string) ([]models.Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, fault.Validation("response is not valid JSON")
	}
	root := gjson.ParseBytes(body)

	raw := ""
	switch {
	case root.IsArray():
		raw = root.Raw
	case root.IsObject():
		for _, field := range fields {
			if v := root.Get(gjson.Escape(field)); v.IsArray() {
				raw = v.Raw
				break
			}
		}
	}
	if raw == "" {
		return nil, fault.Validation("response holds no list under %v", fields)
	}

	var items []models.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fault.Validation("list elements must be objects: %v", err)
	}
	for i, it := range items {
		if it == nil {
			return nil, fault.Validation("list element %d is null", i)
		}
	}
	return models.NormalizeAll(items), nil
}

func extractObject(body []byte, field string) (models.Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, fault.Validation("response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fault.Validation("response is not an object")
	}

	target := root
	if v := root.Get("data"); v.IsObject() {
		target = v
	} else if field != "" {
		if v := root.Get(gjson.Escape(field)); v.IsObject() {
			target = v
		}
	}

	var obj models.Item
	if err := json.Unmarshal([]byte(target.Raw), &obj); err != nil {
		return nil, fault.Validation("decode object: %v", err)
	}
	return obj, nil
}
