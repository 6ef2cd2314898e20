// Package mapper translates between the plan schema and the booking
// system's schema using declarative dotted-path specs. It does no
// business validation.
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Field maps the value at From to To. When the value is a list and Items
// is set, every element is mapped with Items.
type Field struct {
	From  string
	To    string
	Items Spec
	// OmitMissing drops the destination key instead of writing nil when
	// the source path is absent.
	OmitMissing bool
}

type Spec []Field

// Project walks s over src. Any absent key along From yields nil at To.
func Project(src map[string]any, s Spec) map[string]any {
	out := map[string]any{}
	for _, f := range s {
		v, ok := Get(src, f.From)
		if !ok {
			if !f.OmitMissing {
				Set(out, f.To, nil)
			}
			continue
		}
		if f.Items != nil {
			v = projectItems(v, f.Items)
		}
		Set(out, f.To, v)
	}
	return out
}

func projectItems(v any, items Spec) any {
	list, ok := v.([]any)
	if !ok {
		if m, ok := v.(map[string]any); ok {
			return Project(m, items)
		}
		return v
	}
	out := make([]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			out = append(out, Project(m, items))
			continue
		}
		out = append(out, el)
	}
	return out
}

// Reverse swaps the direction of every field, recursively.
func Reverse(s Spec) Spec {
	out := make(Spec, 0, len(s))
	for _, f := range s {
		r := Field{From: f.To, To: f.From, OmitMissing: f.OmitMissing}
		if f.Items != nil {
			r.Items = Reverse(f.Items)
		}
		out = append(out, r)
	}
	return out
}

// Lift maps an external document back to the internal shape.
func Lift(ext map[string]any, reverse Spec) map[string]any {
	return Project(ext, reverse)
}

// Get resolves a dotted path. Missing keys and non-map intermediates
// report ok=false.
func Get(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes v at a dotted path, creating intermediate maps.
func Set(m map[string]any, path string, v any) {
	keys := strings.Split(path, ".")
	node := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[key] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = v
}

// ToMap converts a JSON-tagged value into a generic map.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal to map: %w", err)
	}
	return out, nil
}

// Decode fills out from a generic map, honouring json tags and converting
// loosely typed scalars ("20" to int, 42 to "42").
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
