package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// InputValue is the value of one input slot: either a single source uuid
// (cardinality-1 slots) or an ordered list of source uuids.
// On the wire it is a JSON string or a JSON array of strings.
type InputValue struct {
	ids  []string
	list bool
}

// SingleInput returns a bare single-reference slot value. An empty id is the
// cleared state of a cardinality-1 slot.
func SingleInput(id string) InputValue {
	if id == "" {
		return InputValue{}
	}
	return InputValue{ids: []string{id}}
}

// ListInput returns an array slot value.
func ListInput(ids ...string) InputValue {
	return InputValue{ids: append([]string{}, ids...), list: true}
}

// IsList reports whether the slot holds an array.
func (v InputValue) IsList() bool { return v.list }

// IsEmpty reports whether the slot references nothing.
func (v InputValue) IsEmpty() bool { return len(v.ids) == 0 }

// IDs returns the referenced uuids, normalizing a bare string to a list.
func (v InputValue) IDs() []string {
	return append([]string(nil), v.ids...)
}

// Single returns the bare reference, or "" for lists and empty slots.
func (v InputValue) Single() string {
	if v.list || len(v.ids) == 0 {
		return ""
	}
	return v.ids[0]
}

// Contains reports whether id is referenced.
func (v InputValue) Contains(id string) bool {
	return slices.Contains(v.ids, id)
}

// Len returns the number of references.
func (v InputValue) Len() int { return len(v.ids) }

// Append returns a list value with id appended. A bare value is promoted to a list.
func (v InputValue) Append(id string) InputValue {
	return ListInput(append(v.IDs(), id)...)
}

// Without returns v with every occurrence of id removed, keeping its shape.
func (v InputValue) Without(id string) InputValue {
	out := InputValue{list: v.list, ids: make([]string, 0, len(v.ids))}
	for _, x := range v.ids {
		if x != id {
			out.ids = append(out.ids, x)
		}
	}
	if !out.list && len(out.ids) == 0 {
		out.ids = nil
	}
	return out
}

// Clone returns an independent copy.
func (v InputValue) Clone() InputValue {
	c := InputValue{list: v.list}
	if v.ids != nil {
		c.ids = append([]string{}, v.ids...)
	}
	return c
}

// Equal reports structural equality.
func (v InputValue) Equal(o InputValue) bool {
	return v.list == o.list && slices.Equal(v.ids, o.ids)
}

// MarshalJSON encodes lists as arrays and single values as strings.
func (v InputValue) MarshalJSON() ([]byte, error) {
	if v.list {
		ids := v.ids
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	}
	return json.Marshal(v.Single())
}

// UnmarshalJSON accepts a string, an array of strings or null.
func (v *InputValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = InputValue{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return fmt.Errorf("decode input list: %w", err)
		}
		*v = ListInput(ids...)
		return nil
	default:
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decode input reference: %w", err)
		}
		*v = SingleInput(id)
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedSlotKeys returns the slot keys of inputs in a stable order.
func SortedSlotKeys(inputs map[string]InputValue) []string {
	return sortedKeys(inputs)
}
