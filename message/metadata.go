package message

import (
	"encoding/json"
	"sort"
)

// Metadata is a read-only string map. Changes produce a new Metadata, so a
// value can be shared between messages without copying.
type Metadata struct {
	values map[string]string
}

// NewMetadata copies values into a new Metadata
func NewMetadata(values map[string]string) Metadata {
	md := Metadata{values: make(map[string]string, len(values))}
	for k, v := range values {
		md.values[k] = v
	}
	return md
}

// Get returns the value for key
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Value returns the value for key or an empty string
func (m Metadata) Value(key string) string {
	return m.values[key]
}

// Len returns the number of entries
func (m Metadata) Len() int {
	return len(m.values)
}

// Keys returns the keys in sorted order
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of the entries
func (m Metadata) Values() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Copy returns a Metadata backed by its own map
func (m Metadata) Copy() Metadata {
	return NewMetadata(m.values)
}

// With returns a copy with key set to value
func (m Metadata) With(key, value string) Metadata {
	md := m.Copy()
	md.values[key] = value
	return md
}

// Without returns a copy with key removed
func (m Metadata) Without(key string) Metadata {
	md := m.Copy()
	delete(md.values, key)
	return md
}

// MarshalJSON encodes the entries as a JSON object
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.values)
}

// UnmarshalJSON decodes a JSON object of strings
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*m = NewMetadata(values)
	return nil
}
