package task

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Properties is the ordered parameter set a task is constructed with.
// It crosses the wire as a JSON object with insertion order preserved.
type Properties struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewProperties builds a property set from alternating key/value pairs.
// A trailing key without a value is stored with an empty value.
func NewProperties(kv ...string) Properties {
	p := Properties{m: orderedmap.New[string, string]()}
	for i := 0; i < len(kv); i += 2 {
		v := ""
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		p.m.Set(kv[i], v)
	}
	return p
}

func (p *Properties) Set(key, value string) {
	if p.m == nil {
		p.m = orderedmap.New[string, string]()
	}
	p.m.Set(key, value)
}

func (p Properties) Get(key string) (string, bool) {
	if p.m == nil {
		return "", false
	}
	return p.m.Get(key)
}

func (p Properties) Len() int {
	if p.m == nil {
		return 0
	}
	return p.m.Len()
}

// Keys returns property names in insertion order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, p.Len())
	p.Each(func(k, _ string) { keys = append(keys, k) })
	return keys
}

func (p Properties) Each(fn func(key, value string)) {
	if p.m == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Clone returns an independent copy with the same order.
func (p Properties) Clone() Properties {
	out := Properties{m: orderedmap.New[string, string](p.Len())}
	p.Each(func(k, v string) { out.m.Set(k, v) })
	return out
}

// Map flattens the set; order is lost.
func (p Properties) Map() map[string]string {
	out := make(map[string]string, p.Len())
	p.Each(func(k, v string) { out[k] = v })
	return out
}

func (p Properties) MarshalJSON() ([]byte, error) {
	if p.m == nil {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, string]()
	if string(data) != "null" {
		if err := m.UnmarshalJSON(data); err != nil {
			return fmt.Errorf("decode properties: %w", err)
		}
	}
	p.m = m
	return nil
}
