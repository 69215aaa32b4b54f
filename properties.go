package spark8s

// Properties is an ordered set of configuration key/value pairs. Keys keep
// their insertion position, also when their value is overwritten.
type Properties struct {
	keys   []string
	values map[string]string
}

// NewProperties returns an empty Properties set.
func NewProperties() *Properties {
	return &Properties{values: map[string]string{}}
}

// Set stores a value under key, appending the key if it is new.
func (p *Properties) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p *Properties) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of stored pairs.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Merge returns a new set holding the receiver's pairs with other's pairs
// applied on top: existing keys are overwritten in place, new keys appended.
func (p *Properties) Merge(other *Properties) *Properties {
	merged := NewProperties()
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		merged.Set(k, v)
	}
	for _, k := range other.Keys() {
		v, _ := other.Get(k)
		merged.Set(k, v)
	}
	return merged
}
