package fieldmap

import "time"

// Provenance records which extraction method produced a field value.
// Rank orders methods: lower is more literal and wins conflicts.
type Provenance struct {
	Method     string    `json:"method"`
	Rank       int       `json:"rank"`
	ObservedAt time.Time `json:"observed_at"`
}

// Field pairs a value with its provenance.
type Field struct {
	Value Value      `json:"value"`
	Prov  Provenance `json:"prov"`
}

// Map is the accumulated extracted-data map of a session. Values keep their
// provenance so a later, lower-confidence method cannot silently overwrite
// an earlier, more literal one.
type Map map[string]Field

// Get returns the value for name if set and non-empty.
func (m Map) Get(name string) (Value, bool) {
	f, ok := m[name]
	if !ok || f.Value.IsZero() {
		return Value{}, false
	}
	return f.Value, true
}

// Set stores the field unconditionally.
func (m Map) Set(name string, f Field) {
	m[name] = f
}

// Apply stores the field only if it wins against any existing entry: a new
// value overwrites iff it comes from a strictly lower rank (higher priority)
// method. Reports whether the map changed.
func (m Map) Apply(name string, f Field) bool {
	existing, ok := m[name]
	if ok && !existing.Value.IsZero() && existing.Prov.Rank <= f.Prov.Rank {
		return false
	}
	m[name] = f
	return true
}

// Has reports whether name is present with a non-empty value.
func (m Map) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Values flattens the map to plain values, dropping provenance.
func (m Map) Values() map[string]Value {
	out := make(map[string]Value, len(m))
	for k, f := range m {
		out[k] = f.Value
	}
	return out
}

// Clone deep-copies the map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, f := range m {
		out[k] = f
	}
	return out
}
