// Package metastore holds document text and metadata keyed by doc_id.
// It owns no vectors (package vectorindex does) and no cached answers
// (package factstore does) — only the record a citation points back at.
package metastore

import "time"

// UserValue is a primitive user_metadata value: string, int64, float64, or bool.
type UserValue struct {
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Kind  ValueKind
}

// ValueKind tags which field of UserValue is populated.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
)

// StringValue, IntValue, FloatValue, and BoolValue build typed UserValues.
func StringValue(s string) UserValue { return UserValue{Str: s, Kind: KindString} }
func IntValue(i int64) UserValue     { return UserValue{Int: i, Kind: KindInt} }
func FloatValue(f float64) UserValue { return UserValue{Float: f, Kind: KindFloat} }
func BoolValue(b bool) UserValue     { return UserValue{Bool: b, Kind: KindBool} }

// SystemMetadata is filled in by the store, never by the caller.
type SystemMetadata struct {
	ContentLength int
	IndexedAt     int64 // epoch seconds
}

// Document is the full metadata record for a doc_id. UserMetadata preserves
// insertion order as an ordered mapping — a plain Go map does not, so keys
// are tracked alongside the map.
type Document struct {
	DocID          string
	Text           string
	UserMetadata   map[string]UserValue
	MetadataOrder  []string
	SystemMetadata SystemMetadata
}

// Clone returns a deep copy of d so callers cannot mutate stored state
// through an aliased map or slice.
func (d *Document) Clone() *Document {
	cp := *d
	if d.UserMetadata != nil {
		cp.UserMetadata = make(map[string]UserValue, len(d.UserMetadata))
		for k, v := range d.UserMetadata {
			cp.UserMetadata[k] = v
		}
	}
	if d.MetadataOrder != nil {
		cp.MetadataOrder = append([]string(nil), d.MetadataOrder...)
	}
	return &cp
}

// now is overridable in tests; production code always uses time.Now().
var now = func() time.Time { return time.Now() }
