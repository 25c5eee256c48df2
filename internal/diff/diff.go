// Package diff computes field-level change sets between two snapshots of a
// governed record.
package diff

import (
	"reflect"
	"sort"

	"steward/internal/docstore"
)

// Change is one field that differs between snapshots. Absent fields appear as
// nil on the side where they are missing.
type Change struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// HousekeepingFields never appear in a change set.
var HousekeepingFields = []string{"id", "lastModifiedBy", "lastModifiedAt"}

type options struct {
	ignore    map[string]struct{}
	unordered map[string]struct{}
}

// Option tunes a comparison.
type Option func(*options)

// IgnoreFields excludes additional keys on top of HousekeepingFields.
func IgnoreFields(fields ...string) Option {
	return func(o *options) {
		for _, f := range fields {
			o.ignore[f] = struct{}{}
		}
	}
}

// UnorderedFields treats the named array fields as sets: element order does
// not count as a change.
func UnorderedFields(fields ...string) Option {
	return func(o *options) {
		for _, f := range fields {
			o.unordered[f] = struct{}{}
		}
	}
}

// Diff returns one Change per top-level field whose normalized values differ,
// ordered by field name. It returns nil when the snapshots are equivalent.
//
// Values are compared after JSON normalization, so 3 and 3.0 are equal and an
// absent field equals an explicit null. Arrays are compared element by element
// unless the field is listed in UnorderedFields.
func Diff(oldSnap, newSnap map[string]any, opts ...Option) []Change {
	o := options{
		ignore:    make(map[string]struct{}, len(HousekeepingFields)),
		unordered: make(map[string]struct{}),
	}
	for _, f := range HousekeepingFields {
		o.ignore[f] = struct{}{}
	}
	for _, opt := range opts {
		opt(&o)
	}

	keys := make(map[string]struct{}, len(oldSnap)+len(newSnap))
	for k := range oldSnap {
		keys[k] = struct{}{}
	}
	for k := range newSnap {
		keys[k] = struct{}{}
	}
	fields := make([]string, 0, len(keys))
	for k := range keys {
		if _, skip := o.ignore[k]; !skip {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	var changes []Change
	for _, f := range fields {
		oldVal := normalize(oldSnap[f])
		newVal := normalize(newSnap[f])
		_, unordered := o.unordered[f]
		if equal(oldVal, newVal, unordered) {
			continue
		}
		changes = append(changes, Change{Field: f, OldValue: oldVal, NewValue: newVal})
	}
	return changes
}

// normalize maps a value onto its JSON-decoded form. Values that cannot be
// encoded are compared as given.
func normalize(v any) any {
	n, err := docstore.Normalize(v)
	if err != nil {
		return v
	}
	return n
}

func equal(a, b any, unordered bool) bool {
	if unordered {
		as, aok := a.([]any)
		bs, bok := b.([]any)
		if aok && bok {
			return sameElements(as, bs)
		}
	}
	return reflect.DeepEqual(a, b)
}

// sameElements reports whether a and b hold the same multiset of values.
func sameElements(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
outer:
	for _, x := range a {
		for i, y := range b {
			if !used[i] && reflect.DeepEqual(x, y) {
				used[i] = true
				continue outer
			}
		}
		return false
	}
	return true
}
