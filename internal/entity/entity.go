// Package entity defines the typed records of the library domain and the
// schema descriptors that map them to and from relational rows. Each entity
// declares its fields once; decoding, persistence maps and display
// sanitization are derived from that single declaration without reflection.
package entity

import (
	"bibliodesk.org/internal/apperr"
)

// Row is a generic column-to-value map produced by the store and consumed by
// schema decoding. Values are normalized to bool, int64 or string.
type Row = map[string]any

// Audience identifies who a display map is rendered for.
type Audience int

const (
	// Public is an unprivileged API consumer.
	Public Audience = iota
	// Manage is a privileged management API consumer.
	Manage
)

// Kind is the declared value kind of a field.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
)

// Visibility controls which display audiences may see a field.
type Visibility int

const (
	// Visible fields appear in every display map.
	Visible Visibility = iota
	// HiddenPublic fields are stripped from unprivileged display maps.
	HiddenPublic
	// HiddenAlways fields never appear in any display map.
	HiddenAlways
)

// Field describes one column-backed field of entity T.
type Field[T any] struct {
	Name    string
	Kind    Kind
	Derived bool
	Hide    Visibility
	Get     func(*T) any
	Set     func(*T, any)
}

// DerivedField marks the field as read-time computed: populated from joined
// views, never persisted.
func (f Field[T]) DerivedField() Field[T] {
	f.Derived = true
	return f
}

// Hidden sets the display visibility of the field.
func (f Field[T]) Hidden(v Visibility) Field[T] {
	f.Hide = v
	return f
}

// Bool declares a boolean field backed by a 0/1 column.
func Bool[T any](name string, ptr func(*T) *bool) Field[T] {
	return Field[T]{
		Name: name,
		Kind: KindBool,
		Get:  func(e *T) any { return *ptr(e) },
		Set:  func(e *T, v any) { *ptr(e) = v.(bool) },
	}
}

// Int declares an integer field.
func Int[T any](name string, ptr func(*T) *int64) Field[T] {
	return Field[T]{
		Name: name,
		Kind: KindInt,
		Get:  func(e *T) any { return *ptr(e) },
		Set:  func(e *T, v any) { *ptr(e) = v.(int64) },
	}
}

// String declares a string field.
func String[T any](name string, ptr func(*T) *string) Field[T] {
	return Field[T]{
		Name: name,
		Kind: KindString,
		Get:  func(e *T) any { return *ptr(e) },
		Set:  func(e *T, v any) { *ptr(e) = v.(string) },
	}
}

// Schema is the field declaration of entity T.
type Schema[T any] struct {
	fields []Field[T]
	index  map[string]int
}

// NewSchema builds a schema from field declarations.
func NewSchema[T any](fields ...Field[T]) *Schema[T] {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}
	return &Schema[T]{fields: fields, index: index}
}

type validator interface {
	Validate() error
}

// Decode assigns row values onto dst. Unknown keys raise field_invalid when
// strict; when not strict they are skipped, which is how extended rows carry
// the columns of other joined entities. A 0/1 integer delivered for a
// declared boolean is coerced; any other kind mismatch raises field_invalid.
// The entity's own Validate runs after assignment and is the single
// validation gate for data in both directions.
func (s *Schema[T]) Decode(dst *T, row Row, strict bool) error {
	for key, raw := range row {
		i, ok := s.index[key]
		if !ok {
			if strict {
				return apperr.FieldInvalid(key, raw)
			}
			continue
		}
		f := s.fields[i]
		value, err := coerce(f.Kind, key, raw)
		if err != nil {
			return err
		}
		f.Set(dst, value)
	}
	if v, ok := any(dst).(validator); ok {
		return v.Validate()
	}
	return nil
}

// StoredMap renders the persisted row of src: derived fields are excluded,
// booleans become 0/1. Nested entities are not schema fields and therefore
// never reach storage.
func (s *Schema[T]) StoredMap(src *T) Row {
	row := make(Row, len(s.fields))
	for _, f := range s.fields {
		if f.Derived {
			continue
		}
		v := f.Get(src)
		if b, ok := v.(bool); ok {
			if b {
				v = int64(1)
			} else {
				v = int64(0)
			}
		}
		row[f.Name] = v
	}
	return row
}

// DisplayMap renders src for an API audience, stripping every field the
// schema marks sensitive for that audience. Derived fields are included only
// when the instance was produced by an extended read.
func (s *Schema[T]) DisplayMap(src *T, aud Audience, withDerived bool) Row {
	row := make(Row, len(s.fields))
	for _, f := range s.fields {
		if f.Derived && !withDerived {
			continue
		}
		switch f.Hide {
		case HiddenAlways:
			continue
		case HiddenPublic:
			if aud == Public {
				continue
			}
		}
		row[f.Name] = f.Get(src)
	}
	return row
}

func coerce(kind Kind, field string, raw any) (any, error) {
	switch kind {
	case KindBool:
		switch t := raw.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case int:
			return t != 0, nil
		}
	case KindInt:
		switch t := raw.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			// JSON numbers arrive as float64; accept integral values only.
			if t == float64(int64(t)) {
				return int64(t), nil
			}
		}
	case KindString:
		if t, ok := raw.(string); ok {
			return t, nil
		}
	}
	return nil, apperr.FieldInvalid(field, raw)
}
