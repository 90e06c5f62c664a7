package model

import "encoding/json"

// Optional carries a value together with whether the caller supplied it.
// A zero Optional means "absent"; Set with a zero Value means "explicitly
// cleared".
//
// When decoded from JSON, a present key (including an explicit null) sets
// Set. Absent keys leave the field untouched.
type Optional[T any] struct {
	Set   bool
	Value T
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
