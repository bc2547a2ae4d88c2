package util

import "reflect"

func IsZero(i interface{}) bool {
	return IsZeroVal(reflect.ValueOf(i))
}

// IsZeroVal reports whether v holds zero value of its type.
// Unlike == comparison of interfaces, it works for not comparable types like slices.
func IsZeroVal(v reflect.Value) bool {
	return v.IsZero()
}
