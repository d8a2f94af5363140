// Package util collects small helpers shared by the packages of the module.
package util

import (
	"encoding/json"
	"fmt"
)

// Map applies f to every element: (a -> b) -> [a] -> [b].
func Map[T, U any](f func(T) U, s []T) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// Stringify renders a value as JSON for error messages and logs, falling back to the Go syntax
// representation for values JSON cannot encode.
func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
