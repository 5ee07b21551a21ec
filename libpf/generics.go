// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/fleet-profiler/libpf"

// Set is a convenience alias for a map with a `Void` key.
type Set[T comparable] map[T]Void

// Has reports whether item is a member of the set.
func (s Set[T]) Has(item T) bool {
	_, ok := s[item]
	return ok
}

// ToSlice converts the Set keys into a slice.
func (s Set[T]) ToSlice() []T {
	slice := make([]T, 0, len(s))
	for item := range s {
		slice = append(slice, item)
	}
	return slice
}

// SliceToSet creates a set from a slice, deduplicating it.
func SliceToSet[T comparable](s []T) Set[T] {
	set := make(map[T]Void, len(s))
	for _, item := range s {
		set[item] = Void{}
	}
	return set
}
