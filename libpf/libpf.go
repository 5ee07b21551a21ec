// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds small types and helpers shared across the profiler.
package libpf // import "go.opentelemetry.io/fleet-profiler/libpf"

// Void allows to use maps as sets without memory allocation for the values.
// From the "Go Programming Language":
//
//	The struct type with no fields is called the empty struct, written struct{}. It has size zero
//	and carries no information but may be useful nonetheless. Some Go programmers
//	use it instead of bool as the value type of a map that represents a set, to emphasize
//	that only the keys are significant, but the space saving is marginal and the syntax more
//	cumbersome, so we generally avoid it.
type Void struct{}

// PID represent Unix Process ID (pid_t)
type PID uint32

// Hash32 returns a 32 bit hash of the PID, as needed by the LRU caches.
func (p PID) Hash32() uint32 {
	return uint32(p)
}
