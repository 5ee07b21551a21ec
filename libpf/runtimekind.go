// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/fleet-profiler/libpf"

import (
	"fmt"
	"strings"
)

// RuntimeKind identifies the runtime a profiled process executes. Every kind maps to
// exactly one sampler driver and one symbolization strategy.
type RuntimeKind int

const (
	// UnknownRuntime signifies that the runtime could not be classified.
	UnknownRuntime RuntimeKind = iota
	// Native identifies processes running compiled code only (C, C++, Go, Rust, ...).
	Native
	// JVM identifies processes running a Java virtual machine.
	JVM
	// Python identifies processes running the CPython interpreter.
	Python
	// Ruby identifies processes running the Ruby interpreter.
	Ruby

	// maxRuntimes indicates the max. number of different runtime kinds
	maxRuntimes
)

var runtimeKindToString = map[RuntimeKind]string{
	UnknownRuntime: "unknown",
	Native:         "native",
	JVM:            "jvm",
	Python:         "python",
	Ruby:           "ruby",
}

var stringToRuntimeKind = make(map[string]RuntimeKind, len(runtimeKindToString))

func init() {
	for k, v := range runtimeKindToString {
		stringToRuntimeKind[v] = k
	}
	// Accepted for compatibility with the names used by the interpreter tracers.
	stringToRuntimeKind["java"] = JVM
	stringToRuntimeKind["hotspot"] = JVM
	stringToRuntimeKind["cpython"] = Python
}

// RuntimeKindFromString returns the RuntimeKind for name, or UnknownRuntime.
func RuntimeKindFromString(name string) RuntimeKind {
	if result, ok := stringToRuntimeKind[name]; ok {
		return result
	}
	return UnknownRuntime
}

// String converts the runtime kind to its display name.
func (k RuntimeKind) String() string {
	if result, ok := runtimeKindToString[k]; ok {
		return result
	}
	//nolint:goconst
	return "<invalid>"
}

// AllRuntimeKinds returns every known (non-unknown) runtime kind in ascending order.
func AllRuntimeKinds() []RuntimeKind {
	kinds := make([]RuntimeKind, 0, maxRuntimes-1)
	for kind := Native; kind < maxRuntimes; kind++ {
		kinds = append(kinds, kind)
	}
	return kinds
}

// IncludedRuntimes holds information about which runtime kinds are enabled.
type IncludedRuntimes uint16

// String returns a comma-separated list of enabled runtimes.
func (r IncludedRuntimes) String() string {
	var names []string
	for _, kind := range AllRuntimeKinds() {
		if r.Has(kind) {
			names = append(names, kind.String())
		}
	}
	return strings.Join(names, ",")
}

// Has returns true if the given runtime kind is enabled.
func (r IncludedRuntimes) Has(kind RuntimeKind) bool {
	return r&(1<<kind) != 0
}

// Enable enables the given runtime kind.
func (r *IncludedRuntimes) Enable(kind RuntimeKind) {
	*r |= 1 << kind
}

// Disable disables the given runtime kind.
func (r *IncludedRuntimes) Disable(kind RuntimeKind) {
	*r &= ^(1 << kind)
}

// AllRuntimes is a shortcut that returns an element with all runtimes enabled.
func AllRuntimes() IncludedRuntimes {
	var result IncludedRuntimes
	for _, kind := range AllRuntimeKinds() {
		result.Enable(kind)
	}
	return result
}

// ParseRuntimes parses a string that specifies one or more runtimes to profile.
// Valid inputs are 'all', or any comma-delimited combination of runtime names.
func ParseRuntimes(runtimes string) (IncludedRuntimes, error) {
	var result IncludedRuntimes

	for name := range strings.SplitSeq(runtimes, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == "all" {
			result = AllRuntimes()
			continue
		}
		kind := RuntimeKindFromString(name)
		if kind == UnknownRuntime {
			return result, fmt.Errorf("unknown runtime: %s", name)
		}
		result.Enable(kind)
	}

	return result, nil
}
