// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/fleet-profiler/vc"

import (
	"fmt"
	"runtime"
)

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.

	// revision of the service
	revision = ""
	// buildTimestamp, timestamp of the build
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// Revision of the service.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Summary returns a single line describing the build, as printed by -version and
// embedded into emitted payloads.
func Summary() string {
	return fmt.Sprintf("fleet-profiler %s (revision %s, built %s, %s/%s)",
		Version(), orUnknown(revision), orUnknown(buildTimestamp),
		runtime.GOOS, runtime.GOARCH)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
