// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file contains the CLI flags that are only meant for development builds.
// Only builds tagged with 'internal' will contain the additional arguments.
//go:build internal

package main

import (
	"flag"

	"go.opentelemetry.io/fleet-profiler/internal/controller"
)

var includeSelfHelp = "Allow the profiler to sample its own process."

func init() {
	extraFlags = append(extraFlags, func(fs *flag.FlagSet, args *controller.Config) {
		fs.BoolVar(&args.IncludeSelf, "private-include-self", false, includeSelfHelp)
	})
}
