// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"context"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/registry"
)

type nativeDriver struct{}

// newNativeDriver returns a driver that always fails with ErrUnsupported.
func newNativeDriver(Config, *captureLimiter) Driver {
	return nativeDriver{}
}

func (nativeDriver) Kind() libpf.RuntimeKind {
	return libpf.Native
}

func (nativeDriver) Sample(context.Context, *registry.ProcessHandle, time.Duration,
	EmitFunc) error {
	return ErrUnsupported
}
