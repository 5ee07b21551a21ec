// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package xsync provides thin wrappers around synchronization primitives that keep
// the protected data reachable only through the lock.
package xsync // import "go.opentelemetry.io/fleet-profiler/libpf/xsync"
