// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package registry // import "go.opentelemetry.io/fleet-profiler/registry"

import (
	"context"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/process"
)

// containerIDLifetime is the time a resolved container ID stays cached.
const containerIDLifetime = 90 * time.Second

// systemInspector inspects processes through procfs.
type systemInspector struct {
	containers *process.ContainerIDCache
}

// NewSystemInspector returns an Inspector reading the host's procfs.
func NewSystemInspector() (Inspector, error) {
	containers, err := process.NewContainerIDCache(containerIDLifetime)
	if err != nil {
		return nil, err
	}
	return &systemInspector{containers: containers}, nil
}

func (si *systemInspector) Inspect(ctx context.Context, pid libpf.PID) (process.Meta, error) {
	return process.Inspect(ctx, pid, si.containers)
}
