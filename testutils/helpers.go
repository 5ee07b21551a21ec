// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutils contains helpers for tests that profile real processes.
package testutils // import "go.opentelemetry.io/fleet-profiler/testutils"

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

func IsRoot() bool {
	return os.Geteuid() == 0
}

// RequireTool skips the test if name cannot be found in PATH and returns its
// location otherwise.
func RequireTool(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found in PATH", name)
	}
	return path
}

// Workload is a container running a process to profile.
type Workload struct {
	testcontainers.Container
	// PID is the host PID of the container's main process.
	PID libpf.PID
	// ContainerID is the full container ID.
	ContainerID string
}

// StartWorkload runs cmd in a container created from image and waits until the
// process logged ready.
func StartWorkload(ctx context.Context, t *testing.T, image string, cmd []string,
	ready string) *Workload {
	t.Helper()
	t.Log("starting container", image)
	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      image,
			Cmd:        cmd,
			WaitingFor: wait.ForLog(ready).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cont.Terminate(context.Background())
	})

	info, err := cont.Inspect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info.State)
	require.NotZero(t, info.State.Pid)

	return &Workload{
		Container:   cont,
		PID:         libpf.PID(info.State.Pid),
		ContainerID: cont.GetContainerID(),
	}
}
