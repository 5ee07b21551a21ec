// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package registry // import "go.opentelemetry.io/fleet-profiler/registry"

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/process"
)

// ProcessHandle identifies one profiled process. A handle is immutable; a restarted
// process reusing the PID gets a new handle with a different Generation.
type ProcessHandle struct {
	PID          libpf.PID
	Runtime      libpf.RuntimeKind
	DiscoveredAt time.Time
	ContainerID  string
	// Generation changes when the PID is reused by another process.
	Generation uint64

	Comm       string
	Executable string
	Cmdline    []string
	Libc       process.Libc
	GoVersion  string
	// RuntimeVersion is the version of the managed runtime, if known.
	RuntimeVersion string
}

// NewHandle creates a handle from inspected process metadata.
func NewHandle(meta *process.Meta, discoveredAt time.Time) *ProcessHandle {
	return &ProcessHandle{
		PID:          meta.PID,
		Runtime:      meta.Runtime,
		DiscoveredAt: discoveredAt,
		ContainerID:  meta.ContainerID,
		Generation:   meta.Generation(),
		Comm:         meta.Comm,
		Executable:   meta.Executable,
		Cmdline:      meta.Cmdline,
		Libc:         meta.Libc,
		GoVersion:    meta.GoVersion,

		RuntimeVersion: meta.RuntimeVersion,
	}
}

// Key identifies the handle across PID reuse.
func (h *ProcessHandle) Key() Key {
	return Key{PID: h.PID, Generation: h.Generation}
}

func (h *ProcessHandle) String() string {
	return fmt.Sprintf("%d/%s(%s)", h.PID, h.Comm, h.Runtime)
}

// Key is the (PID, generation) pair used to key per-process caches.
type Key struct {
	PID        libpf.PID
	Generation uint64
}

// Hash32 returns a 32 bit hash of the key for use in LRU caches.
func (k Key) Hash32() uint32 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(k.PID))
	binary.LittleEndian.PutUint64(buf[4:], k.Generation)
	return uint32(xxh3.Hash(buf[:]))
}
