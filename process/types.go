// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file defines the interface to access a Process state.

package process // import "go.opentelemetry.io/fleet-profiler/process"

import (
	"debug/elf"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

// VdsoPathName is the path to use for VDSO mappings
const VdsoPathName = "linux-vdso.1.so"

// vdsoInode is the synthesized inode number for VDSO mappings
const vdsoInode = 50

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Device holds the device ID where the file is located
	Device uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name for file backed mappings
	Path string
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

func (m *Mapping) IsVDSO() bool {
	return m.Path == VdsoPathName
}

// Contains reports whether addr falls into the mapping.
func (m *Mapping) Contains(addr uint64) bool {
	return addr >= m.Vaddr && addr < m.Vaddr+m.Length
}

// FileOffsetOf translates a virtual address inside the mapping to an offset in the
// backing file.
func (m *Mapping) FileOffsetOf(addr uint64) uint64 {
	return addr - m.Vaddr + m.FileOffset
}

// Libc identifies the C library flavour a process is linked against.
type Libc string

const (
	LibcUnknown Libc = ""
	LibcGlibc   Libc = "glibc"
	LibcMusl    Libc = "musl"
	// LibcStatic marks processes that map no C library at all, e.g. static Go binaries.
	LibcStatic Libc = "static"
)

// Meta contains the identifying information of a process gathered at discovery time.
type Meta struct {
	PID libpf.PID
	// Comm is the kernel task name (/proc/PID/comm).
	Comm string
	// Executable is the resolved path of /proc/PID/exe.
	Executable string
	// Cmdline holds the process arguments.
	Cmdline []string
	// StartTime is the process creation time. Together with the PID it identifies one
	// process generation across PID reuse.
	StartTime time.Time
	// ContainerID is the 64 hex digit container ID, or empty outside of containers.
	ContainerID string
	// Libc is the detected C library flavour.
	Libc Libc
	// GoVersion is set for Go binaries, e.g. "go1.25.0".
	GoVersion string
	// RuntimeVersion is the version of the managed runtime, e.g. "3.11" for
	// Python or "17.0.9" for a JVM. Empty if unknown.
	RuntimeVersion string
	// Runtime is the classified runtime kind.
	Runtime libpf.RuntimeKind
}

// Generation returns a value that changes whenever PID is reused by a new process.
func (m *Meta) Generation() uint64 {
	return uint64(m.StartTime.UnixNano())
}

// ReadAtCloser interfaces implements io.ReaderAt and io.Closer
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Process is the interface to inspect a live process.
// The implementation is not safe for concurrent use.
type Process interface {
	// PID returns the process identifier
	PID() libpf.PID

	// GetMappings reads and parses process memory mappings
	GetMappings() ([]Mapping, uint32, error)

	// GetMeta gathers identification and classification data of the process
	GetMeta() (Meta, error)

	// OpenMappingFile returns ReadAtCloser accessing the backing file of the mapping
	OpenMappingFile(*Mapping) (ReadAtCloser, error)

	io.Closer
}
