// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collapse

import (
	"context"
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/process"
	"go.opentelemetry.io/fleet-profiler/registry"
	"go.opentelemetry.io/fleet-profiler/sampler"
)

type fakeProcess struct {
	pid      libpf.PID
	mappings []process.Mapping
}

func (p *fakeProcess) PID() libpf.PID { return p.pid }

func (p *fakeProcess) GetMappings() ([]process.Mapping, uint32, error) {
	return p.mappings, 0, nil
}

func (p *fakeProcess) GetMeta() (process.Meta, error) {
	return process.Meta{PID: p.pid}, nil
}

func (p *fakeProcess) OpenMappingFile(*process.Mapping) (process.ReadAtCloser, error) {
	return nil, errors.New("not backed by a file")
}

func (p *fakeProcess) Close() error { return nil }

const jitBase = 0x7f0000000000

func newTestCollapser(t *testing.T, includeComm bool) (*Collapser, *atomic.Int32) {
	t.Helper()
	dir := t.TempDir()

	kallsyms := filepath.Join(dir, "kallsyms")
	require.NoError(t, os.WriteFile(kallsyms, []byte(
		"ffffffff81000000 T _stext\n"+
			"ffffffff81001000 T do_syscall_64\n"+
			"ffffffff81002000 t entry_SYSCALL_64_after_hwframe\n"+
			"ffffffff81003000 D some_data\n"), 0o644))

	perfMap := filepath.Join(dir, "perf.map")
	require.NoError(t, os.WriteFile(perfMap, []byte(
		"7f0000001000 100 LazyCompile:*handler /app/server.js:10\n"+
			"7f0000002000 80 Builtin:ArgumentsAdaptorTrampoline\n"), 0o644))

	var opened atomic.Int32
	c, err := New(Config{
		IncludeComm:  includeComm,
		KallsymsPath: kallsyms,
		PerfMapPath:  func(libpf.PID) string { return perfMap },
		OpenProcess: func(_ context.Context, pid libpf.PID) (process.Process, error) {
			opened.Add(1)
			return &fakeProcess{
				pid: pid,
				mappings: []process.Mapping{{
					Vaddr:  jitBase,
					Length: 0x10000,
					Flags:  elf.PF_R | elf.PF_X,
				}},
			}, nil
		},
	})
	require.NoError(t, err)
	return c, &opened
}

func handle(pid libpf.PID, runtime libpf.RuntimeKind) *registry.ProcessHandle {
	return &registry.ProcessHandle{PID: pid, Runtime: runtime, Comm: "app", Generation: 1}
}

func TestCollapseManaged(t *testing.T) {
	c, _ := newTestCollapser(t, false)
	h := handle(10, libpf.Python)

	s := sampler.RawSample{PID: 10, TID: 10, Frames: []sampler.Frame{
		{Type: libpf.PythonFrame, Name: "compute", File: "/srv/app.py"},
		{Type: libpf.ManagedNativeFrame, Name: "_PyEval_EvalFrameDefault",
			File: "libpython3.11.so"},
		{Type: libpf.PythonFrame, Name: "main", File: "/srv/app.py"},
	}}

	stack, err := c.Collapse(h, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.main", "_PyEval_EvalFrameDefault_[pn]", "app.compute"},
		stack.Frames)
	assert.Equal(t, uint64(1), stack.Count)
	assert.Equal(t, "app.main;_PyEval_EvalFrameDefault_[pn];app.compute", stack.Key())

	again, err := c.Collapse(h, s)
	require.NoError(t, err)
	assert.Equal(t, stack, again)
}

func TestCollapseIncludeComm(t *testing.T) {
	c, _ := newTestCollapser(t, true)
	h := handle(11, libpf.JVM)

	stack, err := c.Collapse(h, sampler.RawSample{PID: 11, Frames: []sampler.Frame{
		{Type: libpf.JVMFrame, Name: "com.example.App.compute", File: "App.java:10"},
		{Type: libpf.JVMFrame, Name: "com.example.App.main", File: "App.java:20"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "app;com.example.App.main;com.example.App.compute", stack.Key())
}

func TestCollapseUnknownKeepsDepth(t *testing.T) {
	c, _ := newTestCollapser(t, false)
	h := handle(12, libpf.Ruby)

	stack, err := c.Collapse(h, sampler.RawSample{PID: 12, Frames: []sampler.Frame{
		{Type: libpf.RubyFrame, Name: "work", File: "/app/worker.rb"},
		{Type: libpf.RubyFrame, Name: ""},
		{Type: libpf.RubyFrame, Name: "<main>", File: "/app/worker.rb"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker.<main>", UnknownName, "worker.work"}, stack.Frames)
}

func TestCollapseErrors(t *testing.T) {
	c, _ := newTestCollapser(t, false)
	h := handle(13, libpf.Python)

	_, err := c.Collapse(h, sampler.RawSample{PID: 13})
	require.ErrorIs(t, err, ErrEmptySample)

	_, err = c.Collapse(h, sampler.RawSample{PID: 14, Frames: []sampler.Frame{
		{Type: libpf.PythonFrame, Name: "f"},
	}})
	require.ErrorIs(t, err, ErrForeignSample)
}

func TestCollapseKernelAndJIT(t *testing.T) {
	c, opened := newTestCollapser(t, false)
	h := handle(20, libpf.Native)

	s := sampler.RawSample{PID: 20, Frames: []sampler.Frame{
		{Type: libpf.KernelFrame, Address: 0xffffffff81001010},
		// Return address right after the end of the function.
		{Type: libpf.KernelFrame, Address: 0xffffffff81003000},
		{Type: libpf.NativeFrame, Address: jitBase + 0x1010},
		{Type: libpf.NativeFrame, Address: jitBase + 0x2001},
		{Type: libpf.NativeFrame, Address: 0x1234},
	}}
	stack, err := c.Collapse(h, s)
	require.NoError(t, err)
	assert.Equal(t, []string{
		UnknownName,
		"Builtin:ArgumentsAdaptorTrampoline",
		"LazyCompile:*handler /app/server.js:10",
		"entry_SYSCALL_64_after_hwframe_[k]",
		"do_syscall_64_[k]",
	}, stack.Frames)

	// The cached perf map resolves the same sample to the same stack.
	cached, err := c.Collapse(h, s)
	require.NoError(t, err)
	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, stack, cached)

	c.Invalidate(h)
	reloaded, err := c.Collapse(h, s)
	require.NoError(t, err)
	assert.Equal(t, int32(2), opened.Load())
	assert.Equal(t, stack, reloaded)

	// A restarted process gets its own cache entry.
	restarted := *h
	restarted.Generation++
	fresh, err := c.Collapse(&restarted, s)
	require.NoError(t, err)
	assert.Equal(t, int32(3), opened.Load())
	assert.Equal(t, stack.Frames, fresh.Frames)
}

//go:noinline
func symbolizationTarget(n int) int {
	return n * 7
}

func TestCollapseELFSymbols(t *testing.T) {
	pid := libpf.PID(os.Getpid())
	pr, err := process.New(context.Background(), pid, nil)
	require.NoError(t, err)
	if _, _, err = pr.GetMappings(); err != nil {
		t.Skipf("mappings not readable: %v", err)
	}

	c, err := New(Config{})
	require.NoError(t, err)

	pc := reflect.ValueOf(symbolizationTarget).Pointer()
	require.Equal(t, 21, symbolizationTarget(3))
	stack, err := c.Collapse(handle(pid, libpf.Native), sampler.RawSample{
		PID:    pid,
		Frames: []sampler.Frame{{Type: libpf.NativeFrame, Address: libpf.Address(pc)}},
	})
	require.NoError(t, err)
	require.Len(t, stack.Frames, 1)
	assert.Contains(t, stack.Frames[0], "collapse.symbolizationTarget")
}

func TestManagedName(t *testing.T) {
	tests := map[string]struct {
		frame    sampler.Frame
		expected string
	}{
		"python module": {
			frame:    sampler.Frame{Type: libpf.PythonFrame, Name: "wait", File: "/usr/lib/python3.11/threading.py"},
			expected: "threading.wait",
		},
		"python no file": {
			frame:    sampler.Frame{Type: libpf.PythonFrame, Name: "wait"},
			expected: "wait",
		},
		"ruby": {
			frame:    sampler.Frame{Type: libpf.RubyFrame, Name: "block in work", File: "/app/worker.rb"},
			expected: "worker.block in work",
		},
		"jvm": {
			frame:    sampler.Frame{Type: libpf.JVMFrame, Name: "java.util.HashMap.hash", File: "HashMap.java:338"},
			expected: "java.util.HashMap.hash",
		},
		"managed native": {
			frame:    sampler.Frame{Type: libpf.ManagedNativeFrame, Name: "PyObject_Call"},
			expected: "PyObject_Call_[pn]",
		},
		"separator": {
			frame:    sampler.Frame{Type: libpf.JVMFrame, Name: "a;b"},
			expected: "a:b",
		},
		"empty": {
			frame:    sampler.Frame{Type: libpf.PythonFrame, Name: "  "},
			expected: "",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, managedName(tc.frame))
		})
	}
}

func TestDemangleName(t *testing.T) {
	assert.Equal(t, "foo::bar", demangleName("_ZN3foo3barEv"))
	assert.Equal(t, "main.main", demangleName("main.main"))
}
