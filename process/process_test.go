// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"debug/elf"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

//nolint:lll
var testMappings = `55fe82710000-55fe8273c000 r--p 00000000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8273c000-55fe827be000 r-xp 0002c000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8283d000-55fe8283e000 rw-p 0012c000 fd:01 1068432                    /tmp/usr_bin_seahorse (deleted)
7f63c8c3e000-7f63c8de0000 r-xp 00085000 08:01 1048922                    /usr/lib/x86_64-linux-gnu/libc.so.6
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd:01
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd.01 1075944
7f63c8eef000-7f63c8fdf000 r- 0001c000 1fd:01 1075944
7f63c8eef000 r-xp 0001c000 1fd:01 1075944
7f63c8ef0000-7f63c8ef1000 ---p 00000000 00:00 0
7ffd4a5f8000-7ffd4a5fa000 r-xp 00000000 00:00 0                          [vdso]
7ffd4a5fc000-7ffd4a5fd000 r--p 00000000 00:00 0                          [vvar]
7f8b929f0000-7f8b92a00000 r-xp 00000000 00:00 0 `

func TestParseMappings(t *testing.T) {
	mappings, numParseErrors, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)
	require.Equal(t, uint32(4), numParseErrors)

	expected := []Mapping{
		{
			Vaddr:  0x55fe82710000,
			Device: 0xfd01,
			Flags:  elf.PF_R,
			Inode:  1068432,
			Length: 0x2c000,
			Path:   "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x55fe8273c000,
			Device:     0xfd01,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1068432,
			Length:     0x82000,
			FileOffset: 0x2c000,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x55fe8283d000,
			Device:     0xfd01,
			Flags:      elf.PF_R + elf.PF_W,
			Inode:      1068432,
			Length:     0x1000,
			FileOffset: 0x12c000,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x7f63c8c3e000,
			Device:     0x0801,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1048922,
			Length:     0x1A2000,
			FileOffset: 0x85000,
			Path:       "/usr/lib/x86_64-linux-gnu/libc.so.6",
		},
		{
			Vaddr:  0x7ffd4a5f8000,
			Flags:  elf.PF_R + elf.PF_X,
			Inode:  vdsoInode,
			Length: 0x2000,
			Path:   VdsoPathName,
		},
		{
			Vaddr:  0x7f8b929f0000,
			Flags:  elf.PF_R + elf.PF_X,
			Length: 0x10000,
		},
	}
	assert.Equal(t, expected, mappings)

	m := FindMapping(mappings, 0x55fe8273c010)
	require.NotNil(t, m)
	assert.Equal(t, uint64(0x2c010), m.FileOffsetOf(0x55fe8273c010))
	assert.Nil(t, FindMapping(mappings, 0x55fe82710010), "non-executable mapping")
	assert.True(t, mappings[5].IsAnonymous())
	assert.True(t, mappings[4].IsVDSO())
}

func TestClassify(t *testing.T) {
	lib := func(path string) []Mapping {
		return []Mapping{{Path: path, Flags: elf.PF_R | elf.PF_X}}
	}
	tests := map[string]struct {
		exe      string
		mappings []Mapping
		expected libpf.RuntimeKind
	}{
		"java":             {exe: "/usr/lib/jvm/bin/java", expected: libpf.JVM},
		"embedded jvm":     {exe: "/opt/app/launcher", mappings: lib("/usr/lib/jvm/lib/server/libjvm.so"), expected: libpf.JVM},
		"python3.11":       {exe: "/usr/bin/python3.11", expected: libpf.Python},
		"python":           {exe: "/usr/local/bin/python", expected: libpf.Python},
		"uwsgi libpython":  {exe: "/usr/bin/uwsgi", mappings: lib("/usr/lib/libpython3.10.so.1.0"), expected: libpf.Python},
		"ruby":             {exe: "/usr/bin/ruby3.2", expected: libpf.Ruby},
		"embedded ruby":    {exe: "/usr/bin/puma", mappings: lib("/usr/lib/libruby-3.1.so.3.1"), expected: libpf.Ruby},
		"native":           {exe: "/usr/sbin/nginx", mappings: lib("/usr/lib/libc.so.6"), expected: libpf.Native},
		"python lookalike": {exe: "/usr/bin/pythonista", expected: libpf.Native},
		"unknown exe":      {exe: "", expected: libpf.Native},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.exe, tc.mappings))
		})
	}
}

func TestRuntimeVersion(t *testing.T) {
	lib := func(path string) []Mapping {
		return []Mapping{{Path: "/usr/lib/libc.so.6"}, {Path: path}}
	}
	root := fstest.MapFS{
		"usr/lib/jvm/java-17/release": {Data: []byte(
			"IMPLEMENTOR=\"Eclipse Adoptium\"\nJAVA_VERSION=\"17.0.9\"\n")},
		"opt/jdk8/release": {Data: []byte("JAVA_VERSION=\"1.8.0_392\"\n")},
	}
	tests := map[string]struct {
		kind     libpf.RuntimeKind
		exe      string
		mappings []Mapping
		expected string
	}{
		"python exe":     {kind: libpf.Python, exe: "/usr/bin/python3.11", expected: "3.11"},
		"python lib":     {kind: libpf.Python, exe: "/usr/bin/python3", mappings: lib("/usr/lib/libpython3.10.so.1.0"), expected: "3.10"},
		"python unknown": {kind: libpf.Python, exe: "/usr/bin/python3"},
		"ruby lib":       {kind: libpf.Ruby, exe: "/usr/local/bin/ruby", mappings: lib("/usr/local/lib/libruby.so.3.2.2"), expected: "3.2.2"},
		"ruby soname":    {kind: libpf.Ruby, exe: "/usr/bin/puma", mappings: lib("/usr/lib/libruby-3.1.so.3.1"), expected: "3.1"},
		"ruby exe":       {kind: libpf.Ruby, exe: "/usr/bin/ruby3.2", expected: "3.2"},
		"java exe":       {kind: libpf.JVM, exe: "/usr/lib/jvm/java-17/bin/java", expected: "17.0.9"},
		"java 8 libjvm":  {kind: libpf.JVM, exe: "/opt/app/launcher", mappings: lib("/opt/jdk8/jre/lib/amd64/server/libjvm.so"), expected: "1.8.0_392"},
		"java no file":   {kind: libpf.JVM, exe: "/opt/other/bin/java"},
		"native":         {kind: libpf.Native, exe: "/usr/bin/python3.11"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RuntimeVersion(tc.kind, tc.exe, tc.mappings, root))
		})
	}
	assert.Empty(t, RuntimeVersion(libpf.JVM, "/usr/lib/jvm/java-17/bin/java", nil, nil))
}

func TestDetectLibc(t *testing.T) {
	assert.Equal(t, LibcUnknown, DetectLibc(nil))
	assert.Equal(t, LibcGlibc, DetectLibc([]Mapping{{Path: "/lib/x86_64-linux-gnu/libc.so.6"}}))
	assert.Equal(t, LibcMusl, DetectLibc([]Mapping{{Path: "/lib/ld-musl-x86_64.so.1"}}))
	assert.Equal(t, LibcStatic, DetectLibc([]Mapping{{Path: "/usr/local/bin/app"}}))
}

func TestExtractContainerID(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected string
	}{
		"perf": {
			input:    "10:perf_event:/kubepods.slice/kubepods-burstable.slice/kubepods-burstable-podf6f2d169_f2ae_4afa-95ed_06ff2ed6b288.slice/cri-containerd-b4d6d161c62525d726fa394b27df30e14f8ea5646313ada576b390de70cfc8cc.scope",
			expected: "b4d6d161c62525d726fa394b27df30e14f8ea5646313ada576b390de70cfc8cc",
		},
		"crio": {
			input:    "3:crio:/kubepods/besteffort/pod897277d4-5e6f-4999-a976-b8340e8d075e/crio-a4d6b686848a610472a2eed3ae20d4d64b6b4819feb9fdfc7fd7854deaf59ef3",
			expected: "a4d6b686848a610472a2eed3ae20d4d64b6b4819feb9fdfc7fd7854deaf59ef3",
		},
		"dockerv2": {
			input:    "0::/system.slice/docker-b1eef8c0f0b1e1b4d5e5c0b7a5d1e7f0c3c7d0e5a9a2b1e1f4e0d3c2b1a0f9e8.scope",
			expected: "b1eef8c0f0b1e1b4d5e5c0b7a5d1e7f0c3c7d0e5a9a2b1e1f4e0d3c2b1a0f9e8",
		},
		"dockerv2 init": {
			input:    "0::/docker/b1eef8c0f0b1e1b4d5e5c0b7a5d1e7f0c3c7d0e5a9a2b1e1f4e0d3c2b1a0f9e8/init",
			expected: "b1eef8c0f0b1e1b4d5e5c0b7a5d1e7f0c3c7d0e5a9a2b1e1f4e0d3c2b1a0f9e8",
		},
		"host root": {input: "0::/", expected: ""},
		"host user slice": {
			input:    "0::/user.slice/user-1000.slice/session-2.scope",
			expected: "",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseContainerID(strings.NewReader(tc.input)))
		})
	}
}

func TestNewPIDOfSelf(t *testing.T) {
	pid := libpf.PID(os.Getpid())
	pr, err := New(context.Background(), pid, nil)
	require.NoError(t, err)
	defer pr.Close()

	mappings, numParseErrors, err := pr.GetMappings()
	require.NoError(t, err)
	require.Equal(t, uint32(0), numParseErrors)
	assert.NotEmpty(t, mappings)

	meta, err := pr.GetMeta()
	require.NoError(t, err)
	assert.Equal(t, pid, meta.PID)
	assert.NotEmpty(t, meta.Comm)
	assert.Equal(t, libpf.Native, meta.Runtime)
	assert.NotEmpty(t, meta.GoVersion)
	assert.WithinDuration(t, time.Now(), meta.StartTime, time.Hour)
	assert.NotZero(t, meta.Generation())
}

func TestContainerIDCache(t *testing.T) {
	cache, err := NewContainerIDCache(time.Minute)
	require.NoError(t, err)

	pid := libpf.PID(os.Getpid())
	started := time.Now().Add(-time.Minute)
	first, err := cache.Lookup(pid, started)
	require.NoError(t, err)
	second, err := cache.Lookup(pid, started)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A previous process with the same PID ran in a container.
	const previousID = "b4d6d161c62525d726fa394b27df30e14f8ea5646313ada576b390de70cfc8cc"
	earlier := started.Add(-time.Hour)
	cache.cache.Add(containerKey{pid: pid, startTime: earlier.UnixNano()}, previousID)

	id, err := cache.Lookup(pid, earlier)
	require.NoError(t, err)
	assert.Equal(t, previousID, id)
	id, err = cache.Lookup(pid, started)
	require.NoError(t, err)
	assert.Equal(t, first, id)
	assert.NotEqual(t, previousID, id)
}

func TestInspectZombie(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := libpf.PID(cmd.Process.Pid)
	t.Cleanup(func() { _ = cmd.Wait() })

	// The child stays a zombie until it is reaped by Wait.
	require.Eventually(t, func() bool {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return false
		}
		_, rest, _ := strings.Cut(string(stat), ") ")
		return strings.HasPrefix(rest, "Z")
	}, 5*time.Second, 10*time.Millisecond)

	_, err := Inspect(context.Background(), pid, nil)
	require.ErrorIs(t, err, ErrNoMappings)
}
