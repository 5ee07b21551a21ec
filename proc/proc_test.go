// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

func assertSymbol(t *testing.T, symmap *libpf.SymbolMap, name libpf.SymbolName,
	expectedAddress libpf.SymbolValue) {
	t.Helper()
	sym, off, ok := symmap.LookupByAddress(expectedAddress)
	require.True(t, ok, "no symbol at %#x", expectedAddress)
	assert.Equal(t, name, sym)
	assert.Zero(t, off)
}

func TestParseKallSyms(t *testing.T) {
	// Check parsing as if we were non-root
	symmap, err := GetKallsyms("testdata/kallsyms_0")
	require.Error(t, err)
	require.Nil(t, symmap)

	// Check parsing invalid file
	symmap, err = GetKallsyms("testdata/kallsyms_invalid")
	require.Error(t, err)
	require.Nil(t, symmap)

	// Happy case
	symmap, err = GetKallsyms("testdata/kallsyms")
	require.NoError(t, err)
	require.NotNil(t, symmap)

	assertSymbol(t, symmap, "schedule", 0xffffffff810a5460)
	assertSymbol(t, symmap, "hid_add_device", 0xffffffffc033e550)
	sym, _, _ := symmap.LookupByAddress(0xffffffff81c00000)
	assert.NotEqual(t, libpf.SymbolName("init_task"), sym, "data symbols are skipped")

	name, off, ok := symmap.LookupByAddress(0xffffffff810a4c30)
	require.True(t, ok)
	assert.Equal(t, libpf.SymbolName("__schedule"), name)
	assert.Equal(t, libpf.Address(0x10), off)
}

func TestListPIDs(t *testing.T) {
	pids, err := ListPIDs()
	require.NoError(t, err)
	assert.Contains(t, pids, libpf.PID(os.Getpid()))

	_, err = listPIDs("testdata/does-not-exist")
	require.Error(t, err)
}

func TestNamespacePID(t *testing.T) {
	self := libpf.PID(os.Getpid())
	nspid, err := NamespacePID(self)
	require.NoError(t, err)
	assert.Equal(t, self, nspid)

	nspid, err = namespacePID("testdata/procfs", 4242)
	require.NoError(t, err)
	assert.Equal(t, libpf.PID(7), nspid)

	nspid, err = namespacePID("testdata/procfs", 4243)
	require.NoError(t, err)
	assert.Equal(t, libpf.PID(4243), nspid, "no NSpid line")

	_, err = namespacePID("testdata/procfs", 4244)
	require.Error(t, err)
}

func TestIsPIDLive(t *testing.T) {
	live, err := IsPIDLive(libpf.PID(os.Getpid()))
	require.NoError(t, err)
	assert.True(t, live)

	// PIDs are limited to 2^22 on Linux.
	live, err = IsPIDLive(libpf.PID(1 << 30))
	require.NoError(t, err)
	assert.False(t, live)
}
