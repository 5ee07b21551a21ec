// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolMap(t *testing.T) {
	symmap := NewSymbolMap(4)
	symmap.Add(Symbol{Name: "main", Address: 0x1000, Size: 0x100})
	symmap.Add(Symbol{Name: "foo", Address: 0x1200, Size: 0x10})
	symmap.Add(Symbol{Name: "bar", Address: 0x2000})
	symmap.Finalize()

	require.Equal(t, 3, symmap.Len())

	tests := map[string]struct {
		addr   SymbolValue
		name   SymbolName
		offset Address
		ok     bool
	}{
		"start of main":    {addr: 0x1000, name: "main", offset: 0, ok: true},
		"inside main":      {addr: 0x1042, name: "main", offset: 0x42, ok: true},
		"gap after main":   {addr: 0x1100, ok: false},
		"inside foo":       {addr: 0x1205, name: "foo", offset: 5, ok: true},
		"sizeless bar":     {addr: 0x9000, name: "bar", offset: 0x7000, ok: true},
		"before first sym": {addr: 0x10, ok: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sym, off, ok := symmap.LookupByAddress(tc.addr)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.name, sym)
				assert.Equal(t, tc.offset, off)
			}
		})
	}
}

func TestFrameTypeSuffix(t *testing.T) {
	assert.Equal(t, "_[k]", KernelFrame.Suffix())
	assert.Equal(t, "_[pn]", ManagedNativeFrame.Suffix())
	assert.Empty(t, PythonFrame.Suffix())
	assert.True(t, NativeFrame.IsAddress())
	assert.False(t, RubyFrame.IsAddress())
	assert.Equal(t, JVMFrame, JVM.Frame())
}
