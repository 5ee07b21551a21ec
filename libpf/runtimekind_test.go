// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuntimes(t *testing.T) {
	tests := map[string]struct {
		in       string
		expected []RuntimeKind
		err      bool
	}{
		"all":            {in: "all", expected: AllRuntimeKinds()},
		"all trailing":   {in: "all,", expected: AllRuntimeKinds()},
		"single":         {in: "python", expected: []RuntimeKind{Python}},
		"alias":          {in: "java", expected: []RuntimeKind{JVM}},
		"mixed case":     {in: " Native , RUBY", expected: []RuntimeKind{Native, Ruby}},
		"empty":          {in: "", expected: nil},
		"unknown":        {in: "perl", err: true},
		"unknown string": {in: "unknown", err: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			included, err := ParseRuntimes(tc.in)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, kind := range AllRuntimeKinds() {
				assert.Equal(t, contains(tc.expected, kind), included.Has(kind),
					"runtime %s", kind)
			}
		})
	}
}

func TestParseRuntimesQuiet(t *testing.T) {
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)

	for range 3 {
		_, err := ParseRuntimes("all")
		require.NoError(t, err)
	}
	assert.Empty(t, hook.AllEntries())
}

func contains(kinds []RuntimeKind, kind RuntimeKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestRuntimeKindString(t *testing.T) {
	assert.Equal(t, "jvm", JVM.String())
	assert.Equal(t, "<invalid>", RuntimeKind(42).String())
	assert.Equal(t, Ruby, RuntimeKindFromString("ruby"))
	assert.Equal(t, UnknownRuntime, RuntimeKindFromString("cobol"))

	var included IncludedRuntimes
	included.Enable(Python)
	included.Enable(Native)
	assert.Equal(t, "native,python", included.String())
	included.Disable(Native)
	assert.Equal(t, "python", included.String())
}

func TestAddJitter(t *testing.T) {
	for range 100 {
		d := AddJitter(1000, 0.2)
		assert.GreaterOrEqual(t, int64(d), int64(800))
		assert.LessOrEqual(t, int64(d), int64(1200))
	}
	assert.EqualValues(t, 1000, AddJitter(1000, 2))
}

func TestSet(t *testing.T) {
	assert.True(t, SliceToSet([]PID{1, 2, 2}).Has(2))
	assert.Len(t, SliceToSet([]PID{1, 2, 2}).ToSlice(), 2)
}
