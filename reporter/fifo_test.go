// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifo(t *testing.T) {
	tests := map[string]struct {
		size           uint32
		data           []int
		returned       []int
		overwriteCount uint32
	}{
		"full":     {size: 5, data: []int{1, 2, 3, 4, 5}, returned: []int{1, 2, 3, 4, 5}},
		"overflow": {size: 3, data: []int{1, 2, 3, 4, 5}, returned: []int{3, 4, 5}, overwriteCount: 2},
		"partial":  {size: 15, data: []int{1, 2, 3}, returned: []int{1, 2, 3}},
		"empty":    {size: 2, data: nil, returned: []int{}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fifo := &FifoRingBuffer[int]{}
			require.NoError(t, fifo.InitFifo(tc.size, t.Name(), nil))

			for _, v := range tc.data {
				fifo.Append(v)
			}
			assert.Equal(t, min(len(tc.data), int(tc.size)), fifo.Len())

			data := fifo.ReadAll()
			for i, v := range fifo.data {
				assert.Zerof(t, v, "fifo not empty after ReadAll(), idx: %d", i)
			}
			assert.Equal(t, tc.returned, data)
			assert.Zero(t, fifo.Len())
			assert.Equal(t, tc.overwriteCount, fifo.GetOverwriteCount())
			assert.Zero(t, fifo.GetOverwriteCount(), "overwrite count not reset")
		})
	}
}

func TestFifoInvalidSize(t *testing.T) {
	fifo := &FifoRingBuffer[int]{}
	require.Error(t, fifo.InitFifo(0, t.Name(), nil))
}

func TestFifoReuse(t *testing.T) {
	var dropped []string
	fifo := &FifoRingBuffer[*Payload]{}
	require.NoError(t, fifo.InitFifo(2, t.Name(), func(p *Payload) {
		dropped = append(dropped, p.Name)
	}))

	a, b, c := &Payload{Name: "a"}, &Payload{Name: "b"}, &Payload{Name: "c"}
	fifo.Append(a)
	assert.Equal(t, []*Payload{a}, fifo.ReadAll())

	fifo.Append(b)
	fifo.Append(c)
	fifo.Append(a)
	assert.Equal(t, []*Payload{c, a}, fifo.ReadAll())
	assert.Equal(t, uint32(1), fifo.GetOverwriteCount())
	assert.Equal(t, []string{"b"}, dropped)
}
