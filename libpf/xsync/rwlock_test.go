// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/fleet-profiler/libpf/xsync"
)

func TestRWMutexInvalidatesReference(t *testing.T) {
	counters := xsync.NewRWMutex(map[string]int{})

	m := counters.WLock()
	(*m)["a"] = 1
	counters.WUnlock(&m)
	assert.Nil(t, m)

	r := counters.RLock()
	defer counters.RUnlock(&r)
	assert.Equal(t, 1, (*r)["a"])
}

func TestRWMutexConcurrentWriters(t *testing.T) {
	total := xsync.NewRWMutex(uint64(0))
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				v := total.WLock()
				*v++
				total.WUnlock(&v)
			}
		}()
	}
	wg.Wait()

	v := total.RLock()
	defer total.RUnlock(&v)
	assert.Equal(t, uint64(1600), *v)
}
