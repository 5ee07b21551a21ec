// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/fleet-profiler/libpf/xsync"

import (
	"sync"
	"sync/atomic"
)

// OnceValue lazily computes a value and caches both the value and the error.
// The zero value is ready to use.
type OnceValue[T any] struct {
	fn atomic.Pointer[func() (T, error)]
}

// GetOrInit returns the cached result, running init on first use. Concurrent callers
// share the single execution of init.
func (o *OnceValue[T]) GetOrInit(init func() (T, error)) (T, error) {
	fn := o.fn.Load()
	if fn == nil {
		candidate := sync.OnceValues(init)
		if o.fn.CompareAndSwap(nil, &candidate) {
			fn = &candidate
		} else {
			fn = o.fn.Load()
		}
	}
	return (*fn)()
}

// Get returns the cached value if it was computed without error, nil otherwise.
func (o *OnceValue[T]) Get() *T {
	fn := o.fn.Load()
	if fn == nil {
		return nil
	}
	if val, err := (*fn)(); err == nil {
		return &val
	}
	return nil
}
