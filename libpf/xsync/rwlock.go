// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/fleet-profiler/libpf/xsync"

import "sync"

// RWMutex wraps sync.RWMutex together with the value it guards. The value can only be
// reached through RLock or WLock, so forgetting to take the lock does not compile.
//
//	tracked := xsync.NewRWMutex(map[libpf.PID]*Handle{})
//	handles := tracked.WLock()
//	defer tracked.WUnlock(&handles)
//	(*handles)[pid] = h
//
// The unlock functions nil out the borrowed pointer, so use after unlock panics in tests
// instead of silently racing.
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a new read-write mutex guarding the given value.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{guarded: guarded}
}

// RLock locks for reading and returns a pointer to the guarded value. The pointer must
// not be written through or retained beyond the matching RUnlock.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock releases a read lock and invalidates the pointer obtained from RLock.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks for writing and returns a pointer to the guarded value. The pointer must
// not be retained beyond the matching WUnlock.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock releases a write lock and invalidates the pointer obtained from WLock.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
