// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FifoRingBuffer implements a first-in-first-out ring buffer that is safe for
// concurrent access. When full, Append drops the oldest element.
type FifoRingBuffer[T any] struct {
	mu sync.Mutex

	data []T
	// name identifies the ring buffer in log messages.
	name string
	// onDrop is called with every element that is overwritten, under the lock.
	onDrop func(T)

	// readPos is the position of the oldest element, writePos the position the
	// next element is stored at.
	readPos  uint32
	writePos uint32
	count    uint32

	// dropped counts overwritten elements since the last GetOverwriteCount.
	dropped uint32
}

// InitFifo allocates room for size elements. onDrop may be nil.
func (q *FifoRingBuffer[T]) InitFifo(size uint32, name string, onDrop func(T)) error {
	if size == 0 {
		return fmt.Errorf("unsupported size of fifo: %d", size)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.data = make([]T, size)
	q.name = name
	q.onDrop = onDrop
	q.readPos = 0
	q.writePos = 0
	q.count = 0
	q.dropped = 0
	return nil
}

func (q *FifoRingBuffer[T]) size() uint32 {
	return uint32(len(q.data))
}

// Append adds element v to the FifoRingBuffer. It overwrites the oldest element if
// there is no space left.
func (q *FifoRingBuffer[T]) Append(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.size() {
		// Full: the oldest element is stored at writePos.
		q.dropped++
		if q.onDrop != nil {
			q.onDrop(q.data[q.writePos])
		}
	} else {
		q.count++
		if q.count == q.size() {
			log.Warnf("About to start overwriting elements in buffer for %s", q.name)
		}
	}

	q.data[q.writePos] = v
	q.writePos = (q.writePos + 1) % q.size()
	if q.count == q.size() {
		q.readPos = q.writePos
	}
}

// ReadAll removes and returns all elements, oldest first.
func (q *FifoRingBuffer[T]) ReadAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	data := make([]T, q.count)
	for i := range q.count {
		pos := (q.readPos + i) % q.size()
		data[i] = q.data[pos]
		// Allow for element to be GCed
		q.data[pos] = zero
	}

	q.readPos = q.writePos
	q.count = 0
	return data
}

// Len returns the number of queued elements.
func (q *FifoRingBuffer[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.count)
}

// GetOverwriteCount returns and resets the number of dropped elements.
func (q *FifoRingBuffer[T]) GetOverwriteCount() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := q.dropped
	q.dropped = 0
	return count
}
