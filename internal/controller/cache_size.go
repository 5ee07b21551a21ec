// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/fleet-profiler/internal/controller"

import (
	"fmt"
	"math/bits"

	"github.com/tklauser/numcpus"
)

// sizing holds the resource limits derived from the host.
type sizing struct {
	// concurrency is the number of captures in flight, i.e. stack dump tool
	// invocations and perf setups.
	concurrency int
	// processCacheSize and fileCacheSize bound the symbol caches.
	processCacheSize uint32
	fileCacheSize    uint32
}

// hostSizing derives the resource limits from the number of present CPU cores.
func hostSizing() (sizing, error) {
	presentCores, err := numcpus.GetPresent()
	if err != nil {
		return sizing{}, fmt.Errorf("failed to read CPU file: %w", err)
	}
	return sizingForCores(presentCores), nil
}

// sizingForCores scales the limits with the number of cores. The number of
// processes on a host usually grows with its size, the caches have a minimum size
// so that small hosts keep a reasonable hit rate.
func sizingForCores(cores int) sizing {
	const (
		tasksPerCore        = 4
		minConcurrency      = 4
		maxConcurrency      = 256
		processesPerCore    = 64
		processCacheMinSize = 1024
		processCacheMaxSize = 1 << 16
		filesPerProcess     = 4
		fileCacheMinSize    = 4096
	)

	cores = max(cores, 1)
	concurrency := min(max(cores*tasksPerCore, minConcurrency), maxConcurrency)

	processes := min(max(uint32(cores*processesPerCore), processCacheMinSize),
		processCacheMaxSize)
	processes = nextPowerOfTwo(processes)
	files := nextPowerOfTwo(max(processes*filesPerProcess, fileCacheMinSize))

	return sizing{
		concurrency:      concurrency,
		processCacheSize: processes,
		fileCacheSize:    files,
	}
}

// nextPowerOfTwo returns input value if it's a power of two,
// otherwise it returns the next power of two.
func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}
