// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collapse // import "go.opentelemetry.io/fleet-profiler/collapse"

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

// DefaultPerfMapPath returns the perf map a JIT (e.g. node --perf-basic-prof) writes
// for pid, as seen from the host.
func DefaultPerfMapPath(pid libpf.PID) string {
	return fmt.Sprintf("/proc/%d/root/tmp/perf-%d.map", pid, pid)
}

// parsePerfMap parses the "START SIZE symbolname" lines of a perf map. Malformed
// lines are skipped, a JIT might still be writing the file.
func parsePerfMap(r io.Reader) (*libpf.SymbolMap, error) {
	symmap := libpf.NewSymbolMap(1024)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 3)
		if len(fields) != 3 || fields[2] == "" {
			continue
		}
		start, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil || size == 0 {
			continue
		}
		symmap.Add(libpf.Symbol{
			Name:    libpf.SymbolName(fields[2]),
			Address: libpf.SymbolValue(start),
			Size:    size,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	symmap.Finalize()
	return symmap, nil
}
