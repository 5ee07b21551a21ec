// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/fleet-profiler/process"

import (
	"bufio"
	"debug/elf"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/stringutil"
)

// mappingParseBufferSize defines the initial buffer size used to store lines from
// /proc/PID/maps during parsing of mappings.
const mappingParseBufferSize = 256

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, mappingParseBufferSize)
		return &buf
	},
}

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return ""
	}
	return path
}

func parseFlags(perms string) (elf.ProgFlag, bool) {
	if len(perms) < 3 {
		return 0, false
	}
	flags := elf.ProgFlag(0)
	if perms[0] == 'r' {
		flags |= elf.PF_R
	}
	if perms[1] == 'w' {
		flags |= elf.PF_W
	}
	if perms[2] == 'x' {
		flags |= elf.PF_X
	}
	return flags, true
}

// parseMappings parses the format of /proc/PID/maps. Malformed lines are counted and
// skipped; mappings that are neither readable nor executable are dropped.
func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanBuf, ok := bufPool.Get().(*[]byte)
	if !ok || scanBuf == nil {
		return mappings, 0, errors.New("failed to get memory from sync pool")
	}
	defer bufPool.Put(scanBuf)

	scanner.Buffer(*scanBuf, 8192)
	for scanner.Scan() {
		var fields [6]string
		var addrs [2]string
		var devs [2]string

		line := stringutil.ByteSlice2String(scanner.Bytes())
		if stringutil.FieldsN(line, fields[:]) < 5 {
			numParseErrors++
			continue
		}
		if stringutil.SplitN(fields[0], "-", addrs[:]) < 2 {
			numParseErrors++
			continue
		}

		flags, ok := parseFlags(fields[1])
		if !ok {
			numParseErrors++
			continue
		}
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}

		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			log.Debugf("inode: failed to convert %s to uint64: %v", fields[4], err)
			numParseErrors++
			continue
		}

		if stringutil.SplitN(fields[3], ":", devs[:]) < 2 {
			numParseErrors++
			continue
		}
		major, err := strconv.ParseUint(devs[0], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		minor, err := strconv.ParseUint(devs[1], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		device := major<<8 + minor

		var path string
		if inode == 0 {
			switch fields[5] {
			case "[vdso]":
				// Map to something filename looking with synthesized inode
				path = VdsoPathName
				device = 0
				inode = vdsoInode
			case "":
				// Anonymous mapping, e.g. JIT code.
			default:
				// Ignore other mappings that are invalid, non-existent or are special pseudo-files
				continue
			}
		} else {
			// The scanner reuses its buffer, so the path must be copied.
			path = strings.Clone(trimMappingPath(fields[5]))
		}

		vaddr, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		vend, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Device:     device,
			Inode:      inode,
			Path:       path,
		})
	}
	return mappings, numParseErrors, scanner.Err()
}

// FindMapping returns the executable mapping covering addr, or nil.
func FindMapping(mappings []Mapping, addr uint64) *Mapping {
	for i := range mappings {
		if mappings[i].IsExecutable() && mappings[i].Contains(addr) {
			return &mappings[i]
		}
	}
	return nil
}
