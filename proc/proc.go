// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package proc provides functionality for retrieving kallsyms and the list of
// processes via /proc.
package proc // import "go.opentelemetry.io/fleet-profiler/proc"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/stringutil"
)

const defaultMountPoint = "/proc"

// KallsymsPath is the default location of the kernel symbol table.
const KallsymsPath = defaultMountPoint + "/kallsyms"

// GetKallsyms returns SymbolMap for kernel symbols from /proc/kallsyms.
func GetKallsyms(kallsymsPath string) (*libpf.SymbolMap, error) {
	file, err := os.Open(kallsymsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %v", kallsymsPath, err)
	}
	defer file.Close()

	return parseKallsyms(file)
}

func parseKallsyms(r io.Reader) (*libpf.SymbolMap, error) {
	symmap := libpf.NewSymbolMap(128 * 1024)
	noSymbols := true

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// The underlying bytes change with the next call to scanner.Scan(), so
		// nothing may keep a reference beyond this iteration.
		line := stringutil.ByteSlice2String(scanner.Bytes())

		var fields [4]string
		if stringutil.FieldsN(line, fields[:]) < 3 {
			return nil, fmt.Errorf("unexpected line in kallsyms: '%s'", line)
		}

		address, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse address value: '%s'", fields[0])
		}
		if address != 0 {
			noSymbols = false
		}

		// Only text symbols can appear in call chains.
		switch fields[1] {
		case "t", "T", "w", "W":
		default:
			continue
		}

		symmap.Add(libpf.Symbol{
			Name:    libpf.SymbolName(strings.Clone(fields[2])),
			Address: libpf.SymbolValue(address),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if noSymbols {
		return nil, errors.New(
			"all addresses from kallsyms are zero - check process permissions")
	}
	symmap.Finalize()

	return symmap, nil
}

// ListPIDs from the proc filesystem mount point and return a list of libpf.PID to be
// processed.
func ListPIDs() ([]libpf.PID, error) {
	return listPIDs(defaultMountPoint)
}

func listPIDs(mountPoint string) ([]libpf.PID, error) {
	files, err := os.ReadDir(mountPoint)
	if err != nil {
		return nil, err
	}
	pids := make([]libpf.PID, 0, len(files))
	for _, f := range files {
		// Make sure this is a PID file entry
		if !f.IsDir() {
			continue
		}
		pid, err := strconv.ParseUint(f.Name(), 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, libpf.PID(pid))
	}
	return pids, nil
}

// NamespacePID returns the PID of pid in its innermost PID namespace, which is the
// PID the process knows itself by. Kernels without NSpid support report pid.
func NamespacePID(pid libpf.PID) (libpf.PID, error) {
	return namespacePID(defaultMountPoint, pid)
}

func namespacePID(mountPoint string, pid libpf.PID) (libpf.PID, error) {
	f, err := os.Open(fmt.Sprintf("%s/%d/status", mountPoint, pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, "NSpid:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			break
		}
		nspid, err := strconv.ParseUint(fields[len(fields)-1], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid NSpid line %q: %v", line, err)
		}
		return libpf.PID(nspid), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return pid, nil
}

// IsPIDLive checks if a PID belongs to a live process. It will never produce a false negative but
// may produce a false positive (e.g. due to permissions) in which case an error will also be
// returned.
func IsPIDLive(pid libpf.PID) (bool, error) {
	// A kill syscall with a 0 signal is documented to still do the check
	// whether the process exists: https://linux.die.net/man/2/kill
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true, nil
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ESRCH:
			return false, nil
		case unix.EPERM:
			// continue with procfs fallback
		default:
			return true, err
		}
	}

	_, err = os.Stat(fmt.Sprintf("%s/%d/maps", defaultMountPoint, pid))
	if err != nil && os.IsNotExist(err) {
		return false, nil
	}

	return true, err
}
