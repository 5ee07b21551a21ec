// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collapse // import "go.opentelemetry.io/fleet-profiler/collapse"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/libpf/xsync"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/proc"
	"go.opentelemetry.io/fleet-profiler/process"
	"go.opentelemetry.io/fleet-profiler/registry"
)

const (
	defaultProcessCacheSize = 1024
	defaultFileCacheSize    = 4096
	// fileCacheLifetime bounds how long symbols of a file are kept. An updated
	// file normally gets a new inode, but not if it was rewritten in place.
	fileCacheLifetime = 30 * time.Minute
)

// Config configures a Collapser.
type Config struct {
	// IncludeComm prepends the process name as root frame.
	IncludeComm bool
	// KallsymsPath is the kernel symbol table, defaults to /proc/kallsyms.
	KallsymsPath string
	// PerfMapPath returns the JIT perf map location of a process, defaults to
	// DefaultPerfMapPath.
	PerfMapPath func(libpf.PID) string
	// OpenProcess gives access to the memory layout of a process, defaults to
	// process.New.
	OpenProcess func(ctx context.Context, pid libpf.PID) (process.Process, error)
	// ProcessCacheSize and FileCacheSize bound the symbol caches.
	ProcessCacheSize uint32
	FileCacheSize    uint32
}

// processSymbols caches the mappings and the perf map of one process generation.
type processSymbols struct {
	pr       process.Process
	mappings []process.Mapping

	mu          sync.Mutex
	perfMap     *libpf.SymbolMap
	perfMapSize int64
}

type nativeSymbolizer struct {
	kallsymsPath string
	perfMapPath  func(libpf.PID) string
	openProcess  func(ctx context.Context, pid libpf.PID) (process.Process, error)

	kernel    xsync.OnceValue[*libpf.SymbolMap]
	processes *lru.SyncedLRU[registry.Key, *processSymbols]
	files     *lru.SyncedLRU[fileKey, *elfSymbols]
}

func newNativeSymbolizer(cfg Config) (*nativeSymbolizer, error) {
	n := &nativeSymbolizer{
		kallsymsPath: cfg.KallsymsPath,
		perfMapPath:  cfg.PerfMapPath,
		openProcess:  cfg.OpenProcess,
	}
	if n.kallsymsPath == "" {
		n.kallsymsPath = proc.KallsymsPath
	}
	if n.perfMapPath == nil {
		n.perfMapPath = DefaultPerfMapPath
	}
	if n.openProcess == nil {
		n.openProcess = func(ctx context.Context, pid libpf.PID) (process.Process, error) {
			return process.New(ctx, pid, nil)
		}
	}

	processCacheSize := cfg.ProcessCacheSize
	if processCacheSize == 0 {
		processCacheSize = defaultProcessCacheSize
	}
	fileCacheSize := cfg.FileCacheSize
	if fileCacheSize == 0 {
		fileCacheSize = defaultFileCacheSize
	}

	var err error
	n.processes, err = lru.NewSynced[registry.Key, *processSymbols](processCacheSize,
		registry.Key.Hash32)
	if err != nil {
		return nil, err
	}
	n.files, err = lru.NewSynced[fileKey, *elfSymbols](fileCacheSize, fileKey.Hash32)
	if err != nil {
		return nil, err
	}
	n.files.SetLifetime(fileCacheLifetime)
	return n, nil
}

func (n *nativeSymbolizer) invalidate(key registry.Key) {
	if ps, ok := n.processes.Peek(key); ok && ps.pr != nil {
		_ = ps.pr.Close()
	}
	n.processes.Remove(key)
}

// process returns the cached symbol state of h, loading the mappings on first use.
// Failures are cached too so a process without readable mappings is not retried
// for every sample.
func (n *nativeSymbolizer) process(h *registry.ProcessHandle) *processSymbols {
	key := h.Key()
	if ps, ok := n.processes.Get(key); ok {
		metrics.Add(metrics.IDSymbolCacheHit, 1)
		return ps
	}
	metrics.Add(metrics.IDSymbolCacheMiss, 1)

	ps := &processSymbols{perfMapSize: -1}
	pr, err := n.openProcess(context.Background(), h.PID)
	if err == nil {
		ps.pr = pr
		ps.mappings, _, err = pr.GetMappings()
	}
	if err != nil && !errors.Is(err, process.ErrNoMappings) {
		log.Debugf("Failed to read mappings of %v: %v", h, err)
	}
	n.processes.Add(key, ps)
	return ps
}

// symbolize resolves an address frame. It returns an empty string if the address
// could not be resolved.
func (n *nativeSymbolizer) symbolize(ps *processSymbols, typ libpf.FrameType,
	addr libpf.Address) string {
	if typ == libpf.KernelFrame {
		name := n.kernelSymbol(addr)
		if name == "" {
			return ""
		}
		return name + typ.Suffix()
	}
	if ps == nil {
		return ""
	}

	m := process.FindMapping(ps.mappings, uint64(addr))
	if m == nil || m.IsAnonymous() {
		return n.perfMapSymbol(ps, addr)
	}
	if m.IsVDSO() || ps.pr == nil {
		return ""
	}
	syms := n.fileSymbols(ps.pr, m)
	if syms == nil {
		return ""
	}
	return syms.lookup(m.FileOffsetOf(uint64(addr)))
}

func (n *nativeSymbolizer) kernelSymbol(addr libpf.Address) string {
	symmap, err := n.kernel.GetOrInit(func() (*libpf.SymbolMap, error) {
		symmap, err := proc.GetKallsyms(n.kallsymsPath)
		if err != nil {
			log.Warnf("Kernel frames will not be symbolized: %v", err)
			return nil, err
		}
		log.Debugf("Loaded %d kernel symbols", symmap.Len())
		return symmap, nil
	})
	if err != nil {
		return ""
	}
	name, _, ok := symmap.LookupByAddress(libpf.SymbolValue(addr))
	if !ok {
		return ""
	}
	return string(name)
}

// fileSymbols returns the symbols of the file backing m. Files that failed to load
// are cached as nil.
func (n *nativeSymbolizer) fileSymbols(pr process.Process, m *process.Mapping) *elfSymbols {
	key := fileKey{device: m.Device, inode: m.Inode}
	if es, ok := n.files.Get(key); ok {
		metrics.Add(metrics.IDSymbolCacheHit, 1)
		return es
	}
	metrics.Add(metrics.IDSymbolCacheMiss, 1)

	es, err := func() (*elfSymbols, error) {
		f, err := pr.OpenMappingFile(m)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return loadELFSymbols(f)
	}()
	if err != nil {
		log.Debugf("Failed to load symbols of %s: %v", m.Path, err)
		es = nil
	}
	n.files.Add(key, es)
	return es
}

// perfMapSymbol resolves JIT code through the perf map of the process. The map is
// reloaded when it grew since it was last read.
func (n *nativeSymbolizer) perfMapSymbol(ps *processSymbols, addr libpf.Address) string {
	if ps.pr == nil {
		return ""
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.perfMap != nil {
		if name, _, ok := ps.perfMap.LookupByAddress(libpf.SymbolValue(addr)); ok {
			return string(name)
		}
	}

	path := n.perfMapPath(ps.pr.PID())
	info, err := os.Stat(path)
	if err != nil || info.Size() == ps.perfMapSize {
		return ""
	}
	symmap, err := loadPerfMap(path)
	if err != nil {
		log.Debugf("Failed to read perf map %s: %v", path, err)
		return ""
	}
	ps.perfMap, ps.perfMapSize = symmap, info.Size()
	log.Debugf("Loaded %d JIT symbols from %s", symmap.Len(), path)

	name, _, ok := symmap.LookupByAddress(libpf.SymbolValue(addr))
	if !ok {
		return ""
	}
	return string(name)
}

func loadPerfMap(path string) (*libpf.SymbolMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	symmap, err := parsePerfMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return symmap, nil
}
