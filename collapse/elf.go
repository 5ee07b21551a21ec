// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collapse // import "go.opentelemetry.io/fleet-profiler/collapse"

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ianlancetaylor/demangle"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

// fileKey identifies a mapped file independent of the process mapping it.
type fileKey struct {
	device uint64
	inode  uint64
}

func (k fileKey) Hash32() uint32 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:], k.device)
	binary.LittleEndian.PutUint64(buf[8:], k.inode)
	return uint32(xxh3.Hash(buf[:]))
}

// loadSegment is an executable PT_LOAD segment.
type loadSegment struct {
	off    uint64
	vaddr  uint64
	filesz uint64
}

// elfSymbols holds the function symbols of one ELF file.
type elfSymbols struct {
	symbols  *libpf.SymbolMap
	segments []loadSegment
}

// vaddrOf translates a file offset to the ELF virtual address symbols refer to.
func (e *elfSymbols) vaddrOf(fileOffset uint64) (uint64, bool) {
	for _, seg := range e.segments {
		if fileOffset >= seg.off && fileOffset < seg.off+seg.filesz {
			return seg.vaddr + fileOffset - seg.off, true
		}
	}
	return 0, false
}

// lookup returns the demangled function name covering fileOffset.
func (e *elfSymbols) lookup(fileOffset uint64) string {
	vaddr, ok := e.vaddrOf(fileOffset)
	if !ok {
		return ""
	}
	name, _, ok := e.symbols.LookupByAddress(libpf.SymbolValue(vaddr))
	if !ok {
		return ""
	}
	return string(name)
}

// loadELFSymbols reads the function symbols from the symbol table and, if the file
// has been stripped, from the dynamic symbol table.
func loadELFSymbols(r io.ReaderAt) (*elfSymbols, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	es := &elfSymbols{}
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Flags&elf.PF_X != 0 {
			es.segments = append(es.segments, loadSegment{
				off:    p.Off,
				vaddr:  p.Vaddr,
				filesz: p.Filesz,
			})
		}
	}
	if len(es.segments) == 0 {
		return nil, errors.New("no executable segments")
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}
	dynsyms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read dynamic symbols: %w", err)
	}

	es.symbols = libpf.NewSymbolMap(len(syms) + len(dynsyms))
	seen := make(map[uint64]libpf.Void, len(syms))
	for _, list := range [][]elf.Symbol{syms, dynsyms} {
		for _, sym := range list {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 ||
				sym.Section == elf.SHN_UNDEF {
				continue
			}
			// The dynamic symbol table duplicates exported symbols.
			if _, ok := seen[sym.Value]; ok {
				continue
			}
			seen[sym.Value] = libpf.Void{}
			es.symbols.Add(libpf.Symbol{
				Name:    libpf.SymbolName(demangleName(sym.Name)),
				Address: libpf.SymbolValue(sym.Value),
				Size:    sym.Size,
			})
		}
	}
	es.symbols.Finalize()
	return es, nil
}

// demangleName demangles C++ and Rust symbol names, leaving other names untouched.
func demangleName(name string) string {
	return demangle.Filter(name, demangle.NoParams)
}
