// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/fleet-profiler/libpf"

import (
	"sort"
)

// SymbolValue represents the value associated with a symbol, e.g. either an
// offset or an absolute address
type SymbolValue uint64

// SymbolName represents the name of a symbol
type SymbolName string

// SymbolNameUnknown is the value returned by SymbolMap functions when address has no symbol info.
const SymbolNameUnknown = ""

// Symbol represents the name of a symbol
type Symbol struct {
	Name    SymbolName
	Address SymbolValue
	Size    uint64
}

// SymbolMap represents collections of symbols that can be resolved or reverse mapped
type SymbolMap struct {
	addressToSymbol []Symbol
}

// NewSymbolMap returns an empty map with room for capacity symbols.
func NewSymbolMap(capacity int) *SymbolMap {
	return &SymbolMap{
		addressToSymbol: make([]Symbol, 0, capacity),
	}
}

// Add a symbol to the map
func (symmap *SymbolMap) Add(s Symbol) {
	symmap.addressToSymbol = append(symmap.addressToSymbol, s)
}

// Finalize sorts the symbol map after all symbols are inserted via Add() calls.
// Lookups are only valid after Finalize.
func (symmap *SymbolMap) Finalize() {
	symmap.addressToSymbol = append([]Symbol(nil), symmap.addressToSymbol...)

	// Descending order; ties are broken by name so that aliases resolve the same
	// way on every run.
	sort.Slice(symmap.addressToSymbol, func(i, j int) bool {
		a, b := symmap.addressToSymbol[i], symmap.addressToSymbol[j]
		if a.Address != b.Address {
			return a.Address > b.Address
		}
		return a.Name > b.Name
	})
}

// LookupByAddress translates the address to a symbolic information. Returns
// SymbolNameUnknown and false if it did not match any symbol. Symbols without a size
// cover everything up to the next symbol.
func (symmap *SymbolMap) LookupByAddress(val SymbolValue) (SymbolName, Address, bool) {
	i := sort.Search(len(symmap.addressToSymbol),
		func(i int) bool {
			return val >= symmap.addressToSymbol[i].Address
		})
	if i < len(symmap.addressToSymbol) &&
		(symmap.addressToSymbol[i].Size == 0 ||
			val < symmap.addressToSymbol[i].Address+
				SymbolValue(symmap.addressToSymbol[i].Size)) {
		return symmap.addressToSymbol[i].Name,
			Address(val - symmap.addressToSymbol[i].Address),
			true
	}
	return SymbolNameUnknown, Address(val), false
}

// Len returns the number of elements in the map.
func (symmap *SymbolMap) Len() int {
	return len(symmap.addressToSymbol)
}
