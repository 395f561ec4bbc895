// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Package pma implements the Physical Memory Attributes lookup
// (original_source/sc/rtl/riverlib/cache/pma.h): a small fixed table
// of hardcoded device windows (CLINT, PLIC, the first I/O bar) that
// are never cacheable, with everything outside them cacheable by
// default. Fetch/MemAccess consult it once per access, the same cycle
// they consult internal/pmp, to decide whether the cache should issue
// a ReadShared/ReadMakeUnique line fill or a bare ReadNoSnoop/
// WriteNoSnoop pass-through.
package pma

// region is one uncached address window, [start, start+size).
type region struct {
	start, size uint64
}

func (r region) contains(addr uint64) bool {
	return addr >= r.start && addr < r.start+r.size
}

// Table is the ordered list of uncached regions; every address not
// covered by one of them is cacheable.
type Table struct {
	uncached []region
}

// NewDefault builds the table pma.h hardcodes: CLINT, PLIC, and the
// first I/O bar are uncached device windows.
func NewDefault() *Table {
	return &Table{uncached: []region{
		{start: 0x0000000002000000, size: 0x0000000000010000}, // CLINT_BAR/MASK
		{start: 0x000000000C000000, size: 0x0000000004000000}, // PLIC_BAR/MASK
		{start: 0x0000000010000000, size: 0x0000000000100000}, // IO1_BAR/MASK
	}}
}

// Cached reports whether addr falls outside every uncached device
// window, i.e. whether the caches should treat it as normal cacheable
// memory.
func (t *Table) Cached(addr uint64) bool {
	for _, r := range t.uncached {
		if r.contains(addr) {
			return false
		}
	}
	return true
}
