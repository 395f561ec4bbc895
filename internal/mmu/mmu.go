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

// Package mmu implements C10: one instance per direction (fetch or
// data) of virtual-to-physical translation with a TLB, a multi-level
// Sv39/Sv48 page-table walker, and fence.vma flushing (spec.md §4.9).
package mmu

import (
	"fmt"

	"github.com/gmofishsauce/river/internal/isa"
)

// PageSize identifies the leaf level a translation was satisfied at.
type PageSize int

const (
	Page4K   PageSize = 12
	Page2M   PageSize = 21
	Page1G   PageSize = 30
	Page512G PageSize = 39
)

// Perm is the permission byte carried by a leaf PTE (and cached
// alongside a TLB entry), using the RISC-V PTE bit positions.
type Perm struct {
	V, R, W, X, U, G, A, D bool
}

func (p Perm) isLeaf() bool { return p.R || p.W || p.X }

// decodePTE unpacks a raw 64-bit Sv39/Sv48 PTE.
func decodePTE(raw uint64) (ppn uint64, perm Perm) {
	perm = Perm{
		V: raw&(1<<0) != 0,
		R: raw&(1<<1) != 0,
		W: raw&(1<<2) != 0,
		X: raw&(1<<3) != 0,
		U: raw&(1<<4) != 0,
		G: raw&(1<<5) != 0,
		A: raw&(1<<6) != 0,
		D: raw&(1<<7) != 0,
	}
	ppn = (raw >> 10) & ((1 << 44) - 1)
	return ppn, perm
}

// PageTableReader reads one 8-byte PTE at a physical byte address; in
// River this is core.RAM, read directly: PTE reads do not go through
// the D$ or the bus arbiter.
type PageTableReader interface {
	ReadPTE(physAddr uint64) (uint64, error)
}

// Fault distinguishes the three page-fault kinds the walker can raise.
type Fault int

const (
	FaultNone Fault = iota
	FaultExec
	FaultRead
	FaultWrite
)

func (f Fault) Error() string {
	switch f {
	case FaultExec:
		return "instruction page fault"
	case FaultRead:
		return "load page fault"
	case FaultWrite:
		return "store page fault"
	default:
		return "no fault"
	}
}

// Access describes what kind of reference is being translated.
type Access struct {
	Fetch, Write bool
	MXR, SUM     bool // mstatus.MXR / mstatus.SUM, data-side only
	Priv         isa.Privilege
}

// Config selects the active translation scheme.
type Config struct {
	Enabled bool
	Sv48    bool // false => Sv39
	RootPPN uint64
}

// entry is one TLB row (CFG_MMU_TLB_SIZE entries, direct-mapped).
type entry struct {
	valid bool
	vpn   uint64 // VA >> pageShift for this entry's page size
	size  PageSize
	ppn   uint64
	perm  Perm
}

// MMU is one translation unit (there are two instances: fetch, data).
type MMU struct {
	pt       PageTableReader
	entries  []entry
	hasLast  bool
	last     entry
	walkCost int // number of PTE reads the last Translate performed, for tests/trace
}

// New creates an MMU with a TLB of tlbSize entries, reading page
// tables through pt.
func New(pt PageTableReader, tlbSize int) *MMU {
	return &MMU{pt: pt, entries: make([]entry, tlbSize)}
}

func tlbIndex(vpn uint64, n int) int { return int(vpn % uint64(n)) }

// FenceVMA invalidates TLB entries: all of them if all is set,
// otherwise just those covering addr. The one-entry "last
// translation" cache is always cleared, matching the hardware's
// behaviour on any fence.vma (spec.md §4.9).
func (m *MMU) FenceVMA(addr uint64, all bool) {
	m.hasLast = false
	if all {
		for i := range m.entries {
			m.entries[i].valid = false
		}
		return
	}
	for i := range m.entries {
		if !m.entries[i].valid {
			continue
		}
		shift := uint(m.entries[i].size)
		if (addr >> shift) == m.entries[i].vpn {
			m.entries[i].valid = false
		}
	}
}

// OnModeChange clears the "last translation" shortcut; the spec calls
// this out explicitly since a changed privilege mode can change which
// permission check a cached translation must satisfy.
func (m *MMU) OnModeChange() {
	m.hasLast = false
}

func pageSizesDescending(sv48 bool) []PageSize {
	if sv48 {
		return []PageSize{Page512G, Page1G, Page2M, Page4K}
	}
	return []PageSize{Page1G, Page2M, Page4K}
}

// Translate converts a virtual address to a physical address. When
// cfg.Enabled is false the request passes straight through: no TLB
// lookup is performed and the "last translation" cache is not
// updated.
func (m *MMU) Translate(va uint64, acc Access, cfg Config) (uint64, Fault, error) {
	if !cfg.Enabled {
		return va, FaultNone, nil
	}

	if m.hasLast {
		shift := uint(m.last.size)
		if va>>shift == m.last.vpn {
			pa := (m.last.ppn << shift) | (va & ((1 << shift) - 1))
			if f := checkPerm(m.last.perm, acc); f != FaultNone {
				return 0, f, nil
			}
			return pa, FaultNone, nil
		}
	}

	for _, sz := range pageSizesDescending(cfg.Sv48) {
		shift := uint(sz)
		idx := tlbIndex(va>>shift, len(m.entries))
		e := m.entries[idx]
		if e.valid && e.size == sz && e.vpn == va>>shift {
			if f := checkPerm(e.perm, acc); f != FaultNone {
				return 0, f, nil
			}
			m.hasLast, m.last = true, e
			pa := (e.ppn << shift) | (va & ((1 << shift) - 1))
			return pa, FaultNone, nil
		}
	}

	ppn, size, perm, err := m.walk(va, cfg)
	if err != nil {
		return 0, FaultNone, err
	}
	if !perm.V || (!perm.R && perm.W) {
		return 0, faultFor(acc), nil
	}
	if f := checkPerm(perm, acc); f != FaultNone {
		return 0, f, nil
	}

	idx := tlbIndex(va>>uint(size), len(m.entries))
	e := entry{valid: true, vpn: va >> uint(size), size: size, ppn: ppn, perm: perm}
	m.entries[idx] = e
	m.hasLast, m.last = true, e

	shift := uint(size)
	pa := (ppn << shift) | (va & ((1 << shift) - 1))
	return pa, FaultNone, nil
}

func faultFor(acc Access) Fault {
	switch {
	case acc.Fetch:
		return FaultExec
	case acc.Write:
		return FaultWrite
	default:
		return FaultRead
	}
}

// checkPerm applies spec.md §4.9's leaf permission check: V and A
// must be set; X for fetch; R (or X under mxr) for load; W and D for
// store.
func checkPerm(p Perm, acc Access) Fault {
	if !p.V || !p.A {
		return faultFor(acc)
	}
	if acc.Fetch {
		if !p.X {
			return FaultExec
		}
		return FaultNone
	}
	if acc.Write {
		if !p.W || !p.D {
			return FaultWrite
		}
		return FaultNone
	}
	if !p.R && !(acc.MXR && p.X) {
		return FaultRead
	}
	return FaultNone
}

// walk descends 3 (Sv39) or 4 (Sv48) page-table levels from
// cfg.RootPPN, issuing one PTE read per level, as scenario 5 of
// spec.md §8 describes.
func (m *MMU) walk(va uint64, cfg Config) (ppn uint64, size PageSize, perm Perm, err error) {
	levels := 3
	if cfg.Sv48 {
		levels = 4
	}
	vpn := make([]uint64, levels)
	for i := 0; i < levels; i++ {
		vpn[i] = (va >> uint(12+9*i)) & 0x1ff
	}

	base := cfg.RootPPN << 12
	m.walkCost = 0
	for level := levels - 1; level >= 0; level-- {
		addr := base + vpn[level]*8
		raw, rerr := m.pt.ReadPTE(addr)
		m.walkCost++
		if rerr != nil {
			return 0, 0, Perm{}, fmt.Errorf("page table walk: %w", rerr)
		}
		p, pm := decodePTE(raw)
		if !pm.V || (!pm.R && pm.W) {
			return 0, 0, Perm{V: false}, nil
		}
		if pm.isLeaf() {
			// A superpage leaf found above level 0 covers the
			// remaining low VPN segments directly from the VA
			// rather than the PTE (those PTE bits should be zero
			// for a well-formed superpage, but this does not rely
			// on that): the PPN is returned in units of the leaf's
			// own page size, and Translate takes the low bits from va.
			return p >> uint(9*level), PageSize(12 + 9*level), pm, nil
		}
		base = p << 12
	}
	return 0, 0, Perm{V: false}, nil
}
