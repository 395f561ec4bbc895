// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// Unit tests for the Sv39/Sv48 page-table walker and TLB.

package mmu

import (
	"testing"

	"github.com/gmofishsauce/river/internal/isa"
	"github.com/stretchr/testify/require"
)

// fakePT is a flat in-memory page table for tests.
type fakePT struct {
	mem map[uint64]uint64
}

func newFakePT() *fakePT { return &fakePT{mem: map[uint64]uint64{}} }

func (f *fakePT) ReadPTE(addr uint64) (uint64, error) { return f.mem[addr], nil }

func leafPTE(ppn uint64, r, w, x, a, d bool) uint64 {
	v := uint64(1) // V
	if r {
		v |= 1 << 1
	}
	if w {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 3
	}
	if a {
		v |= 1 << 6
	}
	if d {
		v |= 1 << 7
	}
	return v | (ppn << 10)
}

func ptrPTE(nextPPN uint64) uint64 {
	return uint64(1) | (nextPPN << 10) // V=1, R=W=X=0 => pointer
}

func TestSv39TwoLevelWalkHits2MSuperpage(t *testing.T) {
	pt := newFakePT()
	rootPPN := uint64(0x3000)
	va := uint64(0xABCDEF000) // aligned to 4K for this test

	vpn2 := (va >> 30) & 0x1ff
	vpn1 := (va >> 21) & 0x1ff
	vpn0 := (va >> 12) & 0x1ff

	l1PPN := uint64(0x4000)
	leafPPN := uint64(0x12345)

	pt.mem[rootPPN<<12+vpn2*8] = ptrPTE(l1PPN)
	pt.mem[l1PPN<<12+vpn1*8] = leafPTE(leafPPN, true, true, true, true, true)
	_ = vpn0

	m := New(pt, 8)
	pa, f, err := m.Translate(va, Access{Priv: isa.PrivS}, Config{Enabled: true, RootPPN: rootPPN})
	require.NoError(t, err)
	require.Equal(t, FaultNone, f)
	require.EqualValues(t, (leafPPN<<12)|(va&((1<<21)-1)), pa)
	require.Equal(t, 2, m.walkCost, "Sv39 2MB superpage hit after a pointer level costs exactly 2 PTE reads")
}

func TestSv39ThreeLevel4KLeaf(t *testing.T) {
	pt := newFakePT()
	rootPPN := uint64(0x3000)
	va := uint64(0xABC_DEF_000)

	vpn2 := (va >> 30) & 0x1ff
	vpn1 := (va >> 21) & 0x1ff
	vpn0 := (va >> 12) & 0x1ff

	l1PPN := uint64(0x4000)
	l0PPN := uint64(0x5000)
	leafPPN := uint64(0x12345)

	pt.mem[rootPPN<<12+vpn2*8] = ptrPTE(l1PPN)
	pt.mem[l1PPN<<12+vpn1*8] = ptrPTE(l0PPN)
	pt.mem[l0PPN<<12+vpn0*8] = leafPTE(leafPPN, true, true, false, true, true)

	m := New(pt, 8)
	pa, f, err := m.Translate(va, Access{Priv: isa.PrivS}, Config{Enabled: true, RootPPN: rootPPN})
	require.NoError(t, err)
	require.Equal(t, FaultNone, f)
	require.EqualValues(t, (leafPPN<<12)|(va&0xfff), pa)
	require.Equal(t, 3, m.walkCost)
}

func TestTLBHitAvoidsWalk(t *testing.T) {
	pt := newFakePT()
	rootPPN := uint64(0x3000)
	va := uint64(0xABC_DEF_000)
	vpn2, vpn1, vpn0 := (va>>30)&0x1ff, (va>>21)&0x1ff, (va>>12)&0x1ff
	l1, l0, leaf := uint64(0x4000), uint64(0x5000), uint64(0x12345)
	pt.mem[rootPPN<<12+vpn2*8] = ptrPTE(l1)
	pt.mem[l1<<12+vpn1*8] = ptrPTE(l0)
	pt.mem[l0<<12+vpn0*8] = leafPTE(leaf, true, true, false, true, true)

	m := New(pt, 8)
	cfg := Config{Enabled: true, RootPPN: rootPPN}
	_, _, err := m.Translate(va, Access{}, cfg)
	require.NoError(t, err)

	// Wipe the backing page table; a TLB/last-translation hit must
	// still resolve the same address without rereading it.
	pt.mem = map[uint64]uint64{}
	pa, f, err := m.Translate(va, Access{}, cfg)
	require.NoError(t, err)
	require.Equal(t, FaultNone, f)
	require.EqualValues(t, (leaf<<12)|(va&0xfff), pa)
}

func TestAccessedBitClearRaisesFault(t *testing.T) {
	pt := newFakePT()
	va := uint64(0x1000)
	pt.mem[0] = leafPTE(0x9, true, true, true, false /*A=0*/, true) // vpn2=vpn1=0, root at ppn 0
	m := New(pt, 8)
	_, f, err := m.Translate(va, Access{Priv: isa.PrivU}, Config{Enabled: true, RootPPN: 0})
	require.NoError(t, err)
	require.NotEqual(t, FaultNone, f)
}

func TestFetchRequiresXBit(t *testing.T) {
	pt := newFakePT()
	pt.mem[0] = leafPTE(0x9, true, false, false, true, true) // R=1,X=0
	m := New(pt, 8)
	_, f, err := m.Translate(0x1000, Access{Fetch: true}, Config{Enabled: true, RootPPN: 0})
	require.NoError(t, err)
	require.Equal(t, FaultExec, f)
}

func TestStoreRequiresWriteAndDirty(t *testing.T) {
	pt := newFakePT()
	pt.mem[0] = leafPTE(0x9, true, true, false, true, false) // D=0
	m := New(pt, 8)
	_, f, err := m.Translate(0x1000, Access{Write: true}, Config{Enabled: true, RootPPN: 0})
	require.NoError(t, err)
	require.Equal(t, FaultWrite, f)
}

func TestFenceVMAAllInvalidatesEverything(t *testing.T) {
	pt := newFakePT()
	pt.mem[0] = leafPTE(0x9, true, true, true, true, true)
	m := New(pt, 8)
	cfg := Config{Enabled: true, RootPPN: 0}
	_, _, _ = m.Translate(0x1000, Access{}, cfg)

	pt.mem = map[uint64]uint64{} // would fault if re-walked
	m.FenceVMA(0, true)
	m.walkCost = 0
	_, _, err := m.Translate(0x1000, Access{}, cfg)
	require.NoError(t, err)
	// After fence.vma all, the cached translation is gone: re-walking
	// an empty page table now returns an invalid PTE (no error, but
	// no longer a successful hit either). We only assert it re-walked
	// by checking walkCost advanced.
	require.Greater(t, m.walkCost, 0)
}

func TestDisabledMMUPassesThrough(t *testing.T) {
	m := New(newFakePT(), 8)
	pa, f, err := m.Translate(0xDEADBEEF, Access{}, Config{Enabled: false})
	require.NoError(t, err)
	require.Equal(t, FaultNone, f)
	require.EqualValues(t, 0xDEADBEEF, pa)
}
