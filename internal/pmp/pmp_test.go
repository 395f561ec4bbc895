// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// Unit tests for the PMP region table.

package pmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUncoveredAddressPermissiveOnlyWhenInactive(t *testing.T) {
	tbl := New(8)
	r, w, x := tbl.Check(0x1000, 0x1000, false)
	require.True(t, r)
	require.True(t, w)
	require.True(t, x)

	r, w, x = tbl.Check(0x1000, 0x1000, true)
	require.False(t, r)
	require.False(t, w)
	require.False(t, x)
}

func TestMatchingRegionGrantsItsPermissions(t *testing.T) {
	tbl := New(8)
	tbl.Update(0, 0x1000, 0x1FFF, Flags{R: true, W: false, X: true, V: true})
	r, w, x := tbl.Check(0x1500, 0x1500, true)
	require.True(t, r)
	require.False(t, w)
	require.True(t, x)
}

func TestHighestIndexWinsOnOverlap(t *testing.T) {
	tbl := New(8)
	tbl.Update(0, 0x1000, 0x2000, Flags{R: true, V: true})
	tbl.Update(1, 0x1500, 0x1600, Flags{R: false, W: true, V: true})
	r, w, _ := tbl.Check(0, 0x1550, true)
	require.False(t, r)
	require.True(t, w)
}

func TestLockedRegionAppliesEvenWhenInactive(t *testing.T) {
	tbl := New(8)
	tbl.Update(0, 0x1000, 0x1FFF, Flags{R: true, W: true, X: false, L: true, V: true})
	_, _, x := tbl.Check(0x1000, 0x1000, false)
	require.False(t, x, "locked region's X=0 must be enforced even when PMP is otherwise inactive")
}

func TestNapotRangeExpandsMask(t *testing.T) {
	// A NAPOT region covering [0x80000000, 0x80000FFF] (4KiB) encodes
	// as base>>2 with the low bits set to 0b0111111111 (9 trailing ones
	// for a 4KiB = 2^12 region, minus the 3 implicit low bits).
	addr := uint64(0x80000000>>2) | 0x1ff
	start, end := NapotRange(addr)
	require.EqualValues(t, 0x80000000, start)
	require.EqualValues(t, 0x80000FFF, end)
}

func TestInvalidWriteClearsRange(t *testing.T) {
	tbl := New(8)
	tbl.Update(0, 0x1000, 0x1FFF, Flags{R: true, V: true})
	tbl.Update(0, 0x1000, 0x1FFF, Flags{V: false})
	r, _, _ := tbl.Check(0x1500, 0x1500, true)
	require.False(t, r)
}
