// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// Unit tests for the integer/FP register file.

package regfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegZeroIsAlwaysZero(t *testing.T) {
	f := New(3)
	tag := f.IssueTag(0)
	f.Stage(0, 0xDEADBEEF, tag)
	f.Tick()
	require.Zero(t, f.Read(0))
}

func TestWriteCommitsNextCycle(t *testing.T) {
	f := New(3)
	tag := f.IssueTag(5)
	f.Stage(5, 42, tag)
	require.Zero(t, f.Read(5), "write must not be visible before Tick")
	f.Tick()
	require.EqualValues(t, 42, f.Read(5))
}

func TestHazardTagDetectsOutstandingWrite(t *testing.T) {
	f := New(3)
	expected := f.IssueTag(9) // consumer captures this
	require.True(t, f.HazardPending(9, expected-1), "stale expectation must stall")
	require.False(t, f.HazardPending(9, expected), "matching tag must not stall")
}

func TestStaleWriteIsDroppedBySquash(t *testing.T) {
	f := New(3)
	staleTag := f.IssueTag(3)
	// A newer instruction re-issues a write to the same register
	// (e.g. after a pipeline flush/squash) before the stale one commits.
	f.IssueTag(3)
	f.Stage(3, 0x1111, staleTag)
	f.Tick()
	require.Zero(t, f.Read(3), "stale write must be dropped, tag no longer matches")
}

func TestTagWraps(t *testing.T) {
	f := New(2) // 2-bit tag: wraps at 4
	var last uint32
	for i := 0; i < 5; i++ {
		last = f.IssueTag(1)
	}
	require.LessOrEqual(t, last, f.tagMask)
}

func TestFPAddrSharesNamespace(t *testing.T) {
	f := New(3)
	addr := FPAddr(0)
	tag := f.IssueTag(addr)
	f.Stage(addr, 0x7, tag)
	f.Tick()
	require.EqualValues(t, 0x7, f.Read(addr))
	require.NotEqual(t, addr, 5, "FP regs must be in the upper half of the 6-bit space")
}
