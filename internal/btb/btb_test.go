// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// Unit tests for the branch target buffer.

package btb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndLookup(t *testing.T) {
	b := New(4)
	b.Write(0x1000, 0x2000, true)
	npc, exec, ok := b.lookup(0x1000)
	require.True(t, ok)
	require.True(t, exec)
	require.EqualValues(t, 0x2000, npc)
}

func TestExecFlagOutranksPredecoderGuess(t *testing.T) {
	b := New(4)
	b.Write(0x1000, 0x2000, true)
	b.Write(0x1000, 0x9999, false) // a pre-decoder guess must not downgrade exec=1
	npc, exec, ok := b.lookup(0x1000)
	require.True(t, ok)
	require.True(t, exec)
	require.EqualValues(t, 0x2000, npc)
}

func TestLRUEviction(t *testing.T) {
	b := New(2)
	b.Write(1, 10, false)
	b.Write(2, 20, false)
	b.Write(3, 30, false) // evicts pc=1, the least recently written
	_, _, ok := b.lookup(1)
	require.False(t, ok)
	_, _, ok = b.lookup(2)
	require.True(t, ok)
	_, _, ok = b.lookup(3)
	require.True(t, ok)
}

func TestFlushClearsAllEntries(t *testing.T) {
	b := New(4)
	b.Write(1, 2, true)
	b.Flush()
	_, _, ok := b.lookup(1)
	require.False(t, ok)
}

func TestWalkDefaultsToPC4OnMiss(t *testing.T) {
	b := New(4)
	chain := b.Walk(0x1000, false, 3)
	require.Equal(t, uint64(0x1000), chain[0].PC)
	require.Equal(t, uint64(0x1004), chain[1].PC)
	require.Equal(t, uint64(0x1008), chain[2].PC)
}

func TestWalkFollowsChain(t *testing.T) {
	b := New(4)
	b.Write(0x1000, 0x2000, true)
	b.Write(0x2000, 0x3000, true)
	chain := b.Walk(0x1000, true, 3)
	require.Equal(t, uint64(0x1000), chain[0].PC)
	require.Equal(t, uint64(0x2000), chain[1].PC)
	require.Equal(t, uint64(0x3000), chain[2].PC)
}

func TestNextFetchSkipsInFlightAddresses(t *testing.T) {
	chain := []Predicted{{PC: 0x1000}, {PC: 0x1004}, {PC: 0x1008}}
	inflight := InFlight{Requested: 0x1000, HasRequested: true, Fetching: 0x1004, HasFetching: true}
	require.EqualValues(t, 0x1008, NextFetch(chain, inflight))
}

func TestPredecodeJAL(t *testing.T) {
	// JAL x1, 0x100: imm = 0x100, rd=1
	word := uint32(0x6f) | (1 << 7) // opcode + rd
	word |= uint32((0x100>>1)&0x3ff) << 21 // imm[10:1]
	npc, ok := Predecode(0x2000, word)
	require.True(t, ok)
	require.EqualValues(t, 0x2100, npc)
}

func TestPredecodeBackwardBranchPredictedTaken(t *testing.T) {
	// BEQ with a negative immediate (-2050): imm[12]=1 sets the sign.
	var word uint32 = 0x63
	word |= 1 << 31 // imm[12]
	word |= 0x3f << 25
	word |= 0xf << 8
	npc, ok := Predecode(0x4000, word)
	require.True(t, ok)
	require.Less(t, npc, uint64(0x4000))
}

func TestIsReturnRecognizesCompressedAndFull(t *testing.T) {
	require.True(t, IsReturn(0x8082))
	// jalr x0, 0(x1)
	full := uint32(0x67) | (1 << 15)
	require.True(t, IsReturn(full))
	require.False(t, IsReturn(0x0001)) // c.nop
}
