// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)

package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitWritesPCAndInstr(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf)
	tr.Emit(Retire{Cycle: 7, PC: 0x1000, Instr: 0xdeadbeef, Valid: true, Mode: "M"})
	out := buf.String()
	require.Contains(t, out, "CYCLE: 0000000000000007")
	require.Contains(t, out, "PC: 0x0000000000001000")
	require.Contains(t, out, "INSTR: 0xDEADBEEF")
}

func TestEmitSkipsX0Writeback(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf)
	tr.Emit(Retire{Valid: true, RegWriteValid: true, RegWriteAddr: 0, RegWriteData: 5})
	require.NotContains(t, buf.String(), "WRITEBACK")
}

func TestEmitReportsMemAndTrap(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf)
	tr.Emit(Retire{
		Valid: true, MemValid: true, MemStore: true, MemAddr: 0x2000, MemSize: 3, MemData: 42,
		Trap: true, TrapCode: 7, TrapIRQ: false,
	})
	out := buf.String()
	require.Contains(t, out, "MEM STORE: addr=0x0000000000002000 size=8 data=0x000000000000002A")
	require.Contains(t, out, "*** EXCEPTION: cause=7")
}

func TestEmitSquashedInstructionIsTerse(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf)
	tr.Emit(Retire{Cycle: 3, Valid: false})
	require.Equal(t, "CYCLE: 3  [squashed]\n", buf.String())
}

func TestEmitHaltBlock(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf)
	tr.EmitHalt(9, 0x4000, 1)
	require.True(t, strings.Contains(buf.String(), "CAUSE: 1"))
}
