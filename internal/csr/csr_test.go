// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// Unit tests for the CSR register file, trap entry/return, and the
// fence and PMP-update sub-state machines.

package csr

import (
	"testing"

	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/pmp"
	"github.com/stretchr/testify/require"
)

func newTestRegs() *Regs {
	return New(0, isa.Default())
}

func TestMstatusRoundTrip(t *testing.T) {
	r := newTestRegs()
	require.True(t, r.Write(addrMstatus, (1<<3)|(1<<17))) // MIE, MPRV
	v, ok := r.Read(addrMstatus)
	require.True(t, ok)
	require.NotZero(t, v&(1<<3))
	require.NotZero(t, v&(1<<17))
	require.True(t, r.mprv)
}

func TestSstatusIsRestrictedView(t *testing.T) {
	r := newTestRegs()
	r.Write(addrMstatus, 1<<17) // MPRV, an M-only bit
	v, ok := r.Read(addrSstatus)
	require.True(t, ok)
	require.Zero(t, v&(1<<17), "sstatus must not expose MPRV")
}

func TestSatpRoundTrip(t *testing.T) {
	r := newTestRegs()
	ppn := uint64(0x12345)
	val := (uint64(isa.SatpModeSv39) << 60) | ppn
	require.True(t, r.Write(addrSatp, val))
	require.True(t, r.satpSv39)
	got, ok := r.Read(addrSatp)
	require.True(t, ok)
	require.Equal(t, val, got)
}

func TestSMWriteBlockedFromUserMode(t *testing.T) {
	r := newTestRegs()
	r.priv = isa.PrivU
	require.False(t, r.Write(addrMstatus, 0))
	_, ok := r.Read(addrMstatus)
	require.False(t, ok)
}

func TestEnterTrapUpdatesStateAndComputesVector(t *testing.T) {
	r := newTestRegs()
	r.Write(addrMstatus, 1<<3) // MIE=1
	r.Write(addrMtvec, 0x8000_0000)

	pc := r.EnterTrap(isa.ExceptionInstrIllegal, false, 0x1000, 0xdeadbeef)
	require.EqualValues(t, 0x8000_0000, pc)
	require.Equal(t, isa.PrivM, r.priv)
	require.EqualValues(t, 0x1000, r.xmode[isa.PrivM].epc)
	require.EqualValues(t, 0xdeadbeef, r.xmode[isa.PrivM].tval)
	require.False(t, r.xmode[isa.PrivM].ie, "xIE must be cleared on entry")
}

func TestEnterTrapDelegatesToSupervisor(t *testing.T) {
	r := newTestRegs()
	r.Write(addrStvec, 0x9000) // while still in M-mode; S-CSRs require priv >= S
	r.medeleg = 1 << isa.ExceptionStoreFault
	r.priv = isa.PrivU

	pc := r.EnterTrap(isa.ExceptionStoreFault, false, 0x2000, 0x3000)
	require.Equal(t, isa.PrivS, r.priv)
	require.EqualValues(t, 0x9000, pc)
	require.Equal(t, isa.PrivU, r.xmode[isa.PrivS].pp)
}

func TestTrapReturnRestoresPreviousMode(t *testing.T) {
	r := newTestRegs()
	r.Write(addrMstatus, 1<<3)
	r.priv = isa.PrivU
	r.EnterTrap(isa.ExceptionBreakpoint, false, 0x4000, 0)
	require.Equal(t, isa.PrivM, r.priv, "undelegated trap always lands in M-mode")
	pc := r.TrapReturn(isa.PrivM)
	require.EqualValues(t, 0x4000, pc)
	require.Equal(t, isa.PrivU, r.priv)
	require.True(t, r.xmode[isa.PrivM].ie, "mret restores MIE from MPIE")
}

func TestVectoredTvecOffsetsByCauseTimesFour(t *testing.T) {
	r := newTestRegs()
	r.Write(addrMtvec, 0x1000|0x1) // vectored
	pc := r.EnterTrap(isa.IRQMTIP, true, 0, 0)
	require.EqualValues(t, 0x1000+isa.IRQMTIP*4, pc)
}

func TestNextInterruptRespectsPriorityAndEnable(t *testing.T) {
	r := newTestRegs()
	r.Write(addrMstatus, 1<<3) // MIE
	r.Write(addrMie, (1<<isa.IRQMTIP)|(1<<isa.IRQMEIP))
	r.SetInterruptPin(isa.IRQMTIP, true)
	r.SetInterruptPin(isa.IRQMEIP, true)
	irq, ok := r.NextInterrupt()
	require.True(t, ok)
	require.Equal(t, isa.IRQMEIP, irq, "external interrupt outranks timer")
}

func TestNextInterruptNoneWhenGloballyDisabled(t *testing.T) {
	r := newTestRegs()
	r.Write(addrMie, 1<<isa.IRQMTIP)
	r.SetInterruptPin(isa.IRQMTIP, true)
	_, ok := r.NextInterrupt()
	require.False(t, ok, "mstatus.MIE defaults to 0 after reset")
}

func TestCheckStackOverflowAndUnderflow(t *testing.T) {
	r := newTestRegs()
	r.mstackovr = 0x1000
	r.mstackund = 0x8000

	code, tval, trapped := r.CheckStack(0x0800)
	require.True(t, trapped)
	require.Equal(t, uint8(isa.ExceptionStackOverflow), code)
	require.EqualValues(t, 0x0800, tval)

	code, _, trapped = r.CheckStack(0x9000)
	require.True(t, trapped)
	require.Equal(t, uint8(isa.ExceptionStackUnderflow), code)

	_, _, trapped = r.CheckStack(0x4000)
	require.False(t, trapped)
}

func TestPmpCfgAndAddrRoundTrip(t *testing.T) {
	r := newTestRegs()
	require.True(t, r.Write(0x3B0, 0x1000>>2)) // pmpaddr0 first: L makes it read-only
	require.True(t, r.Write(0x3A0, 0x8F))      // pmpcfg0: region 0, L|A=01|X|W|R
	got, ok := r.Read(0x3A0)
	require.True(t, ok)
	require.EqualValues(t, 0x8F, got&0xff)

	tbl := pmp.New(8)
	u := &PMPUpdater{}
	for i := 0; i < 8; i++ {
		r.StepPMPUpdate(tbl, u)
	}
	rOK, wOK, xOK := tbl.Check(0x1000, 0x1000, true)
	require.True(t, rOK)
	require.True(t, wOK)
	require.True(t, xOK)
}

func TestPmpLockedCfgRejectsFurtherWrites(t *testing.T) {
	r := newTestRegs()
	r.Write(0x3A0, 0x8F) // L bit set
	r.Write(0x3A0, 0x00) // attempt to clear it
	v, _ := r.Read(0x3A0)
	require.EqualValues(t, 0x8F, v&0xff, "locked pmpcfg byte must reject further writes")
}

func TestFenceSequenceReachesEnd(t *testing.T) {
	var f FenceUnit
	f.Start(0, true, true, true, true)
	require.False(t, f.Step(false)) // DataBarrier -> DataFlush
	require.False(t, f.Step(false)) // DataFlush -> WaitDataFlushEnd
	require.False(t, f.Step(false)) // still waiting on the D$
	require.False(t, f.Step(true))  // WaitDataFlushEnd -> FlushInstr
	require.False(t, f.Step(true))  // FlushInstr -> End
	require.True(t, f.FlushInstr)
	require.True(t, f.Step(true)) // End -> None (done)
	require.False(t, f.FlushPipeline)
}
