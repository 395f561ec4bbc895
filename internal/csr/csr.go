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

// Package csr implements C8: the privileged CSR register file, trap
// entry/return, the fence.{i,vma} sub-state machine, and the PMP
// update pipeline (spec.md §4.7).
package csr

import "github.com/gmofishsauce/river/internal/isa"

// modeRegs is the per-privilege-mode trap bank (RegModeType in the
// original), one instance each for U/S/H/M even though River only
// implements M and S/U today -- H is carried to keep xmode[4]
// addressable by isa.Privilege without a bounds special case.
type modeRegs struct {
	epc       uint64
	pp        isa.Privilege
	pie, ie   bool
	sie, tie, eie bool
	tvecOff   uint64
	tvecMode  uint8 // 0=direct, 1=vectored
	tval      uint64
	causeIRQ  bool
	causeCode uint8
	scratch   uint64
	counteren uint32
}

// pmpShadow mirrors one CSR-visible PMP entry; Regs pushes one of
// these into the real internal/pmp.Table per cycle (see pmp_update.go).
type pmpShadow struct {
	cfg  uint8
	addr uint64 // pmpaddr CSR bits [55:2] (NAPOT-encoded)
}

// Regs is the CSR register file for one hart.
type Regs struct {
	HartID uint32

	xmode [4]modeRegs // indexed by isa.Privilege

	priv isa.Privilege

	medeleg uint64
	mideleg uint64

	mip     uint64 // software-set pending bits
	mie     uint64
	irqPins uint64 // externally (CLINT/PLIC) driven pending bits, OR'd into mip on read

	mcountinhibit uint32
	mstackovr     uint64
	mstackund     uint64

	satpPPN  uint64
	satpSv39 bool
	satpSv48 bool

	mprv bool
	mxr  bool
	sum  bool
	tvm  bool

	mcycleCnt   uint64
	minstretCnt uint64

	dscratch0, dscratch1 uint64
	dpc                  uint64
	haltCause            int
	dcsrEbreakM          bool
	dcsrStopCount        bool
	dcsrStopTimer        bool
	dcsrStep             bool
	dcsrStepIE           bool

	pmp []pmpShadow

	Fence FenceUnit
}

// New creates a CSR bank reset into M-mode with an empty PMP table of
// cfg.PMPEntries shadow registers.
func New(hartID uint32, cfg isa.Config) *Regs {
	return &Regs{HartID: hartID, priv: isa.PrivM, pmp: make([]pmpShadow, cfg.PMPEntries)}
}

// Priv returns the hart's current privilege mode.
func (r *Regs) Priv() isa.Privilege { return r.priv }

// Tick advances the free-running counters; it must be called once per
// retired cycle regardless of whether an instruction commits, mirroring
// mcycle vs. minstret in the spec.
func (r *Regs) Tick(instrRetired bool) {
	r.mcycleCnt++
	if instrRetired {
		r.minstretCnt++
	}
}

// EbreakEntersDebug reports dcsr.ebreakm: whether an ebreak retired in
// M-mode should halt into Debug Mode rather than trap normally.
func (r *Regs) EbreakEntersDebug() bool { return r.dcsrEbreakM }

// StepMode reports dcsr.step: whether the next instruction retirement
// should halt with HALT_CAUSE_STEP instead of continuing.
func (r *Regs) StepMode() bool { return r.dcsrStep }

// EnterDebugHalt records a Debug Mode entry: dpc<-pc, dcsr.cause<-cause.
// Unlike EnterTrap this never touches xPP/xepc or privilege (spec.md
// §4.2's "enter Debug Mode without touching architectural state").
func (r *Regs) EnterDebugHalt(cause int, pc uint64) {
	r.haltCause = cause
	r.dpc = pc
}

// PmpEna reports whether PMP checks are active for the current access:
// always in S/U mode, and in M-mode only when MPRV is set and the
// previous privilege (xmode[PrivM].pp) was not M.
func (r *Regs) PmpEna() bool {
	if r.priv != isa.PrivM {
		return true
	}
	return r.mprv && r.xmode[isa.PrivM].pp != isa.PrivM
}

// MMUEna reports whether address translation applies to the current
// access: S/U mode with satp.mode != Bare, or M-mode with mprv set and
// a previous S/U mode.
func (r *Regs) MMUEna() bool {
	effectivePriv := r.priv
	if r.priv == isa.PrivM && r.mprv {
		effectivePriv = r.xmode[isa.PrivM].pp
	}
	return effectivePriv != isa.PrivM && (r.satpSv39 || r.satpSv48)
}

func (r *Regs) MMUConfig() (sv48 bool, rootPPN uint64) {
	return r.satpSv48, r.satpPPN
}
