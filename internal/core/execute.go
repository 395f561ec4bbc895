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

package core

import (
	"github.com/gmofishsauce/river/internal/csr"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/regfile"
)

// Execute is C5: the ALU, the branch resolver, and the single master
// that owns the CSR register file this cycle (spec.md's 2-master/
// 1-slave CSR interconnect collapses to a single owner since this Hart
// never has two stages contending for CSR access in the same step).
type Execute struct {
	regs *regfile.File
	csr  *csr.Regs
}

func NewExecute(regs *regfile.File, c *csr.Regs) *Execute {
	return &Execute{regs: regs, csr: c}
}

// Result is what Execute hands to MemAccess/Writeback/Hart.
type Result struct {
	NextPC     uint64
	Branch     bool
	RdValid    bool
	Rd         uint8
	RdValue    uint64
	MemAddr    uint64
	MemWData   uint64
	IsLoad     bool
	IsStore    bool
	IsAMO      bool
	AMOOp      isa.Opcode
	Trap       bool
	TrapCode   uint8
	TrapTval   uint64
	FenceReq   *FenceReq
	HaltReq    bool
}

// FenceReq carries a fence instruction's parameters out to Hart, which
// owns the single csr.FenceUnit shared by fence/fence.i/sfence.vma.
type FenceReq struct {
	Addr                         uint64
	All                          bool
	Data, Instr, MMU             bool
}

// Run executes one decoded instruction. pc is the address it was
// fetched from; fallthroughPC is pc+2 or pc+4 depending on Compressed.
func (e *Execute) Run(d Decoded, pc, fallthroughPC uint64) Result {
	if d.Unimp {
		return Result{Trap: true, TrapCode: isa.ExceptionInstrIllegal, NextPC: fallthroughPC}
	}

	rs1v := e.regs.Read(int(d.Rs1))
	rs2v := e.regs.Read(int(d.Rs2))

	switch d.Op {
	case isa.InstrLUI:
		return reg(d.Rd, uint64(d.Imm), fallthroughPC)
	case isa.InstrAUIPC:
		return reg(d.Rd, pc+uint64(d.Imm), fallthroughPC)
	case isa.InstrJAL:
		target := pc + uint64(d.Imm)
		return Result{NextPC: target, Branch: true, RdValid: true, Rd: d.Rd, RdValue: fallthroughPC}
	case isa.InstrJALR:
		target := (rs1v + uint64(d.Imm)) &^ 1
		return Result{NextPC: target, Branch: true, RdValid: true, Rd: d.Rd, RdValue: fallthroughPC}
	}

	if d.Op.IsBranch() {
		taken := evalBranch(d.Op, rs1v, rs2v)
		if taken {
			return Result{NextPC: pc + uint64(d.Imm), Branch: true}
		}
		return Result{NextPC: fallthroughPC}
	}

	if d.IsMemop && !d.IsAMO {
		addr := rs1v + uint64(d.Imm)
		if d.Op.IsStore() {
			return Result{NextPC: fallthroughPC, MemAddr: addr, MemWData: rs2v, IsStore: true}
		}
		return Result{NextPC: fallthroughPC, MemAddr: addr, IsLoad: true, RdValid: true, Rd: d.Rd}
	}

	if d.IsAMO {
		addr := rs1v
		return Result{NextPC: fallthroughPC, MemAddr: addr, MemWData: rs2v, IsAMO: true, AMOOp: d.Op, RdValid: true, Rd: d.Rd}
	}

	if isCSR(d.Op) {
		return e.runCSR(d, pc, fallthroughPC, rs1v)
	}

	switch d.Op {
	case isa.InstrECALL:
		return Result{Trap: true, TrapCode: ecallCode(e.csr.Priv()), NextPC: fallthroughPC}
	case isa.InstrEBREAK:
		return Result{Trap: true, TrapCode: isa.ExceptionBreakpoint, NextPC: fallthroughPC, HaltReq: true}
	case isa.InstrMRET:
		return Result{NextPC: e.csr.TrapReturn(isa.PrivM), Branch: true}
	case isa.InstrSRET:
		return Result{NextPC: e.csr.TrapReturn(isa.PrivS), Branch: true}
	case isa.InstrWFI:
		return Result{NextPC: fallthroughPC}
	case isa.InstrFENCE:
		return Result{NextPC: fallthroughPC, FenceReq: &FenceReq{Data: true}}
	case isa.InstrFENCEI:
		return Result{NextPC: fallthroughPC, FenceReq: &FenceReq{Data: true, Instr: true}}
	case isa.InstrSFENCEVMA:
		return Result{NextPC: fallthroughPC, FenceReq: &FenceReq{Addr: rs1v, All: d.Rs1 == isa.RegZero, Data: true, MMU: true}}
	}

	val, ok := alu(d.Op, rs1v, rs2v, uint64(d.Imm))
	if !ok {
		return Result{Trap: true, TrapCode: isa.ExceptionInstrIllegal, NextPC: fallthroughPC}
	}
	return reg(d.Rd, val, fallthroughPC)
}

func reg(rd uint8, val, nextPC uint64) Result {
	return Result{NextPC: nextPC, RdValid: true, Rd: rd, RdValue: val}
}

func ecallCode(p isa.Privilege) uint8 {
	switch p {
	case isa.PrivU:
		return isa.ExceptionCallFromUmode
	case isa.PrivS:
		return isa.ExceptionCallFromSmode
	default:
		return isa.ExceptionCallFromMmode
	}
}

func isCSR(op isa.Opcode) bool {
	switch op {
	case isa.InstrCSRRW, isa.InstrCSRRS, isa.InstrCSRRC, isa.InstrCSRRWI, isa.InstrCSRRSI, isa.InstrCSRRCI:
		return true
	default:
		return false
	}
}

// runCSR implements the read-modify-write CSR instructions: the I
// variants fold the 5-bit rs1 field in as an immediate mask, the
// register variants use rs1's value.
func (e *Execute) runCSR(d Decoded, pc, fallthroughPC uint64, rs1v uint64) Result {
	old, ok := e.csr.Read(d.CSRAddr)
	if !ok {
		return Result{Trap: true, TrapCode: isa.ExceptionInstrIllegal, NextPC: fallthroughPC}
	}

	var mask uint64
	immediate := false
	switch d.Op {
	case isa.InstrCSRRWI, isa.InstrCSRRSI, isa.InstrCSRRCI:
		mask = uint64(d.Imm) // rs1 field, zero-extended, captured by Decode
		immediate = true
	default:
		mask = rs1v
	}

	var nv uint64
	writes := true
	switch d.Op {
	case isa.InstrCSRRW, isa.InstrCSRRWI:
		nv = mask
	case isa.InstrCSRRS, isa.InstrCSRRSI:
		nv = old | mask
		writes = mask != 0 || !immediate
	case isa.InstrCSRRC, isa.InstrCSRRCI:
		nv = old &^ mask
		writes = mask != 0 || !immediate
	}
	if writes {
		if !e.csr.Write(d.CSRAddr, nv) {
			return Result{Trap: true, TrapCode: isa.ExceptionInstrIllegal, NextPC: fallthroughPC}
		}
	}
	return reg(d.Rd, old, fallthroughPC)
}

func evalBranch(op isa.Opcode, a, b uint64) bool {
	switch op {
	case isa.InstrBEQ:
		return a == b
	case isa.InstrBNE:
		return a != b
	case isa.InstrBLT:
		return int64(a) < int64(b)
	case isa.InstrBGE:
		return int64(a) >= int64(b)
	case isa.InstrBLTU:
		return a < b
	case isa.InstrBGEU:
		return a >= b
	}
	return false
}
