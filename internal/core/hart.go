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
	"github.com/gmofishsauce/river/internal/btb"
	"github.com/gmofishsauce/river/internal/bus"
	"github.com/gmofishsauce/river/internal/cache"
	"github.com/gmofishsauce/river/internal/csr"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/mmu"
	"github.com/gmofishsauce/river/internal/pma"
	"github.com/gmofishsauce/river/internal/pmp"
	"github.com/gmofishsauce/river/internal/regfile"
	"github.com/gmofishsauce/river/internal/trace"
)

// Hart wires every stage together into the synchronous two-phase tick
// spec.md §2/§5 describes: Step computes one instruction's effect from
// the current architectural state and commits it before returning,
// which collapses the formally-pipelined stage diagram into a single
// instruction retiring per call (see DESIGN.md's "single-issue
// collapse" note) while preserving each stage's internal state machine
// and interfaces intact for reuse and testing.
type Hart struct {
	cfg isa.Config
	ram *RAM

	regs *regfile.File
	csr  *csr.Regs

	ic *cache.ICache
	dc *cache.DCache

	fetchMMU *mmu.MMU
	dataMMU  *mmu.MMU

	pmpTable   *pmp.Table
	pmpUpdater csr.PMPUpdater

	btb *btb.BTB

	pmaTable *pma.Table
	arb      *cache.Arbiter

	fetch *Fetch
	exec  *Execute
	mem   *MemAccess
	wb    *Writeback
	debug *DebugPort

	tracer *trace.Tracer

	PC     uint64
	Cycle  uint64
	Halted bool

	// BTBHits/BTBMisses count how often btb.Walk's predicted next-fetch
	// address (cross-checked via btb.NextFetch against the just-fetched
	// PC) matched the address Execute actually resolved. This Hart
	// always fetches the architecturally resolved h.PC rather than
	// redirecting off the prediction, so the counters are diagnostic
	// only (see DESIGN.md's C2 entry).
	BTBHits   uint64
	BTBMisses uint64
}

// NewHart builds a complete hart around a shared RAM backing store.
// tr may be nil to disable retire tracing.
func NewHart(cfg isa.Config, ram *RAM, tr *trace.Tracer) *Hart {
	regs := regfile.New(cfg.RegTagBits)
	c := csr.New(uint32(cfg.HartID), cfg)
	ic := cache.NewICache(cfg)
	dc := cache.NewDCache(cfg, false)
	fm := mmu.New(ram, cfg.TLBSize)
	dm := mmu.New(ram, cfg.TLBSize)
	tbl := pmp.New(cfg.PMPEntries)
	b := btb.New(cfg.BTBSize)

	return &Hart{
		cfg: cfg, ram: ram,
		regs: regs, csr: c,
		ic: ic, dc: dc,
		fetchMMU: fm, dataMMU: dm,
		pmpTable: tbl,
		btb:      b,
		pmaTable: pma.NewDefault(),
		arb:      cache.NewArbiter(2), // CFG_L1_ARBITER_QUEUE_DEPTH; River uses 2
		fetch:    NewFetch(ic, fm),
		exec:     NewExecute(regs, c),
		mem:      NewMemAccess(dc, dm),
		wb:       NewWriteback(regs),
		debug:    NewDebugPort(regs, c, cfg),
		tracer:   tr,
		PC:       cfg.ResetVector,
	}
}

// serveThrough offers exactly one of iReq/dReq to the shared C14
// arbiter and drives it to completion against RAM, which always grants
// and responds within a single call. The second Arbiter.Step hands the
// RAM response back tagged to whichever side made the request.
func (h *Hart) serveThrough(iReq, dReq bus.Request) bus.Response {
	if !iReq.Valid && !dReq.Valid {
		return bus.Response{}
	}
	h.arb.Offer(iReq, dReq)
	toBus, _, _ := h.arb.Step(true, bus.Response{})
	if !toBus.Valid {
		return bus.Response{}
	}
	resp := h.ram.Serve(toBus)
	_, toICache, toDCache := h.arb.Step(true, resp)
	if iReq.Valid {
		return toICache
	}
	return toDCache
}

// serveFetch is the BusServe Fetch.Step drives its I$ miss loop
// against; it shares the C14 arbiter with serveData instead of
// granting the bus to fetch traffic unconditionally.
func (h *Hart) serveFetch(req bus.Request) bus.Response {
	return h.serveThrough(req, bus.Request{})
}

// serveData is the BusServe MemAccess.Step/RunAMO drive their D$ miss
// loop against.
func (h *Hart) serveData(req bus.Request) bus.Response {
	return h.serveThrough(bus.Request{}, req)
}

// Regs exposes the register file for test setup and debug tooling.
func (h *Hart) Regs() *regfile.File { return h.regs }

// CSR exposes the CSR bank for test setup and debug tooling.
func (h *Hart) CSR() *csr.Regs { return h.csr }

func (h *Hart) mmuCfg() (fetchCfg, dataCfg mmu.Config) {
	sv48, root := h.csr.MMUConfig()
	cfg := mmu.Config{Enabled: h.csr.MMUEna(), Sv48: sv48, RootPPN: root}
	return cfg, cfg
}

// Step retires (or traps on) exactly one instruction and returns the
// trace record for it.
func (h *Hart) Step() trace.Retire {
	h.Cycle++
	h.csr.StepPMPUpdate(h.pmpTable, &h.pmpUpdater)

	if h.Halted {
		return trace.Retire{Cycle: h.Cycle, Valid: false}
	}

	if code, ok := h.csr.NextInterrupt(); ok {
		pc := h.csr.EnterTrap(uint8(code), true, h.PC, 0)
		r := trace.Retire{Cycle: h.Cycle, PC: h.PC, Valid: true, Mode: h.csr.Priv().String(), Trap: true, TrapCode: uint8(code), TrapIRQ: true}
		h.PC = pc
		h.csr.Tick(false)
		h.emit(r)
		return r
	}

	pmpEna := h.csr.PmpEna()
	fetchCfg, dataCfg := h.mmuCfg()
	priv := h.csr.Priv()

	startPC := h.PC
	fr := h.fetch.Step(startPC, fetchCfg, priv, h.pmpTable, pmpEna, h.pmaTable, h.serveFetch)
	if fr.Fault {
		return h.trapHere(startPC, fr.FaultCode, false, startPC, priv)
	}

	predChain := h.btb.Walk(startPC, false, 2)
	predictedNext := btb.NextFetch(predChain, btb.InFlight{Fetched: startPC, HasFetched: true})

	var d Decoded
	var size uint64
	if fr.Word&0x3 != 3 {
		d = DecodeC(uint16(fr.Word))
		size = 2
	} else {
		d = Decode(fr.Word)
		size = 4
	}
	fallthroughPC := startPC + size

	if code, tval, trapped := h.csr.CheckStack(h.regs.Read(isa.RegSP)); trapped {
		return h.trapHere(startPC, code, false, tval, priv)
	}

	res := h.exec.Run(d, startPC, fallthroughPC)

	if res.Trap {
		if res.TrapCode == isa.ExceptionBreakpoint && h.csr.EbreakEntersDebug() {
			h.debug.Halt(isa.HaltCauseEbreak, startPC)
			h.Halted = true
			h.csr.Tick(true)
			return trace.Retire{Cycle: h.Cycle, PC: startPC, Instr: fr.Word, Valid: true, Mode: priv.String()}
		}
		return h.trapHere(startPC, res.TrapCode, false, res.TrapTval, priv)
	}

	if res.FenceReq != nil {
		h.runFence(res.FenceReq)
	}

	var memRetire trace.Retire
	regData := res.RdValue
	switch {
	case res.IsAMO:
		rd, fault := RunAMO(h.mem, d.Op, res.MemAddr, res.MemWData, priv, dataCfg, h.pmpTable, pmpEna, h.pmaTable, h.serveData)
		if fault.LoadFault || fault.StoreFault || fault.PageFault {
			code := isa.ExceptionStoreFault
			if d.Op.IsLoad() {
				code = isa.ExceptionLoadFault
			}
			if fault.PageFault {
				code = int(fault.FaultCode)
			}
			return h.trapHere(startPC, uint8(code), false, res.MemAddr, priv)
		}
		h.wb.Commit(res.Rd, rd)
		regData = rd
		memRetire = trace.Retire{MemValid: true, MemAddr: res.MemAddr, MemSize: d.MemSize, MemData: rd}

	case res.IsLoad:
		ar := h.mem.Step(cache.OpLoad, res.MemAddr, 0, 1<<d.MemSize, priv, dataCfg, h.pmpTable, pmpEna, h.pmaTable, h.serveData)
		if ar.LoadFault || ar.PageFault {
			code := isa.ExceptionLoadFault
			if ar.PageFault {
				code = int(ar.FaultCode)
			}
			return h.trapHere(startPC, uint8(code), false, res.MemAddr, priv)
		}
		val := Extend(ar.Data, d.MemSize, d.SignExt)
		h.wb.Commit(res.Rd, val)
		regData = val
		memRetire = trace.Retire{MemValid: true, MemAddr: res.MemAddr, MemSize: d.MemSize, MemData: ar.Data}

	case res.IsStore:
		ar := h.mem.Step(cache.OpStore, res.MemAddr, res.MemWData, 1<<d.MemSize, priv, dataCfg, h.pmpTable, pmpEna, h.pmaTable, h.serveData)
		if ar.StoreFault || ar.PageFault {
			code := isa.ExceptionStoreFault
			if ar.PageFault {
				code = int(ar.FaultCode)
			}
			return h.trapHere(startPC, uint8(code), false, res.MemAddr, priv)
		}
		memRetire = trace.Retire{MemValid: true, MemStore: true, MemAddr: res.MemAddr, MemSize: d.MemSize, MemData: res.MemWData}

	default:
		if res.RdValid {
			h.wb.Commit(res.Rd, res.RdValue)
		}
	}

	if d.Op.IsBranch() || d.Op == isa.InstrJAL || d.Op == isa.InstrJALR {
		h.btb.Write(startPC, res.NextPC, res.Branch)
	}

	if (d.Op == isa.InstrJAL || d.Op == isa.InstrJALR) && d.Rd == isa.RegRA {
		h.debug.PushCall(startPC, res.NextPC)
	} else if d.Op == isa.InstrJALR && d.Rd == isa.RegZero && d.Rs1 == isa.RegRA {
		h.debug.PopReturn()
	}

	if predictedNext == res.NextPC {
		h.BTBHits++
	} else {
		h.BTBMisses++
	}

	h.PC = res.NextPC
	h.csr.Tick(true)

	r := trace.Retire{
		Cycle: h.Cycle, PC: startPC, Instr: fr.Word, Valid: true, Mode: priv.String(),
		RegWriteValid: res.RdValid, RegWriteAddr: res.Rd, RegWriteData: regData,
		MemValid: memRetire.MemValid, MemStore: memRetire.MemStore, MemAddr: memRetire.MemAddr,
		MemSize: memRetire.MemSize, MemData: memRetire.MemData,
	}
	if res.IsLoad || res.IsAMO {
		r.RegWriteValid = res.RdValid
	}
	h.emit(r)

	if h.csr.StepMode() {
		h.debug.Halt(isa.HaltCauseStep, h.PC)
		h.Halted = true
	}
	return r
}

func (h *Hart) trapHere(pc uint64, code uint8, irq bool, tval uint64, priv isa.Privilege) trace.Retire {
	newPC := h.csr.EnterTrap(code, irq, pc, tval)
	h.PC = newPC
	h.csr.Tick(false)
	r := trace.Retire{Cycle: h.Cycle, PC: pc, Valid: true, Mode: priv.String(), Trap: true, TrapCode: code, TrapIRQ: irq}
	h.emit(r)
	return r
}

// runFence drains the fence sequence in one call: this Hart has no
// overlapping instruction whose timing the multi-cycle FenceNone ->
// ... -> FenceEnd walk needs to be visible to, so collapsing it here
// is equivalent to stretching it across several Step calls with every
// intervening instruction stalled (see DESIGN.md).
func (h *Hart) runFence(req *FenceReq) {
	h.csr.Fence.Start(req.Addr, req.All, req.Data, req.Instr, req.MMU)
	if req.Data {
		h.drainDataFlush()
	}
	for {
		done := h.csr.Fence.Step(true)
		if h.csr.Fence.FlushInstr {
			h.ic = cache.NewICache(h.cfg)
			h.fetch = NewFetch(h.ic, h.fetchMMU)
		}
		if h.csr.Fence.FlushMMU {
			h.fetchMMU.FenceVMA(req.Addr, req.All)
			h.dataMMU.FenceVMA(req.Addr, req.All)
		}
		if done {
			return
		}
	}
}

// drainDataFlush actually steps the D$'s own flush state machine to
// completion, writing back every dirty line it touches; FlushAll only
// arms the request (mirrors o_flush_end in the original, which the
// FenceUnit here waits for synchronously instead of across cycles).
func (h *Hart) drainDataFlush() {
	h.dc.FlushAll()
	// One step per way and one more per set, plus a cold D$'s two reset
	// steps, Idle->FlushAddr, FlushAddr->FlushCheck and the final step
	// back to Idle.
	sets := 1 << h.cfg.DCacheIdxBits
	ways := 1 << h.cfg.DCacheWayBits
	for i := 0; i < sets*(ways+1)+5; i++ {
		memReq, _, _ := h.dc.Step(cache.Request{}, cache.MPU{}, bus.Response{}, bus.SnoopRequest{})
		if memReq.Valid {
			h.serveData(memReq)
		}
	}
}

func (h *Hart) emit(r trace.Retire) {
	if h.tracer != nil {
		h.tracer.Emit(r)
	}
}
