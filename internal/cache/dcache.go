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

package cache

import (
	"github.com/gmofishsauce/river/internal/bus"
	"github.com/gmofishsauce/river/internal/isa"
)

// dstate is the DCacheLru state machine (spec.md §4.11), named after
// the original SystemC states rather than renumbered.
type dstate int

const (
	DIdle dstate = iota
	DCheckHit
	DTranslateAddress
	DWaitGrant
	DWaitResp
	DCheckResp
	DSetupReadAdr
	DWriteBus
	DFlushAddr
	DFlushCheck
	DReset
	DResetWrite
	DSnoopSetupAddr
	DSnoopReadData
)

// MemOp is the CPU-side access kind MemAccess (C6) issues to the cache.
type MemOp int

const (
	OpLoad MemOp = iota
	OpStore
	OpLoadReserve
	OpStoreConditional
)

// Request is the CPU/MemAccess-facing side of the cache.
type Request struct {
	Valid  bool
	Op     MemOp
	Addr   uint64
	WData  uint64
	Wstrb  uint8 // one bit per byte, only meaningful for stores
	Size   int   // 1,2,4,8
}

// Response mirrors o_resp_* : exactly one of LoadFault/StoreFault is
// set when MPU denies the access (R for loads, W for stores) or the
// bus reports a fault; Data is valid only on a load.
type Response struct {
	Valid       bool
	Data        uint64
	LoadFault   bool
	StoreFault  bool
	SCFailed    bool // store-conditional lost its reservation
}

// MPU is the permission/cacheability lookup the cache consults once
// per miss, split out of PMP (C11) and PMA so the cache package stays
// free of CSR/MMU dependencies.
type MPU struct {
	Cached bool
	R, W   bool
}

// DCache is one instance of C12, parameterized the same way the
// SystemC module's constructor is: way/index bits and whether
// multi-core coherence is enabled.
type DCache struct {
	geometry
	sets        []*set
	coherenceOn bool

	state        dstate
	pending      Request
	pendingTag   uint64
	pendingIndex int
	pendingWay   int
	line         []byte // line being filled or written back
	writeFirst   bool   // upgrade Shared->Unique before completing a store
	reservedAddr uint64
	hasReserved  bool

	flushAll   bool
	flushAddr  uint64
	flushIndex int
	flushWay   int

	snoopRestore dstate // state to resume after a snoop interrupts WaitResp/WriteBus
	snoopAddr    uint64
	snoopType    bus.SnoopType
}

// NewDCache builds a DCache with 2^waybits ways and 2^ibits sets,
// matching CFG_DCACHE_WAYBITS / CFG_DCACHE_IBITS in river_cfg.h.
func NewDCache(cfg isa.Config, coherenceEna bool) *DCache {
	g := newGeometry(cfg.DCacheWayBits, cfg.DCacheIdxBits, cfg.Log2LineBytes)
	d := &DCache{geometry: g, coherenceOn: coherenceEna, state: DReset}
	d.sets = make([]*set, g.sets)
	for i := range d.sets {
		d.sets[i] = newSet(g.ways, g.lineBytes)
	}
	d.line = make([]byte, g.lineBytes)
	return d
}

// FlushAll requests a full-cache flush (addr bit 0 set on the real
// hardware); FlushLine requests a single line's flush.
func (d *DCache) FlushAll()            { d.flushAll = true; d.flushAddr = 0 }
func (d *DCache) FlushLine(addr uint64) { d.flushAll = false; d.flushAddr = addr }

// Step advances the state machine by one cycle. mem carries the
// external bus response (valid exactly one cycle after a request this
// cache issued was granted); snoopIn carries an inbound snoop request
// from another core's D$ via the arbiter.
func (d *DCache) Step(req Request, mpu MPU, mem bus.Response, snoopIn bus.SnoopRequest) (memReq bus.Request, resp Response, snoopResp bus.SnoopResponse) {
	switch d.state {
	case DReset:
		d.resetAllLines()
		d.state = DResetWrite
		return
	case DResetWrite:
		d.state = DIdle
		return

	case DIdle:
		if d.coherenceOn && snoopIn.Valid {
			d.snoopAddr = snoopIn.Addr
			d.snoopType = snoopIn.Type
			d.state = DSnoopSetupAddr
			return
		}
		if d.flushAddr != 0 || d.flushAll {
			d.state = DFlushAddr
			return
		}
		if req.Valid {
			d.pending = req
			d.state = DCheckHit
		}
		return

	case DCheckHit:
		return d.checkHit(mpu)

	case DTranslateAddress:
		if !mpu.Cached {
			d.state = DWaitGrant
			return d.issueUncachedMem(), Response{}, bus.SnoopResponse{}
		}
		d.state = DWaitGrant
		return d.issueLineFill(), Response{}, bus.SnoopResponse{}

	case DWaitGrant:
		// The request went out once, from TranslateAddress; this is the
		// grant cycle and mem is ignored here. The response is taken in
		// WaitResp, on the Step after this one.
		d.state = DWaitResp
		return

	case DWaitResp:
		if d.coherenceOn && snoopIn.Valid {
			d.snoopRestore = DWaitResp
			d.snoopAddr = snoopIn.Addr
			d.snoopType = snoopIn.Type
			d.state = DSnoopSetupAddr
			return
		}
		if mem.Valid {
			if mem.LoadFault || mem.StoreFault {
				d.state = DIdle
				return bus.Request{}, Response{Valid: true, LoadFault: mem.LoadFault, StoreFault: mem.StoreFault}, bus.SnoopResponse{}
			}
			copy(d.line, mem.Data[:d.lineBytes])
			d.state = DCheckResp
		}
		return

	case DCheckResp:
		d.state = DSetupReadAdr
		return

	case DSetupReadAdr:
		wb := d.installLine()
		d.state = DCheckHit
		return wb, Response{}, bus.SnoopResponse{}

	case DWriteBus:
		if d.coherenceOn && snoopIn.Valid {
			d.snoopRestore = DWriteBus
			d.snoopAddr = snoopIn.Addr
			d.snoopType = snoopIn.Type
			d.state = DSnoopSetupAddr
			return
		}
		wasUpgrade := d.writeFirst
		memReq = d.issueWriteBack()
		if wasUpgrade {
			// Ownership acquired; replay CheckHit to actually commit
			// the store that triggered the upgrade.
			d.state = DCheckHit
		} else {
			d.state = DIdle
		}
		return

	case DFlushAddr:
		d.flushIndex = 0
		d.flushWay = 0
		d.state = DFlushCheck
		return

	case DFlushCheck:
		return d.stepFlush()

	case DSnoopSetupAddr:
		d.state = DSnoopReadData
		return

	case DSnoopReadData:
		return d.stepSnoop()
	}
	return
}

