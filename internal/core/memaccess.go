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
	"github.com/gmofishsauce/river/internal/bus"
	"github.com/gmofishsauce/river/internal/cache"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/mmu"
	"github.com/gmofishsauce/river/internal/pma"
	"github.com/gmofishsauce/river/internal/pmp"
)

// MemAccess is C6: it owns the data-side MMU and D$ instance and
// performs the translate-then-cache sequence every load/store/AMO
// sub-access needs; Extend does the sign/zero extension of loads.
// Store data goes to the D$ as a value plus a size, with no byte-lane
// replication.
// The reference design queues up to CFG_MEMACCESS_QUEUE_DEPTH
// in-flight accesses from overlapping instructions; this Hart issues
// one access at a time to completion, so the queue collapses to depth
// 1 (documented in DESIGN.md).
type MemAccess struct {
	dc  *cache.DCache
	mmu *mmu.MMU
}

func NewMemAccess(dc *cache.DCache, m *mmu.MMU) *MemAccess {
	return &MemAccess{dc: dc, mmu: m}
}

// AccessResult is what one load/store/AMO sub-access produced.
type AccessResult struct {
	Data       uint64
	LoadFault  bool
	StoreFault bool
	PageFault  bool
	FaultCode  uint8
	SCFailed   bool
}

// Step translates va, checks PMP, and drives the D$ state machine to
// completion for one MemOp. serve routes each bus request through
// Hart's shared C14 arbiter rather than straight to RAM.
func (m *MemAccess) Step(op cache.MemOp, va uint64, wdata uint64, size int, priv isa.Privilege, mmuCfg mmu.Config, tbl *pmp.Table, pmpEna bool, pmaTbl *pma.Table, serve BusServe) AccessResult {
	write := op == cache.OpStore || op == cache.OpStoreConditional
	pa, fault, err := m.mmu.Translate(va, mmu.Access{Write: write, Priv: priv}, mmuCfg)
	if err != nil {
		return AccessResult{LoadFault: true}
	}
	if fault != mmu.FaultNone {
		code := uint8(isa.ExceptionLoadPageFault)
		if write {
			code = isa.ExceptionStorePageFault
		}
		return AccessResult{PageFault: true, FaultCode: code}
	}

	rOK, wOK, _ := tbl.Check(pa, pa, pmpEna)
	if (write && !wOK) || (!write && !rOK) {
		if write {
			return AccessResult{StoreFault: true}
		}
		return AccessResult{LoadFault: true}
	}

	req := cache.Request{Valid: true, Op: op, Addr: pa, WData: wdata, Size: size}
	mpu := cache.MPU{Cached: pmaTbl.Cached(pa), R: true, W: true}
	var memResp, nextResp bus.Response
	for i := 0; i < maxStepsPerAccess; i++ {
		memReq, resp, _ := m.dc.Step(req, mpu, memResp, bus.SnoopRequest{})
		if resp.Valid {
			if op == cache.OpLoadReserve {
				m.dc.Reserve(pa)
			}
			return AccessResult{
				Data:       resp.Data,
				LoadFault:  resp.LoadFault,
				StoreFault: resp.StoreFault,
				SCFailed:   resp.SCFailed,
			}
		}
		// The D$ spends the Step after a request in WaitGrant and takes
		// the response in WaitResp, so a served response is handed
		// back one Step later.
		memResp, nextResp = nextResp, bus.Response{}
		if memReq.Valid {
			nextResp = serve(memReq)
		}
	}
	return AccessResult{LoadFault: !write, StoreFault: write}
}

// Extend sign- or zero-extends a load result from its natural width.
func Extend(raw uint64, size uint8, signExt bool) uint64 {
	if !signExt {
		switch size {
		case 0:
			return raw & 0xff
		case 1:
			return raw & 0xffff
		case 2:
			return raw & 0xffffffff
		default:
			return raw
		}
	}
	switch size {
	case 0:
		return uint64(int64(int8(raw)))
	case 1:
		return uint64(int64(int16(raw)))
	case 2:
		return uint64(int64(int32(raw)))
	default:
		return raw
	}
}
