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

// Fetch is C3: it owns the instruction-side MMU and I$ instance and
// exposes the requested/fetching/fetched PC triad spec.md §4.1's BTB
// cross-check wants, even though this Hart runs one instruction to
// completion at a time rather than overlapping fetch with a predicted
// next fetch.
type Fetch struct {
	ic  *cache.ICache
	mmu *mmu.MMU

	RequestedPC uint64
	FetchingPC  uint64
	FetchedPC   uint64
}

// NewFetch builds the fetch stage around an already-constructed I$/MMU
// pair (Hart owns construction so it can wire PMP/bus sharing).
func NewFetch(ic *cache.ICache, m *mmu.MMU) *Fetch {
	return &Fetch{ic: ic, mmu: m}
}

// FetchResult is everything Decode/Execute need about one fetch.
type FetchResult struct {
	PC        uint64
	Word      uint32
	Fault     bool
	FaultCode uint8
}

// Step translates pc and drives the I$ state machine to completion,
// returning the fetched word or a fault. serve routes each line-fill
// request through Hart's shared C14 arbiter rather than straight to
// RAM, the same bus path a real fetch-vs-data contention would use.
// It is not cycle-accurate in the sense of yielding control back to a
// shared scheduler mid-miss; spec.md's synchronous two-phase model
// does not require stage interleaving finer than one retiring
// instruction per Hart.Step call (see DESIGN.md).
func (f *Fetch) Step(pc uint64, mmuCfg mmu.Config, priv isa.Privilege, tbl *pmp.Table, pmpEna bool, pmaTbl *pma.Table, serve BusServe) FetchResult {
	f.RequestedPC = pc
	f.FetchingPC = pc

	pa, fault, err := f.mmu.Translate(pc, mmu.Access{Fetch: true, Priv: priv}, mmuCfg)
	if err != nil || fault != mmu.FaultNone {
		return FetchResult{PC: pc, Fault: true, FaultCode: isa.ExceptionInstrPageFault}
	}

	if _, _, xOK := tbl.Check(pa, pa, pmpEna); !xOK {
		return FetchResult{PC: pc, Fault: true, FaultCode: isa.ExceptionInstrFault}
	}

	mpu := cache.MPU{Cached: pmaTbl.Cached(pa), R: true}
	var memResp, nextResp bus.Response
	req := cache.FetchRequest{Valid: true, PC: pa}
	for i := 0; i < maxStepsPerAccess; i++ {
		memReq, resp := f.ic.Step(req, mpu, memResp)
		if resp.Valid {
			if resp.LoadFault {
				return FetchResult{PC: pc, Fault: true, FaultCode: isa.ExceptionInstrFault}
			}
			f.FetchedPC = pc
			return FetchResult{PC: pc, Word: resp.Data}
		}
		// The I$ spends the Step after a request in WaitGrant and takes
		// the response in WaitResp, so a served response is handed
		// back one Step later.
		memResp, nextResp = nextResp, bus.Response{}
		if memReq.Valid {
			nextResp = serve(memReq)
		}
	}
	return FetchResult{PC: pc, Fault: true, FaultCode: isa.ExceptionInstrFault}
}

// maxStepsPerAccess bounds the I$/D$ miss-handling loop so a
// misconfigured geometry cannot spin forever instead of surfacing a
// bug during development.
const maxStepsPerAccess = 64
