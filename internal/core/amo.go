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
	"github.com/gmofishsauce/river/internal/cache"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/mmu"
	"github.com/gmofishsauce/river/internal/pma"
	"github.com/gmofishsauce/river/internal/pmp"
)

// RunAMO drives the A-extension read-modify-write sub-machine
// (WaitMemAccess -> Read -> Modify -> Write in the original's state
// names): LR/SC each make one D$ access, every other AMO op makes two
// (a plain load, then a store of the combined value), with the
// arithmetic happening in Execute's successor rather than inside the
// cache itself.
func RunAMO(ma *MemAccess, op isa.Opcode, addr, rs2val uint64, priv isa.Privilege, mmuCfg mmu.Config, tbl *pmp.Table, pmpEna bool, pmaTbl *pma.Table, serve BusServe) (rd uint64, fault AccessResult) {
	isWord := isAMOWord(op)
	size := 8
	if isWord {
		size = 4
	}

	switch op {
	case isa.InstrLR_W, isa.InstrLR_D:
		r := ma.Step(cache.OpLoadReserve, addr, 0, size, priv, mmuCfg, tbl, pmpEna, pmaTbl, serve)
		if r.LoadFault || r.PageFault {
			return 0, r
		}
		return signExtendSize(r.Data, isWord), r

	case isa.InstrSC_W, isa.InstrSC_D:
		r := ma.Step(cache.OpStoreConditional, addr, rs2val, size, priv, mmuCfg, tbl, pmpEna, pmaTbl, serve)
		if r.StoreFault || r.PageFault {
			return 1, r
		}
		if r.SCFailed {
			return 1, r
		}
		return 0, r
	}

	loaded := ma.Step(cache.OpLoad, addr, 0, size, priv, mmuCfg, tbl, pmpEna, pmaTbl, serve)
	if loaded.LoadFault || loaded.PageFault {
		return 0, loaded
	}
	old := signExtendSize(loaded.Data, isWord)
	nv := applyAMO(op, old, rs2val, isWord)

	stored := ma.Step(cache.OpStore, addr, nv, size, priv, mmuCfg, tbl, pmpEna, pmaTbl, serve)
	if stored.StoreFault || stored.PageFault {
		return 0, stored
	}
	return old, stored
}

func isAMOWord(op isa.Opcode) bool {
	switch op {
	case isa.InstrAMOADD_W, isa.InstrAMOXOR_W, isa.InstrAMOOR_W, isa.InstrAMOAND_W,
		isa.InstrAMOMIN_W, isa.InstrAMOMAX_W, isa.InstrAMOMINU_W, isa.InstrAMOMAXU_W,
		isa.InstrAMOSWAP_W, isa.InstrLR_W, isa.InstrSC_W:
		return true
	default:
		return false
	}
}

func signExtendSize(v uint64, isWord bool) uint64 {
	if isWord {
		return uint64(int64(int32(v)))
	}
	return v
}

func applyAMO(op isa.Opcode, old, operand uint64, isWord bool) uint64 {
	var result uint64
	switch op {
	case isa.InstrAMOADD_W, isa.InstrAMOADD_D:
		result = old + operand
	case isa.InstrAMOXOR_W, isa.InstrAMOXOR_D:
		result = old ^ operand
	case isa.InstrAMOOR_W, isa.InstrAMOOR_D:
		result = old | operand
	case isa.InstrAMOAND_W, isa.InstrAMOAND_D:
		result = old & operand
	case isa.InstrAMOSWAP_W, isa.InstrAMOSWAP_D:
		result = operand
	case isa.InstrAMOMIN_W, isa.InstrAMOMIN_D:
		if int64(old) < int64(operand) {
			result = old
		} else {
			result = operand
		}
	case isa.InstrAMOMAX_W, isa.InstrAMOMAX_D:
		if int64(old) > int64(operand) {
			result = old
		} else {
			result = operand
		}
	case isa.InstrAMOMINU_W, isa.InstrAMOMINU_D:
		if old < operand {
			result = old
		} else {
			result = operand
		}
	case isa.InstrAMOMAXU_W, isa.InstrAMOMAXU_D:
		if old > operand {
			result = old
		} else {
			result = operand
		}
	}
	if isWord {
		return signExtendSize(result&0xffffffff, true)
	}
	return result
}
