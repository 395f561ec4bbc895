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

package csr

import "github.com/gmofishsauce/river/internal/isa"

// Read returns a CSR's value. ok is false for an unimplemented or
// privilege-gated address, which the caller (Execute, C5) turns into
// an illegal-instruction exception.
func (r *Regs) Read(addr uint16) (uint64, bool) {
	if modeForAddr(addr) > r.priv {
		return 0, false
	}
	switch {
	case addr == addrMhartid:
		return uint64(r.HartID), true
	case addr == addrMvendorid, addr == addrMarchid, addr == addrMimpid:
		return 0, true

	case addr == addrMstatus, addr == addrSstatus:
		return r.readStatus(addr == addrSstatus), true
	case addr == addrMisa:
		return r.misa(), true
	case addr == addrMedeleg:
		return r.medeleg, true
	case addr == addrMideleg:
		return r.mideleg, true
	case addr == addrMie, addr == addrSie:
		return r.readIE(addr == addrSie), true
	case addr == addrMip, addr == addrSip:
		return r.readIP(addr == addrSip), true
	case addr == addrMtvec, addr == addrStvec:
		return r.readTvec(r.modeOf(addr)), true
	case addr == addrMcounteren, addr == addrScounteren:
		return uint64(r.xmode[r.modeOf(addr)].counteren), true
	case addr == addrMscratch, addr == addrSscratch:
		return r.xmode[r.modeOf(addr)].scratch, true
	case addr == addrMepc, addr == addrSepc:
		return r.xmode[r.modeOf(addr)].epc, true
	case addr == addrMcause, addr == addrScause:
		return r.readCause(r.modeOf(addr)), true
	case addr == addrMtval, addr == addrStval:
		return r.xmode[r.modeOf(addr)].tval, true
	case addr == addrMcountinhib:
		return uint64(r.mcountinhibit), true
	case addr == addrSatp:
		return r.readSatp(), true

	case addr >= addrPmpcfgBase && addr <= addrPmpcfgLast:
		return r.readPmpCfgWord(int(addr - addrPmpcfgBase)), true
	case addr >= addrPmpaddrBase && addr <= addrPmpaddrLast:
		return r.pmp[addr-addrPmpaddrBase].addr, true

	case addr == addrMcycle, addr == addrCycle:
		return r.mcycleCnt, true
	case addr == addrMinstret, addr == addrInstret, addr == addrTime:
		return r.minstretCnt, true

	case addr == addrDcsr:
		return r.readDcsr(), true
	case addr == addrDpc:
		return r.dpc, true
	case addr == addrDscratch0:
		return r.dscratch0, true
	case addr == addrDscratch1:
		return r.dscratch1, true

	case addr == addrMstackovr:
		return r.mstackovr, true
	case addr == addrMstackund:
		return r.mstackund, true

	case addr == addrFflags, addr == addrFrm, addr == addrFcsr:
		return 0, true // FPU exception flags: not modeled, always clear
	}
	return 0, false
}

// Write updates a CSR. ok is false the same way Read's is.
func (r *Regs) Write(addr uint16, val uint64) bool {
	if modeForAddr(addr) > r.priv {
		return false
	}
	switch {
	case addr == addrMhartid, addr == addrMvendorid, addr == addrMarchid, addr == addrMimpid, addr == addrMisa:
		return true // read-only, writes ignored rather than faulted

	case addr == addrMstatus, addr == addrSstatus:
		r.writeStatus(val, addr == addrSstatus)
	case addr == addrMedeleg:
		r.medeleg = val
	case addr == addrMideleg:
		r.mideleg = val & 0x222 // only the delegable S-mode bits (SSIP/STIP/SEIP)
	case addr == addrMie, addr == addrSie:
		r.writeIE(val, addr == addrSie)
	case addr == addrMip, addr == addrSip:
		r.writeIP(val)
	case addr == addrMtvec, addr == addrStvec:
		m := r.modeOf(addr)
		r.xmode[m].tvecOff = val &^ 0x3
		r.xmode[m].tvecMode = uint8(val & 0x3)
	case addr == addrMcounteren, addr == addrScounteren:
		r.xmode[r.modeOf(addr)].counteren = uint32(val)
	case addr == addrMscratch, addr == addrSscratch:
		r.xmode[r.modeOf(addr)].scratch = val
	case addr == addrMepc, addr == addrSepc:
		r.xmode[r.modeOf(addr)].epc = val &^ 0x1
	case addr == addrMcause, addr == addrScause:
		m := r.modeOf(addr)
		r.xmode[m].causeIRQ = val&(1<<63) != 0
		r.xmode[m].causeCode = uint8(val & 0x1f)
	case addr == addrMtval, addr == addrStval:
		r.xmode[r.modeOf(addr)].tval = val
	case addr == addrMcountinhib:
		r.mcountinhibit = uint32(val)
	case addr == addrSatp:
		r.writeSatp(val)

	case addr >= addrPmpcfgBase && addr <= addrPmpcfgLast:
		r.writePmpCfgWord(int(addr-addrPmpcfgBase), val)
	case addr >= addrPmpaddrBase && addr <= addrPmpaddrLast:
		if r.pmp[addr-addrPmpaddrBase].cfg&0x80 == 0 { // locked (L bit): further writes to addr ignored
			r.pmp[addr-addrPmpaddrBase].addr = val & ((1 << 54) - 1)
		}

	case addr == addrMcycle, addr == addrMinstret:
		// writable per spec but River's model treats the counters as
		// free-running; accept the write silently.

	case addr == addrDcsr:
		r.writeDcsr(val)
	case addr == addrDpc:
		r.dpc = val &^ 0x1
	case addr == addrDscratch0:
		r.dscratch0 = val
	case addr == addrDscratch1:
		r.dscratch1 = val

	case addr == addrMstackovr:
		r.mstackovr = val
	case addr == addrMstackund:
		r.mstackund = val

	case addr == addrFflags, addr == addrFrm, addr == addrFcsr:
		// accepted, not modeled

	default:
		return false
	}
	return true
}

// modeOf picks xmode[PrivS] for an 0x1xx-numbered S-CSR and
// xmode[PrivM] for an 0x3xx-numbered M-CSR.
func (r *Regs) modeOf(addr uint16) isa.Privilege {
	if (addr>>8)&0x3 == uint16(isa.PrivS) {
		return isa.PrivS
	}
	return isa.PrivM
}

func (r *Regs) misa() uint64 {
	// RV64 with I, M, A, C, S, U. F and D are never reported, and
	// FPUEnabled is not consulted.
	const base = uint64(2) << 62 // MXL=2 (64-bit)
	ext := uint64(0)
	for _, c := range "IMACSU" {
		ext |= 1 << uint(c-'A')
	}
	return base | ext
}
