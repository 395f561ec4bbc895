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

// CSR addresses this core implements, named the way the RISC-V
// privileged spec names them.
const (
	addrFflags = 0x001
	addrFrm    = 0x002
	addrFcsr   = 0x003

	addrCycle   = 0xC00
	addrTime    = 0xC01
	addrInstret = 0xC03

	addrSstatus    = 0x100
	addrSie        = 0x104
	addrStvec      = 0x105
	addrScounteren = 0x106
	addrSscratch   = 0x140
	addrSepc       = 0x141
	addrScause     = 0x142
	addrStval      = 0x143
	addrSip        = 0x144
	addrSatp       = 0x180

	addrMvendorid = 0xF11
	addrMarchid   = 0xF12
	addrMimpid    = 0xF13
	addrMhartid   = 0xF14

	addrMstatus     = 0x300
	addrMisa        = 0x301
	addrMedeleg     = 0x302
	addrMideleg     = 0x303
	addrMie         = 0x304
	addrMtvec       = 0x305
	addrMcounteren  = 0x306
	addrMscratch    = 0x340
	addrMepc        = 0x341
	addrMcause      = 0x342
	addrMtval       = 0x343
	addrMip         = 0x344
	addrMcountinhib = 0x320

	addrPmpcfgBase  = 0x3A0
	addrPmpcfgLast  = 0x3AF
	addrPmpaddrBase = 0x3B0
	addrPmpaddrLast = 0x3EF

	addrMcycle   = 0xB00
	addrMinstret = 0xB02

	addrDcsr      = 0x7B0
	addrDpc       = 0x7B1
	addrDscratch0 = 0x7B2
	addrDscratch1 = 0x7B3

	addrMstackovr = 0xBC0
	addrMstackund = 0xBC1
)

// modeForAddr reports the minimum privilege an address requires, by
// the RISC-V convention that CSR[9:8] encodes it (0=U,1=S,3=M).
func modeForAddr(addr uint16) isa.Privilege {
	return isa.Privilege((addr >> 8) & 0x3)
}
