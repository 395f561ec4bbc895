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

package isa

// Format is the ISA instruction format (R/I/S/SB/U/UJ) used to mux
// operand selection in Execute.
type Format int

const (
	FormatR Format = iota
	FormatI
	FormatS
	FormatSB
	FormatU
	FormatUJ
)

// Opcode is the one-hot instruction classification the decoder emits.
// The numeric values are not architecturally meaningful; they only
// need to be stable within one run so trace output is reproducible.
type Opcode int

const (
	InstrADD Opcode = iota
	InstrADDI
	InstrADDIW
	InstrADDW
	InstrAND
	InstrANDI
	InstrAUIPC
	InstrBEQ
	InstrBGE
	InstrBGEU
	InstrBLT
	InstrBLTU
	InstrBNE
	InstrJAL
	InstrJALR
	InstrLB
	InstrLH
	InstrLW
	InstrLD
	InstrLBU
	InstrLHU
	InstrLWU
	InstrLUI
	InstrOR
	InstrORI
	InstrSLLI
	InstrSLT
	InstrSLTI
	InstrSLTU
	InstrSLTIU
	InstrSLL
	InstrSLLW
	InstrSLLIW
	InstrSRA
	InstrSRAW
	InstrSRAI
	InstrSRAIW
	InstrSRL
	InstrSRLI
	InstrSRLIW
	InstrSRLW
	InstrSB
	InstrSH
	InstrSW
	InstrSD
	InstrSUB
	InstrSUBW
	InstrXOR
	InstrXORI
	InstrCSRRW
	InstrCSRRS
	InstrCSRRC
	InstrCSRRWI
	InstrCSRRCI
	InstrCSRRSI
	InstrURET
	InstrSRET
	InstrHRET
	InstrMRET
	InstrFENCE
	InstrFENCEI
	InstrWFI
	InstrSFENCEVMA
	InstrDIV
	InstrDIVU
	InstrDIVW
	InstrDIVUW
	InstrMUL
	InstrMULW
	InstrMULH
	InstrMULHSU
	InstrMULHU
	InstrREM
	InstrREMU
	InstrREMW
	InstrREMUW
	InstrAMOADD_W
	InstrAMOXOR_W
	InstrAMOOR_W
	InstrAMOAND_W
	InstrAMOMIN_W
	InstrAMOMAX_W
	InstrAMOMINU_W
	InstrAMOMAXU_W
	InstrAMOSWAP_W
	InstrLR_W
	InstrSC_W
	InstrAMOADD_D
	InstrAMOXOR_D
	InstrAMOOR_D
	InstrAMOAND_D
	InstrAMOMIN_D
	InstrAMOMAX_D
	InstrAMOMINU_D
	InstrAMOMAXU_D
	InstrAMOSWAP_D
	InstrLR_D
	InstrSC_D
	InstrECALL
	InstrEBREAK
	InstrUnimplemented
	instrTotal
)

// MemopType (MemopType_*): whether a memory operation is a plain
// load/store or part of the atomic family.
type MemopType int

const (
	MemopLoad    MemopType = 0 // 0=load
	MemopStore   MemopType = 1 // 1=store, also carries Locked for AMO read-modify-write
	MemopReserve MemopType = 2 // LR
	MemopRelease MemopType = 3 // SC
)

// IsAMO reports whether an opcode is one of the A-extension AMO ops
// (including LR/SC, which have their own reserve/release memop
// subtype but are part of the same sub-machine).
func (o Opcode) IsAMO() bool {
	return o >= InstrAMOADD_W && o <= InstrSC_D
}

func (o Opcode) IsLoad() bool {
	switch o {
	case InstrLB, InstrLH, InstrLW, InstrLD, InstrLBU, InstrLHU, InstrLWU, InstrLR_W, InstrLR_D:
		return true
	default:
		return false
	}
}

func (o Opcode) IsStore() bool {
	switch o {
	case InstrSB, InstrSH, InstrSW, InstrSD, InstrSC_W, InstrSC_D:
		return true
	default:
		return false
	}
}

// IsBranch reports whether the opcode is a conditional branch (SB-type).
func (o Opcode) IsBranch() bool {
	switch o {
	case InstrBEQ, InstrBGE, InstrBGEU, InstrBLT, InstrBLTU, InstrBNE:
		return true
	default:
		return false
	}
}
