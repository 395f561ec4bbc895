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

// Package core implements C3-C9: Fetch, Decode, Execute, MemAccess,
// the Writeback arbiter, and the DebugPort, wired together by Hart's
// Step method into the two-phase clock model of spec.md §5.
package core

import "github.com/gmofishsauce/river/internal/isa"

// Decoded is the uniform record Decode emits for either decode slice,
// matching spec.md §4.3's "one-hot opcode vector, ISA format, decoded
// immediate, register ports, CSR address, classification flags".
type Decoded struct {
	Valid      bool
	Compressed bool
	Unimp      bool // instr_unimplemented

	Op     isa.Opcode
	Format isa.Format

	Rd, Rs1, Rs2 uint8
	Imm          int64

	CSRAddr uint16

	IsMemop  bool
	MemSize  uint8 // log2(bytes): 0,1,2,3
	SignExt  bool
	IsAMO    bool
	AMOAcq   bool
	AMORel   bool
}

func bits(w uint32, hi, lo uint) uint32 {
	return (w >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func sext(v uint32, n uint) int64 {
	shift := 32 - n
	return int64(int32(v<<shift)) >> shift
}

// Decode expands one full 32-bit RV64 word into a Decoded record.
// Unknown encodings set Unimp.
func Decode(word uint32) Decoded {
	op := bits(word, 6, 0)
	funct3 := bits(word, 14, 12)
	funct7 := bits(word, 31, 25)
	rd := uint8(bits(word, 11, 7))
	rs1 := uint8(bits(word, 19, 15))
	rs2 := uint8(bits(word, 24, 20))

	d := Decoded{Valid: true, Rd: rd, Rs1: rs1, Rs2: rs2}

	switch op {
	case 0x37: // LUI
		d.Op, d.Format = isa.InstrLUI, isa.FormatU
		d.Imm = int64(int32(word & 0xfffff000))
		return d
	case 0x17: // AUIPC
		d.Op, d.Format = isa.InstrAUIPC, isa.FormatU
		d.Imm = int64(int32(word & 0xfffff000))
		return d
	case 0x6f: // JAL
		d.Op, d.Format = isa.InstrJAL, isa.FormatUJ
		imm := (bits(word, 31, 31) << 20) | (bits(word, 19, 12) << 12) |
			(bits(word, 20, 20) << 11) | (bits(word, 30, 21) << 1)
		d.Imm = sext(imm, 21)
		return d
	case 0x67: // JALR
		d.Op, d.Format = isa.InstrJALR, isa.FormatI
		d.Imm = sext(bits(word, 31, 20), 12)
		return d
	case 0x63: // branches
		d.Format = isa.FormatSB
		imm := (bits(word, 31, 31) << 12) | (bits(word, 7, 7) << 11) |
			(bits(word, 30, 25) << 5) | (bits(word, 11, 8) << 1)
		d.Imm = sext(imm, 13)
		switch funct3 {
		case 0:
			d.Op = isa.InstrBEQ
		case 1:
			d.Op = isa.InstrBNE
		case 4:
			d.Op = isa.InstrBLT
		case 5:
			d.Op = isa.InstrBGE
		case 6:
			d.Op = isa.InstrBLTU
		case 7:
			d.Op = isa.InstrBGEU
		default:
			d.Unimp = true
		}
		return d
	case 0x03: // loads
		d.Format = isa.FormatI
		d.IsMemop = true
		d.Imm = sext(bits(word, 31, 20), 12)
		switch funct3 {
		case 0:
			d.Op, d.MemSize, d.SignExt = isa.InstrLB, 0, true
		case 1:
			d.Op, d.MemSize, d.SignExt = isa.InstrLH, 1, true
		case 2:
			d.Op, d.MemSize, d.SignExt = isa.InstrLW, 2, true
		case 3:
			d.Op, d.MemSize, d.SignExt = isa.InstrLD, 3, false
		case 4:
			d.Op, d.MemSize, d.SignExt = isa.InstrLBU, 0, false
		case 5:
			d.Op, d.MemSize, d.SignExt = isa.InstrLHU, 1, false
		case 6:
			d.Op, d.MemSize, d.SignExt = isa.InstrLWU, 2, false
		default:
			d.Unimp = true
		}
		return d
	case 0x23: // stores
		d.Format = isa.FormatS
		d.IsMemop = true
		imm := (bits(word, 31, 25) << 5) | bits(word, 11, 7)
		d.Imm = sext(imm, 12)
		switch funct3 {
		case 0:
			d.Op, d.MemSize = isa.InstrSB, 0
		case 1:
			d.Op, d.MemSize = isa.InstrSH, 1
		case 2:
			d.Op, d.MemSize = isa.InstrSW, 2
		case 3:
			d.Op, d.MemSize = isa.InstrSD, 3
		default:
			d.Unimp = true
		}
		return d
	case 0x13: // ALU-immediate, RV64
		d.Format = isa.FormatI
		d.Imm = sext(bits(word, 31, 20), 12)
		switch funct3 {
		case 0:
			d.Op = isa.InstrADDI
		case 2:
			d.Op = isa.InstrSLTI
		case 3:
			d.Op = isa.InstrSLTIU
		case 4:
			d.Op = isa.InstrXORI
		case 6:
			d.Op = isa.InstrORI
		case 7:
			d.Op = isa.InstrANDI
		case 1:
			d.Op = isa.InstrSLLI
			d.Imm = int64(bits(word, 25, 20))
		case 5:
			if bits(word, 31, 26) == 0x10 {
				d.Op = isa.InstrSRAI
			} else {
				d.Op = isa.InstrSRLI
			}
			d.Imm = int64(bits(word, 25, 20))
		default:
			d.Unimp = true
		}
		return d
	case 0x1b: // ALU-immediate-word (RV64 *W forms)
		d.Format = isa.FormatI
		d.Imm = sext(bits(word, 31, 20), 12)
		switch funct3 {
		case 0:
			d.Op = isa.InstrADDIW
		case 1:
			d.Op = isa.InstrSLLIW
			d.Imm = int64(bits(word, 24, 20))
		case 5:
			if bits(word, 31, 25) == 0x20 {
				d.Op = isa.InstrSRAIW
			} else {
				d.Op = isa.InstrSRLIW
			}
			d.Imm = int64(bits(word, 24, 20))
		default:
			d.Unimp = true
		}
		return d
	case 0x33: // ALU register, RV64 and M-extension
		d.Format = isa.FormatR
		if funct7 == 0x01 {
			decodeMext(&d, funct3, false)
			return d
		}
		switch funct3 {
		case 0:
			if funct7 == 0x20 {
				d.Op = isa.InstrSUB
			} else {
				d.Op = isa.InstrADD
			}
		case 1:
			d.Op = isa.InstrSLL
		case 2:
			d.Op = isa.InstrSLT
		case 3:
			d.Op = isa.InstrSLTU
		case 4:
			d.Op = isa.InstrXOR
		case 5:
			if funct7 == 0x20 {
				d.Op = isa.InstrSRA
			} else {
				d.Op = isa.InstrSRL
			}
		case 6:
			d.Op = isa.InstrOR
		case 7:
			d.Op = isa.InstrAND
		default:
			d.Unimp = true
		}
		return d
	case 0x3b: // ALU register-word, RV64 and M-extension *W forms
		d.Format = isa.FormatR
		if funct7 == 0x01 {
			decodeMext(&d, funct3, true)
			return d
		}
		switch funct3 {
		case 0:
			if funct7 == 0x20 {
				d.Op = isa.InstrSUBW
			} else {
				d.Op = isa.InstrADDW
			}
		case 1:
			d.Op = isa.InstrSLLW
		case 5:
			if funct7 == 0x20 {
				d.Op = isa.InstrSRAW
			} else {
				d.Op = isa.InstrSRLW
			}
		default:
			d.Unimp = true
		}
		return d
	case 0x2f: // AMO
		return decodeAMO(word, d)
	case 0x0f: // FENCE / FENCE.I
		d.Format = isa.FormatI
		if funct3 == 1 {
			d.Op = isa.InstrFENCEI
		} else {
			d.Op = isa.InstrFENCE
		}
		return d
	case 0x73: // SYSTEM: CSR, ECALL/EBREAK, xRET, WFI, SFENCE.VMA
		return decodeSystem(word, d, funct3, rs1, rs2, rd, funct7)
	}

	d.Unimp = true
	return d
}

func decodeMext(d *Decoded, funct3 uint32, word32 bool) {
	d.Format = isa.FormatR
	if word32 {
		switch funct3 {
		case 0:
			d.Op = isa.InstrMULW
		case 4:
			d.Op = isa.InstrDIVW
		case 5:
			d.Op = isa.InstrDIVUW
		case 6:
			d.Op = isa.InstrREMW
		case 7:
			d.Op = isa.InstrREMUW
		default:
			d.Unimp = true
		}
		return
	}
	switch funct3 {
	case 0:
		d.Op = isa.InstrMUL
	case 1:
		d.Op = isa.InstrMULH
	case 2:
		d.Op = isa.InstrMULHSU
	case 3:
		d.Op = isa.InstrMULHU
	case 4:
		d.Op = isa.InstrDIV
	case 5:
		d.Op = isa.InstrDIVU
	case 6:
		d.Op = isa.InstrREM
	case 7:
		d.Op = isa.InstrREMU
	default:
		d.Unimp = true
	}
}

func decodeAMO(word uint32, d Decoded) Decoded {
	d.Format = isa.FormatR
	d.IsMemop = true
	d.IsAMO = true
	d.AMORel = bits(word, 25, 25) != 0
	d.AMOAcq = bits(word, 26, 26) != 0
	funct3 := bits(word, 14, 12)
	funct5 := bits(word, 31, 27)
	if funct3 == 2 {
		d.MemSize = 2
	} else {
		d.MemSize = 3
	}
	is32 := funct3 == 2
	switch funct5 {
	case 0x00:
		d.Op = pick(is32, isa.InstrAMOADD_W, isa.InstrAMOADD_D)
	case 0x01:
		d.Op = pick(is32, isa.InstrAMOSWAP_W, isa.InstrAMOSWAP_D)
	case 0x02:
		d.Op = pick(is32, isa.InstrLR_W, isa.InstrLR_D)
	case 0x03:
		d.Op = pick(is32, isa.InstrSC_W, isa.InstrSC_D)
	case 0x04:
		d.Op = pick(is32, isa.InstrAMOXOR_W, isa.InstrAMOXOR_D)
	case 0x08:
		d.Op = pick(is32, isa.InstrAMOOR_W, isa.InstrAMOOR_D)
	case 0x0c:
		d.Op = pick(is32, isa.InstrAMOAND_W, isa.InstrAMOAND_D)
	case 0x10:
		d.Op = pick(is32, isa.InstrAMOMIN_W, isa.InstrAMOMIN_D)
	case 0x14:
		d.Op = pick(is32, isa.InstrAMOMAX_W, isa.InstrAMOMAX_D)
	case 0x18:
		d.Op = pick(is32, isa.InstrAMOMINU_W, isa.InstrAMOMINU_D)
	case 0x1c:
		d.Op = pick(is32, isa.InstrAMOMAXU_W, isa.InstrAMOMAXU_D)
	default:
		d.Unimp = true
	}
	return d
}

func pick(is32 bool, a, b isa.Opcode) isa.Opcode {
	if is32 {
		return a
	}
	return b
}

func decodeSystem(word uint32, d Decoded, funct3 uint32, rs1, rs2, rd uint8, funct7 uint32) Decoded {
	d.Format = isa.FormatI
	switch funct3 {
	case 0:
		imm := bits(word, 31, 20)
		switch {
		case imm == 0 && rs1 == 0 && rd == 0:
			d.Op = isa.InstrECALL
		case imm == 1 && rs1 == 0 && rd == 0:
			d.Op = isa.InstrEBREAK
		case imm == 0x302:
			d.Op = isa.InstrMRET
		case imm == 0x102:
			d.Op = isa.InstrSRET
		case imm == 0x002:
			d.Op = isa.InstrURET
		case imm == 0x602:
			d.Op = isa.InstrHRET
		case imm == 0x105:
			d.Op = isa.InstrWFI
		case funct7 == 0x09:
			d.Op = isa.InstrSFENCEVMA
		default:
			d.Unimp = true
		}
		return d
	case 1:
		d.Op, d.CSRAddr, d.Imm = isa.InstrCSRRW, uint16(bits(word, 31, 20)), int64(rs1)
	case 2:
		d.Op, d.CSRAddr, d.Imm = isa.InstrCSRRS, uint16(bits(word, 31, 20)), int64(rs1)
	case 3:
		d.Op, d.CSRAddr, d.Imm = isa.InstrCSRRC, uint16(bits(word, 31, 20)), int64(rs1)
	case 5:
		d.Op, d.CSRAddr, d.Imm = isa.InstrCSRRWI, uint16(bits(word, 31, 20)), int64(rs1)
	case 6:
		d.Op, d.CSRAddr, d.Imm = isa.InstrCSRRSI, uint16(bits(word, 31, 20)), int64(rs1)
	case 7:
		d.Op, d.CSRAddr, d.Imm = isa.InstrCSRRCI, uint16(bits(word, 31, 20)), int64(rs1)
	default:
		d.Unimp = true
	}
	return d
}
