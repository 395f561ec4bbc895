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

import "github.com/gmofishsauce/river/internal/isa"

// cReg expands the 3-bit compressed register field (x8-x15) to a full
// 5-bit architectural register number.
func cReg(r uint16) uint8 { return uint8(r&0x7) + 8 }

func csext(v uint32, n uint) int64 {
	shift := 32 - n
	return int64(int32(v<<shift)) >> shift
}

// DecodeC expands a 16-bit RVC half-word directly into a Decoded
// record (spec.md §4.3's RVC expander slice), rather than materializing
// an equivalent 32-bit encoding first.
func DecodeC(half uint16) Decoded {
	d := Decoded{Valid: true, Compressed: true}
	quad := half & 0x3
	funct3 := (half >> 13) & 0x7

	switch quad {
	case 0:
		switch funct3 {
		case 0: // C.ADDI4SPN
			imm := uint32(0)
			imm |= uint32((half>>7)&0xf) << 6
			imm |= uint32((half>>11)&0x3) << 4
			imm |= uint32((half>>5)&0x1) << 3
			imm |= uint32((half>>6)&0x1) << 2
			if imm == 0 {
				d.Unimp = true
				return d
			}
			d.Op, d.Format = isa.InstrADDI, isa.FormatI
			d.Rd, d.Rs1, d.Imm = cReg(half>>2), isa.RegSP, int64(imm)
		case 2: // C.LW
			d.Op, d.Format, d.IsMemop, d.MemSize, d.SignExt = isa.InstrLW, isa.FormatI, true, 2, true
			d.Rd, d.Rs1 = cReg(half>>2), cReg(half>>7)
			d.Imm = int64(clwImm(half))
		case 3: // C.LD
			d.Op, d.Format, d.IsMemop, d.MemSize = isa.InstrLD, isa.FormatI, true, 3
			d.Rd, d.Rs1 = cReg(half>>2), cReg(half>>7)
			d.Imm = int64(cldImm(half))
		case 6: // C.SW
			d.Op, d.Format, d.IsMemop, d.MemSize = isa.InstrSW, isa.FormatS, true, 2
			d.Rs2, d.Rs1 = cReg(half>>2), cReg(half>>7)
			d.Imm = int64(clwImm(half))
		case 7: // C.SD
			d.Op, d.Format, d.IsMemop, d.MemSize = isa.InstrSD, isa.FormatS, true, 3
			d.Rs2, d.Rs1 = cReg(half>>2), cReg(half>>7)
			d.Imm = int64(cldImm(half))
		default:
			d.Unimp = true
		}
		return d

	case 1:
		rd := uint8((half >> 7) & 0x1f)
		switch funct3 {
		case 0: // C.ADDI / C.NOP
			d.Op, d.Format = isa.InstrADDI, isa.FormatI
			d.Rd, d.Rs1 = rd, rd
			d.Imm = ci6(half)
		case 1: // C.ADDIW
			d.Op, d.Format = isa.InstrADDIW, isa.FormatI
			d.Rd, d.Rs1 = rd, rd
			d.Imm = ci6(half)
		case 2: // C.LI
			d.Op, d.Format = isa.InstrADDI, isa.FormatI
			d.Rd, d.Rs1 = rd, isa.RegZero
			d.Imm = ci6(half)
		case 3:
			if rd == isa.RegSP { // C.ADDI16SP
				imm := uint32(0)
				imm |= uint32((half>>12)&1) << 9
				imm |= uint32((half>>3)&3) << 7
				imm |= uint32((half>>5)&1) << 6
				imm |= uint32((half>>2)&1) << 5
				imm |= uint32((half>>6)&1) << 4
				d.Op, d.Format = isa.InstrADDI, isa.FormatI
				d.Rd, d.Rs1 = isa.RegSP, isa.RegSP
				d.Imm = csext(imm, 10)
			} else { // C.LUI
				imm := uint32(0)
				imm |= uint32((half>>12)&1) << 17
				imm |= uint32((half>>2)&0x1f) << 12
				d.Op, d.Format = isa.InstrLUI, isa.FormatU
				d.Rd = rd
				d.Imm = csext(imm, 18)
			}
		case 4:
			rdp := cReg(half >> 7)
			sub := (half >> 10) & 0x3
			switch sub {
			case 0: // C.SRLI
				d.Op, d.Format = isa.InstrSRLI, isa.FormatI
				d.Rd, d.Rs1, d.Imm = rdp, rdp, int64(cShamt(half))
			case 1: // C.SRAI
				d.Op, d.Format = isa.InstrSRAI, isa.FormatI
				d.Rd, d.Rs1, d.Imm = rdp, rdp, int64(cShamt(half))
			case 2: // C.ANDI
				d.Op, d.Format = isa.InstrANDI, isa.FormatI
				d.Rd, d.Rs1 = rdp, rdp
				d.Imm = ci6(half)
			case 3:
				rs2p := cReg(half >> 2)
				isWord := (half>>12)&1 != 0
				switch (half >> 5) & 0x3 {
				case 0:
					if isWord {
						d.Op = isa.InstrSUBW
					} else {
						d.Op = isa.InstrSUB
					}
				case 1:
					if isWord {
						d.Op = isa.InstrADDW
					} else {
						d.Op = isa.InstrXOR
					}
				case 2:
					d.Op = isa.InstrOR
					if isWord {
						d.Unimp = true
					}
				case 3:
					d.Op = isa.InstrAND
					if isWord {
						d.Unimp = true
					}
				}
				d.Format = isa.FormatR
				d.Rd, d.Rs1, d.Rs2 = rdp, rdp, rs2p
			}
		case 5: // C.J
			d.Op, d.Format = isa.InstrJAL, isa.FormatUJ
			d.Rd = isa.RegZero
			d.Imm = cjImm(half)
		case 6: // C.BEQZ
			d.Op, d.Format = isa.InstrBEQ, isa.FormatSB
			d.Rs1, d.Rs2 = cReg(half>>7), isa.RegZero
			d.Imm = cbImm(half)
		case 7: // C.BNEZ
			d.Op, d.Format = isa.InstrBNE, isa.FormatSB
			d.Rs1, d.Rs2 = cReg(half>>7), isa.RegZero
			d.Imm = cbImm(half)
		}
		return d

	case 2:
		rd := uint8((half >> 7) & 0x1f)
		rs2 := uint8((half >> 2) & 0x1f)
		switch funct3 {
		case 0: // C.SLLI
			d.Op, d.Format = isa.InstrSLLI, isa.FormatI
			d.Rd, d.Rs1, d.Imm = rd, rd, int64(cShamt(half))
		case 2: // C.LWSP
			d.Op, d.Format, d.IsMemop, d.MemSize, d.SignExt = isa.InstrLW, isa.FormatI, true, 2, true
			d.Rd, d.Rs1 = rd, isa.RegSP
			d.Imm = int64(clwspImm(half))
		case 3: // C.LDSP
			d.Op, d.Format, d.IsMemop, d.MemSize = isa.InstrLD, isa.FormatI, true, 3
			d.Rd, d.Rs1 = rd, isa.RegSP
			d.Imm = int64(cldspImm(half))
		case 4:
			bit12 := (half >> 12) & 1
			if bit12 == 0 && rs2 == 0 { // C.JR
				d.Op, d.Format = isa.InstrJALR, isa.FormatI
				d.Rd, d.Rs1, d.Imm = isa.RegZero, rd, 0
			} else if bit12 == 0 { // C.MV
				d.Op, d.Format = isa.InstrADD, isa.FormatR
				d.Rd, d.Rs1, d.Rs2 = rd, isa.RegZero, rs2
			} else if rd == 0 && rs2 == 0 { // C.EBREAK
				d.Op, d.Format = isa.InstrEBREAK, isa.FormatI
			} else if rs2 == 0 { // C.JALR
				d.Op, d.Format = isa.InstrJALR, isa.FormatI
				d.Rd, d.Rs1, d.Imm = isa.RegRA, rd, 0
			} else { // C.ADD
				d.Op, d.Format = isa.InstrADD, isa.FormatR
				d.Rd, d.Rs1, d.Rs2 = rd, rd, rs2
			}
		case 6: // C.SWSP
			d.Op, d.Format, d.IsMemop, d.MemSize = isa.InstrSW, isa.FormatS, true, 2
			d.Rs2, d.Rs1 = rs2, isa.RegSP
			d.Imm = int64(cswspImm(half))
		case 7: // C.SDSP
			d.Op, d.Format, d.IsMemop, d.MemSize = isa.InstrSD, isa.FormatS, true, 3
			d.Rs2, d.Rs1 = rs2, isa.RegSP
			d.Imm = int64(csdspImm(half))
		default:
			d.Unimp = true
		}
		return d
	}

	d.Unimp = true
	return d
}

func ci6(half uint16) int64 {
	imm := uint32((half>>12)&1)<<5 | uint32((half>>2)&0x1f)
	return csext(imm, 6)
}

func cShamt(half uint16) uint32 {
	return uint32((half>>12)&1)<<5 | uint32((half>>2)&0x1f)
}

func clwImm(half uint16) uint32 {
	imm := uint32((half>>5)&1) << 6
	imm |= uint32((half>>10)&7) << 3
	imm |= uint32((half>>6)&1) << 2
	return imm
}

func cldImm(half uint16) uint32 {
	imm := uint32((half>>10)&7) << 3
	imm |= uint32((half>>5)&3) << 6
	return imm
}

func cjImm(half uint16) int64 {
	imm := uint32(0)
	imm |= uint32((half>>12)&1) << 11
	imm |= uint32((half>>11)&1) << 4
	imm |= uint32((half>>9)&3) << 8
	imm |= uint32((half>>8)&1) << 10
	imm |= uint32((half>>7)&1) << 6
	imm |= uint32((half>>6)&1) << 7
	imm |= uint32((half>>3)&7) << 1
	imm |= uint32((half>>2)&1) << 5
	return csext(imm, 12)
}

func cbImm(half uint16) int64 {
	imm := uint32(0)
	imm |= uint32((half>>12)&1) << 8
	imm |= uint32((half>>10)&3) << 3
	imm |= uint32((half>>5)&3) << 6
	imm |= uint32((half>>3)&3) << 1
	imm |= uint32((half>>2)&1) << 5
	return csext(imm, 9)
}

func clwspImm(half uint16) uint32 {
	imm := uint32((half>>12)&1) << 5
	imm |= uint32((half>>4)&7) << 2
	imm |= uint32((half>>2)&3) << 6
	return imm
}

func cldspImm(half uint16) uint32 {
	imm := uint32((half>>12)&1) << 5
	imm |= uint32((half>>5)&3) << 3
	imm |= uint32((half>>2)&7) << 6
	return imm
}

func cswspImm(half uint16) uint32 {
	imm := uint32((half>>9)&0xf) << 2
	imm |= uint32((half>>7)&3) << 6
	return imm
}

func csdspImm(half uint16) uint32 {
	imm := uint32((half>>10)&0x7) << 3
	imm |= uint32((half>>7)&7) << 6
	return imm
}
