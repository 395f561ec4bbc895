// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)

package core

import (
	"testing"

	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/trace"
	"github.com/stretchr/testify/require"
)

// --- hand-assembled RV64 encodings, used only by these tests ---

func encR(funct7, rs2, rs1, funct3, rd, op uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func encI(imm int32, rs1, funct3, rd, op uint32) uint32 {
	return uint32(imm&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func encS(imm int32, rs2, rs1, funct3, op uint32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1f)<<7 | op
}

func encSB(imm int32, rs2, rs1, funct3, op uint32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | op
}

func encU(imm uint32, rd, op uint32) uint32 {
	return (imm & 0xfffff000) | rd<<7 | op
}

func encUJ(imm int32, rd, op uint32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | op
}

func addi(rd, rs1 uint32, imm int32) uint32  { return encI(imm, rs1, 0, rd, 0x13) }
func sd(rs1, rs2 uint32, imm int32) uint32   { return encS(imm, rs2, rs1, 3, 0x23) }
func ld(rd, rs1 uint32, imm int32) uint32    { return encI(imm, rs1, 3, rd, 0x03) }
func sb(rs1, rs2 uint32, imm int32) uint32   { return encS(imm, rs2, rs1, 0, 0x23) }
func lb(rd, rs1 uint32, imm int32) uint32    { return encI(imm, rs1, 0, rd, 0x03) }
func beq(rs1, rs2 uint32, imm int32) uint32  { return encSB(imm, rs2, rs1, 0, 0x63) }
func add(rd, rs1, rs2 uint32) uint32         { return encR(0, rs2, rs1, 0, rd, 0x33) }
func ecall() uint32                          { return encI(0, 0, 0, 0, 0x73) }
func csrrw(rd, rs1 uint32, csr int32) uint32 { return encI(csr, rs1, 1, rd, 0x73) }

func newTestHart(t *testing.T) (*Hart, *RAM) {
	t.Helper()
	cfg := isa.Default()
	cfg.ResetVector = 0x1000
	ram := NewRAM(1 << 20)
	h := NewHart(cfg, ram, nil)
	return h, ram
}

func loadProgram(ram *RAM, pc uint64, words []uint32) {
	off := pc
	for _, w := range words {
		var b [4]byte
		b[0] = byte(w)
		b[1] = byte(w >> 8)
		b[2] = byte(w >> 16)
		b[3] = byte(w >> 24)
		ram.Load(off, b[:])
		off += 4
	}
}

func TestDecodeAddImmediate(t *testing.T) {
	d := Decode(addi(1, 0, 5))
	require.Equal(t, isa.InstrADDI, d.Op)
	require.EqualValues(t, 1, d.Rd)
	require.EqualValues(t, 5, d.Imm)
}

func TestHartAddiThenStoreThenLoad(t *testing.T) {
	h, ram := newTestHart(t)
	loadProgram(ram, h.PC, []uint32{
		addi(1, 0, 42),     // x1 = 42
		sd(0, 1, 0x400),    // mem[0x400] = x1
		ld(2, 0, 0x400),    // x2 = mem[0x400]
	})

	h.Step()
	require.EqualValues(t, 42, h.Regs().Read(1))

	h.Step()
	h.Step()
	require.EqualValues(t, 42, h.Regs().Read(2))
}

func TestHartByteLoadSignExtends(t *testing.T) {
	h, ram := newTestHart(t)
	loadProgram(ram, h.PC, []uint32{
		addi(1, 0, -1), // x1 = -1 (0xFFFFFFFFFFFFFFFF)
		sb(0, 1, 0x480),
		lb(2, 0, 0x480),
	})
	h.Step()
	h.Step()
	h.Step()
	require.EqualValues(t, ^uint64(0), h.Regs().Read(2))
}

func TestHartBranchTakenSkipsNextInstruction(t *testing.T) {
	h, ram := newTestHart(t)
	loadProgram(ram, h.PC, []uint32{
		beq(0, 0, 8),    // always taken, pc+8
		addi(1, 0, 99),  // skipped
		addi(1, 0, 7),   // landed on
	})
	h.Step()
	require.EqualValues(t, h.cfg.ResetVector+8, h.PC)
	h.Step()
	require.EqualValues(t, 7, h.Regs().Read(1))
}

func TestHartAddRegisterRegister(t *testing.T) {
	h, ram := newTestHart(t)
	loadProgram(ram, h.PC, []uint32{
		addi(1, 0, 10),
		addi(2, 0, 32),
		add(3, 1, 2),
	})
	h.Step()
	h.Step()
	h.Step()
	require.EqualValues(t, 42, h.Regs().Read(3))
}

func TestHartEcallTrapsToMtvec(t *testing.T) {
	h, ram := newTestHart(t)
	h.CSR().Write(0x305, 0x2000) // mtvec
	loadProgram(ram, h.PC, []uint32{ecall()})

	r := h.Step()
	require.True(t, r.Trap)
	require.EqualValues(t, isa.ExceptionCallFromMmode, r.TrapCode)
	require.EqualValues(t, 0x2000, h.PC)
	require.Equal(t, isa.PrivM, h.CSR().Priv())
}

func TestHartEbreakHaltsWhenDcsrEbreakmSet(t *testing.T) {
	h, ram := newTestHart(t)
	h.CSR().Write(0x7b0, 1<<15) // dcsr.ebreakm
	loadProgram(ram, h.PC, []uint32{encI(1, 0, 0, 0, 0x73)}) // ebreak

	h.Step()
	require.True(t, h.Halted)

	r := h.Step()
	require.False(t, r.Valid, "a halted hart retires nothing")
}

func TestHartCsrReadWrite(t *testing.T) {
	h, ram := newTestHart(t)
	loadProgram(ram, h.PC, []uint32{
		addi(1, 0, 0x55),
		csrrw(2, 1, 0x340), // x2 = mscratch (old), mscratch = x1
	})
	h.Step()
	h.Step()
	require.EqualValues(t, 0, h.Regs().Read(2))
	v, ok := h.CSR().Read(0x340)
	require.True(t, ok)
	require.EqualValues(t, 0x55, v)
}

func TestTracerReceivesRetiredInstructions(t *testing.T) {
	h, ram := newTestHart(t)
	var buf traceBuf
	h.tracer = trace.New(&buf)
	loadProgram(ram, h.PC, []uint32{addi(1, 0, 1)})
	h.Step()
	require.Contains(t, buf.String(), "WRITEBACK: x1")
}

type traceBuf struct {
	data []byte
}

func (b *traceBuf) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *traceBuf) String() string { return string(b.data) }
