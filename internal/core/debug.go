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
	"github.com/gmofishsauce/river/internal/csr"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/regfile"
)

// stackTraceEntry is one {pc, npc} pair pushed on a call and popped on
// a return (spec.md §4.8).
type stackTraceEntry struct {
	pc, npc uint64
}

// DebugPort is C9: the external debug module's view of the hart --
// register/memory access by address region, progbuf staging, and the
// call/return stack-trace ring buffer.
type DebugPort struct {
	regs *regfile.File
	csr  *csr.Regs

	ring    []stackTraceEntry
	ringPos int
	ringLen int

	Progbuf    [16]uint32
	progbufPC  int
	inProgbuf  bool

	Halted    bool
	HaltCause int
}

// NewDebugPort builds a DebugPort over the hart's own register file
// and CSR bank, with a stack-trace ring of depth cfg.StackTraceBufSize.
func NewDebugPort(regs *regfile.File, c *csr.Regs, cfg isa.Config) *DebugPort {
	return &DebugPort{regs: regs, csr: c, ring: make([]stackTraceEntry, cfg.StackTraceBufSize)}
}

// PushCall records a call-site {pc, npc} pair, overwriting the oldest
// entry once the ring is full.
func (d *DebugPort) PushCall(pc, npc uint64) {
	if len(d.ring) == 0 {
		return
	}
	d.ring[d.ringPos] = stackTraceEntry{pc, npc}
	d.ringPos = (d.ringPos + 1) % len(d.ring)
	if d.ringLen < len(d.ring) {
		d.ringLen++
	}
}

// PopReturn drops the most recently pushed entry, if any.
func (d *DebugPort) PopReturn() {
	if d.ringLen == 0 {
		return
	}
	d.ringPos = (d.ringPos - 1 + len(d.ring)) % len(d.ring)
	d.ringLen--
}

// Halt enters Debug Mode with the given cause at pc, per spec.md
// §4.2's cause enumeration; xPP/xepc are untouched.
func (d *DebugPort) Halt(cause int, pc uint64) {
	d.Halted = true
	d.HaltCause = cause
	d.csr.EnterDebugHalt(cause, pc)
}

// Resume leaves Debug Mode. dpc is left for Hart to pick up as the
// next fetch address.
func (d *DebugPort) Resume() {
	d.Halted = false
	d.inProgbuf = false
}

// LoadProgbuf stages code for Debug Mode execution and points the
// in-window PC at its first word.
func (d *DebugPort) LoadProgbuf(words [16]uint32) {
	d.Progbuf = words
	d.progbufPC = 0
	d.inProgbuf = true
}

// NextProgbufWord returns the instruction word at the progbuf's
// current internal PC and advances it; ok is false once execution
// runs past the 16-word window (a progbuf is expected to end in an
// ebreak well before that).
func (d *DebugPort) NextProgbufWord() (word uint32, ok bool) {
	if !d.inProgbuf || d.progbufPC >= len(d.Progbuf) {
		return 0, false
	}
	word = d.Progbuf[d.progbufPC]
	d.progbufPC++
	return word, true
}

func (d *DebugPort) InProgbuf() bool { return d.inProgbuf }

// debug address regions (spec.md §6): 0x0xxx CSR space, 0x1xxx
// register bank, 0xC040 stack-trace counter, 0xC080..0xC0FF entries.
const (
	debugRegionCSRBase   = 0x0000
	debugRegionCSRLast   = 0x0fff
	debugRegionRegBase   = 0x1000
	debugRegionRegLast   = 0x1fff
	debugStackTraceCnt   = 0xc040
	debugStackTraceBase  = 0xc080
	debugStackTraceLast  = 0xc0ff
)

// Access services one debug-module request, returning ok=false for an
// address outside every recognized region (PROGBUF_ERR_NOT_SUPPORTED
// at the caller).
func (d *DebugPort) Access(addr uint16, write bool, wdata uint64) (rdata uint64, ok bool) {
	switch {
	case addr >= debugRegionCSRBase && addr <= debugRegionCSRLast:
		if write {
			return 0, d.csr.Write(addr, wdata)
		}
		return d.csr.Read(addr)

	case addr >= debugRegionRegBase && addr <= debugRegionRegLast:
		r := int(addr - debugRegionRegBase)
		if r >= isa.RegsTotal {
			return 0, false
		}
		if write {
			// Register-bank writes bypass the tag/writeback discipline:
			// the hart is halted whenever the debug module can reach here.
			d.regs.Stage(r, wdata, d.regs.Tag(r))
			d.regs.Tick()
			return 0, true
		}
		return d.regs.Read(r), true

	case addr == debugStackTraceCnt:
		return uint64(d.ringLen), true

	case addr >= debugStackTraceBase && addr <= debugStackTraceLast:
		idx := int(addr-debugStackTraceBase) / 2
		half := int(addr-debugStackTraceBase) % 2
		if idx >= len(d.ring) {
			return 0, false
		}
		e := d.ring[(d.ringPos-1-idx+2*len(d.ring))%len(d.ring)]
		if half == 0 {
			return e.pc, true
		}
		return e.npc, true
	}
	return 0, false
}
