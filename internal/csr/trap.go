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

// interruptPriority lists IRQ lines in the order spec.md §4.4
// arbitrates them: highest line number doesn't imply anything about
// priority, the standard priority is MEI, MSI, MTI, SEI, SSI, STI.
var interruptPriority = []int{
	isa.IRQMEIP, isa.IRQMSIP, isa.IRQMTIP,
	isa.IRQSEIP, isa.IRQSSIP, isa.IRQSTIP,
}

// NextInterrupt returns the highest-priority pending-and-enabled
// interrupt, if any, respecting the global xIE gate for the mode the
// interrupt would be taken in.
func (r *Regs) NextInterrupt() (code int, ok bool) {
	pending := r.PendingEnabled()
	for _, irq := range interruptPriority {
		if pending&(1<<uint(irq)) == 0 {
			continue
		}
		target := r.trapTarget(uint8(irq), true)
		if target == isa.PrivM && !r.xmode[isa.PrivM].ie && r.priv == isa.PrivM {
			continue
		}
		if target == isa.PrivS && !r.xmode[isa.PrivS].ie && r.priv == isa.PrivS {
			continue
		}
		if r.priv > target {
			continue // a higher-privilege hart is never interrupted by a lower-priv-delegated line
		}
		return irq, true
	}
	return 0, false
}

// trapTarget applies medeleg/mideleg: M by default, S if delegated and
// the current mode is S or U.
func (r *Regs) trapTarget(code uint8, isIRQ bool) isa.Privilege {
	if r.priv > isa.PrivS {
		return isa.PrivM
	}
	delegated := false
	if isIRQ {
		delegated = r.mideleg&(1<<code) != 0
	} else {
		delegated = r.medeleg&(1<<code) != 0
	}
	if delegated {
		return isa.PrivS
	}
	return isa.PrivM
}

// EnterTrap commits the trap-entry state update from spec.md §4.4:
// xPP<-current mode, xPIE<-xIE, xIE<-0, xepc<-pc, xtval<-tval,
// xcause<-{irq,code}, mode<-target. It returns the PC to fetch next.
func (r *Regs) EnterTrap(code uint8, isIRQ bool, pc, tval uint64) uint64 {
	target := r.trapTarget(code, isIRQ)
	m := &r.xmode[target]
	m.pp = r.priv
	m.pie = m.ie
	m.ie = false
	m.epc = pc
	m.tval = tval
	m.causeIRQ = isIRQ
	m.causeCode = code
	r.priv = target

	base := m.tvecOff
	if isIRQ && m.tvecMode == 1 {
		return base + uint64(code)*4
	}
	return base
}

// TrapReturn implements {m,s}ret: restores xIE from xPIE, mode from
// xPP, resets xPIE to 1 and xPP to the least-privileged mode
// (spec.md §4.4), and returns the PC to resume at. Per spec.md §4.7,
// if the restored mode is not M, MPRV is cleared so PmpEna/MMUEna stop
// granting the M-mode-with-override access an MRET should have ended.
func (r *Regs) TrapReturn(from isa.Privilege) uint64 {
	m := &r.xmode[from]
	m.ie = m.pie
	m.pie = true
	r.priv = m.pp
	m.pp = isa.PrivU
	if r.priv != isa.PrivM {
		r.mprv = false
	}
	return m.epc
}

// CheckStack compares sp against the configured stack-overflow and
// stack-underflow bounds. mstackovr/mstackund of zero disables the
// respective check (the reset value). The offending sp is reported as
// xtval: the spec leaves this choice open, and a concrete bad address
// is more useful in a trap handler than a sentinel.
func (r *Regs) CheckStack(sp uint64) (code uint8, tval uint64, trapped bool) {
	if r.mstackovr != 0 && sp < r.mstackovr {
		return isa.ExceptionStackOverflow, sp, true
	}
	if r.mstackund != 0 && sp > r.mstackund {
		return isa.ExceptionStackUnderflow, sp, true
	}
	return 0, 0, false
}
