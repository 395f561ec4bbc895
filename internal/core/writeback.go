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

import "github.com/gmofishsauce/river/internal/regfile"

// Writeback is C7: the arbiter that commits exactly one register
// write per cycle. The original arbitrates between an Execute-side
// ALU result and a MemAccess-side load result racing for the same
// cycle, with MemAccess always winning; this Hart never has both
// pending at once (one instruction runs to completion before the
// next is fetched), so the arbitration reduces to "stage whichever
// result Hart.Step collected, using the tag captured at issue."
type Writeback struct {
	regs *regfile.File
}

func NewWriteback(regs *regfile.File) *Writeback {
	return &Writeback{regs: regs}
}

// Commit stages rd<-val (tagged at issue by IssueTag) and ticks the
// register file so the write lands before the next instruction reads.
func (w *Writeback) Commit(rd uint8, val uint64) {
	if rd == 0 {
		return
	}
	tag := w.regs.IssueTag(int(rd))
	w.regs.Stage(int(rd), val, tag)
	w.regs.Tick()
}
