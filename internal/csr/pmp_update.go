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

import "github.com/gmofishsauce/river/internal/pmp"

// PMPUpdater is the one-region-per-cycle push from the CSR's pmpcfg/
// pmpaddr shadow into the real internal/pmp.Table the D$/I$ consult;
// a CSR write reaches the table within CFG_PMP_TBL_SIZE cycles, when
// the round-robin next visits that region, the same latency the
// hardware has since the table is a single-ported structure.
type PMPUpdater struct {
	next int
}

// StepPMPUpdate pushes the next region's decoded {start,end,flags} into tbl and
// advances to the following region, wrapping after the last one.
func (r *Regs) StepPMPUpdate(tbl *pmp.Table, u *PMPUpdater) {
	if len(r.pmp) == 0 {
		return
	}
	i := u.next
	u.next = (u.next + 1) % len(r.pmp)

	cfg := r.pmp[i].cfg
	flags := pmp.Flags{
		R: cfg&0x1 != 0,
		W: cfg&0x2 != 0,
		X: cfg&0x4 != 0,
		L: cfg&0x80 != 0,
		V: (cfg>>3)&0x3 == 1, // A field: 01=NAPOT/TOR simplification, treated as "valid"
	}
	if !flags.V {
		tbl.Update(i, 0, 0, flags)
		return
	}
	start, end := pmp.NapotRange(r.pmp[i].addr)
	tbl.Update(i, start, end, flags)
}
