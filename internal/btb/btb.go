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

// Package btb implements C2: the branch predictor's Branch Target
// Buffer and its predicted-PC walk (spec.md §4.1). An entry maps a
// committed branch PC to its target PC plus an "executed before" flag
// that always wins over the lightweight pre-decoder's guess for the
// same pipeline slot.
package btb

// Entry is one BTB row.
type Entry struct {
	PC   uint64
	NPC  uint64
	Exec bool // true once the executor has confirmed this branch taken
}

// BTB is an ordered, MRU-at-tail table of up to size entries. It is
// not a hash map: insertion order doubles as the priority used when
// walking predicted chains (spec.md §9 design notes).
type BTB struct {
	entries []Entry
	size    int
}

// New creates a BTB holding up to size entries.
func New(size int) *BTB {
	return &BTB{size: size}
}

// Flush clears every entry (pipeline flush).
func (b *BTB) Flush() {
	b.entries = b.entries[:0]
}

// lookup returns (npc, exec, true) if pc is present.
func (b *BTB) lookup(pc uint64) (uint64, bool, bool) {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].PC == pc {
			return b.entries[i].NPC, b.entries[i].Exec, true
		}
	}
	return 0, false, false
}

// Write inserts or updates {pc -> npc, exec}. A write is suppressed
// when pc is already present with exec=true and the new write does
// not also carry exec=true (an exec=1 entry outranks a pre-decoder
// guess for the same pc). The written entry becomes MRU.
func (b *BTB) Write(pc, npc uint64, exec bool) {
	for i, e := range b.entries {
		if e.PC == pc {
			if e.Exec && !exec {
				return
			}
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	b.entries = append(b.entries, Entry{PC: pc, NPC: npc, Exec: exec})
	if len(b.entries) > b.size {
		b.entries = b.entries[len(b.entries)-b.size:]
	}
}

// Predicted is one step of the predicted-PC chain produced by Walk.
type Predicted struct {
	PC   uint64
	Exec bool // true if this step came from a confirmed BTB hit
}

// Walk builds up to depth speculative future fetch addresses starting
// from pc, following npc->npc BTB chains. Step 0 is always pc itself
// (with Exec taken from the caller's e flag, the executor-committed
// "this branch executed" signal for the current instruction); each
// later step either follows a BTB hit or defaults to prevPC+4.
func (b *BTB) Walk(pc uint64, e bool, depth int) []Predicted {
	out := make([]Predicted, depth)
	out[0] = Predicted{PC: pc, Exec: e}
	cur := pc
	for i := 1; i < depth; i++ {
		if npc, exec, ok := b.lookup(cur); ok {
			out[i] = Predicted{PC: npc, Exec: exec}
			cur = npc
		} else {
			cur = cur + 4
			out[i] = Predicted{PC: cur, Exec: false}
		}
	}
	return out
}

// InFlight is the set of addresses already somewhere in the pipeline,
// as reported by Fetch's requested_pc/fetching_pc/fetched_pc.
type InFlight struct {
	Requested, Fetching, Fetched uint64
	HasRequested, HasFetching, HasFetched bool
}

func (f InFlight) contains(pc uint64) bool {
	return (f.HasRequested && f.Requested == pc) ||
		(f.HasFetching && f.Fetching == pc) ||
		(f.HasFetched && f.Fetched == pc)
}

// NextFetch cross-checks a predicted chain against the addresses
// already in flight and returns the first entry not yet pipelined.
// Falls back to the last chain entry if everything collided (should
// not happen with depth >= in-flight slots + 1).
func NextFetch(chain []Predicted, inflight InFlight) uint64 {
	for _, p := range chain {
		if !inflight.contains(p.PC) {
			return p.PC
		}
	}
	return chain[len(chain)-1].PC
}
