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

import "github.com/gmofishsauce/river/internal/bus"

// BusServe is the bus-request/response round trip Fetch and MemAccess
// drive their miss-handling loops against. Hart implements it by
// routing the request through the shared cache.Arbiter (C14) rather
// than handing it to RAM directly, so fetch and data traffic share the
// same arbitration point a multi-requester bus would need.
type BusServe func(bus.Request) bus.Response

// RAM is the external-collaborator memory/interconnect spec.md §2
// calls out as "not specified here, only its interface": a flat byte
// array the L1 arbiter's cacheline requests are served against, with
// no added latency (a software model has no clock-domain-crossing
// cost to amortize). It also backs mmu.PageTableReader so the walker's
// PTE reads travel the same physical address space as everything
// else.
type RAM struct {
	bytes []byte
}

// NewRAM allocates size bytes of zeroed backing store.
func NewRAM(size int) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

// Load installs raw program bytes at addr (used by cmd/river to seed
// an image before the first fetch).
func (m *RAM) Load(addr uint64, data []byte) {
	copy(m.bytes[addr:], data)
}

// ReadPTE implements mmu.PageTableReader.
func (m *RAM) ReadPTE(physAddr uint64) (uint64, error) {
	if int(physAddr)+8 > len(m.bytes) {
		return 0, errOutOfRange
	}
	return leUint64(m.bytes[physAddr:]), nil
}

// Serve answers one cacheline request synchronously: the RAM has no
// internal pipelining to model, so a request always grants and
// responds inside a single call.
func (m *RAM) Serve(req bus.Request) bus.Response {
	if !req.Valid {
		return bus.Response{}
	}
	resp := bus.Response{Valid: true, Path: req.Path}
	if int(req.Addr)+req.Size > len(m.bytes) {
		if req.Type.IsWrite() {
			return bus.Response{Valid: true, Path: req.Path, StoreFault: true}
		}
		return bus.Response{Valid: true, Path: req.Path, LoadFault: true}
	}
	if req.Type.IsWrite() {
		for i := 0; i < req.Size; i++ {
			if req.Strobe&(1<<uint(i)) != 0 {
				m.bytes[int(req.Addr)+i] = req.Data[i]
			}
		}
		return resp
	}
	copy(resp.Data[:req.Size], m.bytes[req.Addr:int(req.Addr)+req.Size])
	return resp
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

type ramError string

func (e ramError) Error() string { return string(e) }

const errOutOfRange = ramError("physical address out of range")
