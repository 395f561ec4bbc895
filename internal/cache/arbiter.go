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

package cache

import "github.com/gmofishsauce/river/internal/bus"

// Arbiter is C14: the small FIFO in front of the external bus that
// multiplexes the I$ and D$ request ports onto one outstanding
// request, steering the eventual response back by bus.Path. The data
// side wins ties -- a stalled store should not be starved behind a
// steady stream of fetches (ic_csr_m2_s1 in the original naming).
type Arbiter struct {
	queue []bus.Request
	depth int

	inflight    bus.Request
	hasInflight bool
}

// NewArbiter creates an arbiter with the given queue depth
// (CFG_L1_ARBITER_QUEUE_DEPTH; River uses 2).
func NewArbiter(depth int) *Arbiter {
	return &Arbiter{depth: depth}
}

// Offer enqueues this cycle's dcache request first and then the
// icache request, so when both arrive the same cycle and the queue
// has no room for both, the data request is kept and the instruction
// request is dropped and must be retried next cycle.
func (a *Arbiter) Offer(iReq, dReq bus.Request) {
	if dReq.Valid {
		a.enqueue(dReq)
	}
	if iReq.Valid {
		a.enqueue(iReq)
	}
}

func (a *Arbiter) enqueue(r bus.Request) {
	if len(a.queue) >= a.depth {
		return
	}
	a.queue = append(a.queue, r)
}

// Step pops the head of the queue onto the external bus once it is
// free to accept a new request, and routes an arriving response back
// to the cache whose Path it was tagged with.
func (a *Arbiter) Step(busReady bool, busResp bus.Response) (toBus bus.Request, toICache, toDCache bus.Response) {
	if busResp.Valid {
		if busResp.Path == bus.PathCtrl {
			toICache = busResp
		} else {
			toDCache = busResp
		}
	}

	if a.hasInflight && busResp.Valid {
		a.hasInflight = false
	}

	if !a.hasInflight && busReady && len(a.queue) > 0 {
		a.inflight = a.queue[0]
		a.queue = a.queue[1:]
		a.hasInflight = true
		toBus = a.inflight
	}
	return
}

// Pending reports whether the arbiter currently has a request queued
// or in flight, for backpressure on the cache state machines.
func (a *Arbiter) Pending() bool {
	return a.hasInflight || len(a.queue) > 0
}
