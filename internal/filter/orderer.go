// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filter

import "sync"

// Orderer restores request-arrival order on a connection whose
// in-flight requests may complete their filter chains out of order: a
// client that pipelines requests must still see responses in the order
// it sent them, even though an async filter (e.g. one that calls out
// to a KMS) may resolve request N+1 before request N.
//
// Admit assigns each request a monotonically increasing sequence
// number as it arrives. Complete is called once that request's result
// is ready, in any order; Ready delivers results strictly in sequence
// order, and a caller simply drains whatever is ready.
type Orderer struct {
	mu      sync.Mutex
	next    uint64 // next sequence to admit
	emit    uint64 // next sequence to emit
	pending map[uint64]Result
	readyCh chan Result

	// emitMu serializes the channel sends of concurrent Complete calls
	// so released results cannot interleave out of sequence order.
	emitMu sync.Mutex
}

// NewOrderer creates an empty orderer.
func NewOrderer() *Orderer {
	return &Orderer{
		pending: make(map[uint64]Result),
		readyCh: make(chan Result, 16),
	}
}

// Admit reserves the next sequence number for an arriving request.
func (o *Orderer) Admit() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq := o.next
	o.next++
	return seq
}

// Complete records the result for seq, releasing it and any
// contiguous, already-buffered successors onto the Ready channel. The
// channel sends happen outside the lock so a slow consumer stalls only
// the completing goroutine, never Admit.
func (o *Orderer) Complete(seq uint64, result Result) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	o.pending[seq] = result
	var releasable []Result
	for {
		next, ok := o.pending[o.emit]
		if !ok {
			break
		}
		delete(o.pending, o.emit)
		o.emit++
		releasable = append(releasable, next)
	}
	o.mu.Unlock()

	for _, r := range releasable {
		o.readyCh <- r
	}
}

// Ready is the channel in-order results are delivered on.
func (o *Orderer) Ready() <-chan Result {
	return o.readyCh
}

// Pending reports how many completed-but-not-yet-in-order results are
// currently buffered; useful for back-pressure accounting.
func (o *Orderer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
