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

// Package bufferpool provides recyclable byte buffers sized to the
// record-transform engine's worst-case parcel/wrapper sizes. Buffers
// are pooled by size class; acquisitions beyond the largest configured
// class fall back to a plain heap allocation that is never returned to
// a pool.
package bufferpool

import "sync"

// sizeClasses are the buffer capacities the pool recycles, chosen to
// comfortably cover typical parcel/wrapper sizes without excessive
// internal fragmentation.
var sizeClasses = []int{256, 1024, 4096, 16384, 65536, 262144}

// Buffer is a borrowed byte slice. Callers must call Release exactly
// once; a second Release on the same Buffer is a no-op rather than a
// corruption, so a defer-based release paired with an early error
// return never double-frees pool state.
type Buffer struct {
	data     []byte
	class    int // index into sizeClasses, or -1 for a heap fallback
	released bool
}

// Bytes returns the buffer's backing slice, length zero, capacity at
// least the size requested from Get.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Pool is a bounded set of per-size-class sync.Pool instances.
type Pool struct {
	classes []*sync.Pool
}

// New constructs a Pool using the package's default size classes.
func New() *Pool {
	p := &Pool{classes: make([]*sync.Pool, len(sizeClasses))}
	for i, sz := range sizeClasses {
		sz := sz
		p.classes[i] = &sync.Pool{
			New: func() any {
				return make([]byte, 0, sz)
			},
		}
	}
	return p
}

// Get returns a buffer with capacity at least size. If size exceeds the
// largest size class, the fallback buffer is heap-allocated and marked
// so Release does not attempt to return it to a pool.
func (p *Pool) Get(size int) *Buffer {
	for i, sz := range sizeClasses {
		if size <= sz {
			raw := p.classes[i].Get().([]byte)
			return &Buffer{data: raw[:0], class: i}
		}
	}
	return &Buffer{data: make([]byte, 0, size), class: -1}
}

// Release returns a buffer to its size class pool. Safe to call more
// than once; safe to call with nil.
func (p *Pool) Release(b *Buffer) {
	if b == nil || b.released {
		return
	}
	b.released = true
	if b.class < 0 {
		return
	}
	p.classes[b.class].Put(b.data[:0])
}
