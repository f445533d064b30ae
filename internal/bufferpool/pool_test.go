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

package bufferpool

import "testing"

func TestGetReturnsCapacityAtLeastRequested(t *testing.T) {
	p := New()
	b := p.Get(100)
	if cap(b.Bytes()) < 100 {
		t.Fatalf("expected capacity >= 100, got %d", cap(b.Bytes()))
	}
	p.Release(b)
}

func TestGetFallsBackForOversizedRequest(t *testing.T) {
	p := New()
	b := p.Get(1 << 20)
	if cap(b.Bytes()) < 1<<20 {
		t.Fatalf("expected oversized fallback, got cap %d", cap(b.Bytes()))
	}
	if b.class != -1 {
		t.Fatalf("expected fallback buffer marked class -1, got %d", b.class)
	}
	p.Release(b) // must not panic
}

func TestDoubleReleaseIsSafe(t *testing.T) {
	p := New()
	b := p.Get(512)
	p.Release(b)
	p.Release(b) // second release must be a no-op, not a corruption
}

func TestReleaseNilIsSafe(t *testing.T) {
	p := New()
	p.Release(nil)
}
