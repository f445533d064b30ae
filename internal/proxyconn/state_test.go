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

package proxyconn

import "testing"

func TestMachineFollowsHappyPath(t *testing.T) {
	m := NewMachine()
	steps := []State{StateAwaitingFirstFrame, StateReady, StateConnectingUpstream, StateRelaying, StateRelaying, StateClosing, StateClosed}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
	if m.Current() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", m.Current())
	}
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(StateRelaying); err == nil {
		t.Fatal("expected error jumping straight from NEW to RELAYING")
	}
}

func TestMachineRejectsTransitionFromClosed(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(StateAwaitingFirstFrame)
	_ = m.Transition(StateReady)
	_ = m.Transition(StateConnectingUpstream)
	_ = m.Transition(StateRelaying)
	_ = m.Transition(StateClosing)
	_ = m.Transition(StateClosed)
	if err := m.Transition(StateReady); err == nil {
		t.Fatal("expected error transitioning out of CLOSED")
	}
}
