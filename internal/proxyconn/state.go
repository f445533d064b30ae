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

// Package proxyconn drives the downstream (frontend) and upstream
// (backend) sides of a single proxied connection: the connection state
// machine, back-pressure between the two directions, and
// correlation-id rewriting for requests multiplexed onto a shared
// backend connection.
package proxyconn

import "fmt"

// State is a connection's position in the state machine.
type State int

const (
	StateNew State = iota
	StateAwaitingFirstFrame
	StateAuthGating
	StateReady
	StateConnectingUpstream
	StateRelaying
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAwaitingFirstFrame:
		return "AWAITING_FIRST_FRAME"
	case StateAuthGating:
		return "AUTH_GATING"
	case StateReady:
		return "READY"
	case StateConnectingUpstream:
		return "CONNECTING_UPSTREAM"
	case StateRelaying:
		return "RELAYING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// transitions enumerates the legal edges of the state machine; an edge
// not listed here is a programming error, not a
// runtime condition to recover from.
var transitions = map[State]map[State]bool{
	StateNew:                {StateAwaitingFirstFrame: true, StateClosing: true},
	StateAwaitingFirstFrame: {StateAuthGating: true, StateReady: true, StateClosing: true},
	StateAuthGating:         {StateReady: true, StateClosing: true},
	StateReady:              {StateConnectingUpstream: true, StateClosing: true},
	StateConnectingUpstream: {StateRelaying: true, StateClosing: true},
	StateRelaying:           {StateRelaying: true, StateClosing: true},
	StateClosing:            {StateClosed: true},
	StateClosed:             {},
}

// ErrIllegalTransition marks an attempted edge not present in the
// state machine.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("proxyconn: illegal transition %s -> %s", e.From, e.To)
}

// Machine is a connection's current state. No locking: exactly one
// goroutine owns a connection and its machine.
type Machine struct {
	current State
}

// NewMachine starts a connection in StateNew.
func NewMachine() *Machine {
	return &Machine{current: StateNew}
}

// Current reports the machine's state.
func (m *Machine) Current() State { return m.current }

// Transition attempts to move to next, returning ErrIllegalTransition
// if the edge isn't in the table.
func (m *Machine) Transition(next State) error {
	if allowed, ok := transitions[m.current]; !ok || !allowed[next] {
		return &ErrIllegalTransition{From: m.current, To: next}
	}
	m.current = next
	return nil
}
