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

// Package filter implements the filter chain driver: a
// polymorphic dispatch over generic request/response filters, composite
// filters, and filters specific to a fixed set of API keys, plus the
// capability-mix validation that makes invalid combinations a fatal
// construction error rather than a runtime surprise.
package filter

import (
	"context"

	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

// Frame is the decoded-or-opaque form of a request/response passed
// through the chain.
type Frame struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32

	// Request/Response are set when the frame codec decided some
	// filter subscribes to this (apiKey, apiVersion); otherwise Raw
	// carries the pass-through bytes untouched.
	Request  kafkaproto.Request
	Response any
	Raw      []byte
}

// Action is a filter step's verdict.
type Action int

const (
	ActionForward Action = iota
	ActionShortCircuit
	ActionFail
)

// Result is what a filter step resolves to, delivered through a
// Completion.
type Result struct {
	Action   Action
	Frame    *Frame // for ActionForward: the (possibly modified) frame
	Response *Frame // for ActionShortCircuit: the generated response
	Err      error  // for ActionFail
}

// Completion is the handle a filter step returns; the driver composes
// these and resumes only once the value is available. In this
// implementation, resuming always happens on the goroutine that
// receives from the channel, which for a given connection is always
// that connection's own processing goroutine.
type Completion chan Result

// immediate wraps an already-available result in a completion, for
// synchronous filters that never actually suspend.
func immediate(r Result) Completion {
	c := make(Completion, 1)
	c <- r
	return c
}

// RequestFilter is the generic request-side capability.
type RequestFilter interface {
	OnRequest(ctx context.Context, f *Frame) Completion
}

// ResponseFilter is the generic response-side capability.
type ResponseFilter interface {
	OnResponse(ctx context.Context, f *Frame) Completion
}

// Composite expands to a flattened sub-chain.
type Composite interface {
	SubFilters() []Filter
}

// SpecificRequestFilter intercepts only the request API keys it names;
// it must not also implement RequestFilter/ResponseFilter.
type SpecificRequestFilter interface {
	RequestAPIKeys() []int16
	OnRequestForKey(ctx context.Context, f *Frame) Completion
}

// SpecificResponseFilter is the response-side analogue.
type SpecificResponseFilter interface {
	ResponseAPIKeys() []int16
	OnResponseForKey(ctx context.Context, f *Frame) Completion
}

// Filter is the marker interface every filter type satisfies merely by
// being passed to NewChain; the concrete capability is discovered by
// type assertion.
type Filter interface{}
