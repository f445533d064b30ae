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

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

// ErrInvalidCapabilityMix is a construction-time error: a filter
// implements an illegal combination of capabilities. Mixing composite
// with anything else, or generic with per-API-key-specific on the same
// side, is fatal and must never surface at request time.
var ErrInvalidCapabilityMix = errors.New("filter: invalid capability mix")

// maxCompositeDepth bounds composite expansion.
const maxCompositeDepth = 2

// instance is one flattened, capability-classified filter. id exists
// purely for log correlation: when a filter in a long chain fails, the
// error can name which instance produced it without relying on the
// filter's (possibly duplicated) Go type name.
type instance struct {
	id       uuid.UUID
	generic  Filter // non-nil if this filter is RequestFilter and/or ResponseFilter
	specific Filter // non-nil if this filter is Specific{Request,Response}Filter

	requestKeys  map[int16]struct{}
	responseKeys map[int16]struct{}
}

func classify(f Filter) (*instance, error) {
	_, isReq := f.(RequestFilter)
	_, isResp := f.(ResponseFilter)
	specReq, isSpecReq := f.(SpecificRequestFilter)
	specResp, isSpecResp := f.(SpecificResponseFilter)
	isGeneric := isReq || isResp
	isSpecific := isSpecReq || isSpecResp

	if isGeneric && isSpecific {
		return nil, fmt.Errorf("%w: %T implements both generic and per-API-key-specific filter interfaces", ErrInvalidCapabilityMix, f)
	}

	inst := &instance{id: uuid.New()}
	if isGeneric {
		inst.generic = f
	}
	if isSpecific {
		inst.specific = f
		inst.requestKeys = make(map[int16]struct{})
		inst.responseKeys = make(map[int16]struct{})
		if isSpecReq {
			for _, k := range specReq.RequestAPIKeys() {
				inst.requestKeys[k] = struct{}{}
			}
		}
		if isSpecResp {
			for _, k := range specResp.ResponseAPIKeys() {
				inst.responseKeys[k] = struct{}{}
			}
		}
	}
	return inst, nil
}

// Chain is a validated, flattened, dispatch-ready filter chain.
type Chain struct {
	instances []*instance

	// dispatch tables are indexed by API key for O(1) lookup on the
	// hot path.
	requestDispatch  [kafkaproto.MaxAPIKey][]*instance
	responseDispatch [kafkaproto.MaxAPIKey][]*instance
}

// NewChain flattens composites and validates every filter's capability
// mix before building the dispatch tables. A filter with an invalid
// capability mix is rejected at construction, never at request time.
func NewChain(filters []Filter) (*Chain, error) {
	flat, err := flatten(filters, 0)
	if err != nil {
		return nil, err
	}

	c := &Chain{}
	for _, f := range flat {
		inst, err := classify(f)
		if err != nil {
			return nil, err
		}
		c.instances = append(c.instances, inst)
		if inst.generic != nil {
			if _, ok := inst.generic.(RequestFilter); ok {
				for key := int16(0); key < kafkaproto.MaxAPIKey; key++ {
					c.requestDispatch[key] = append(c.requestDispatch[key], inst)
				}
			}
			if _, ok := inst.generic.(ResponseFilter); ok {
				for key := int16(0); key < kafkaproto.MaxAPIKey; key++ {
					c.responseDispatch[key] = append(c.responseDispatch[key], inst)
				}
			}
		}
		if inst.specific != nil {
			for key := range inst.requestKeys {
				if key >= 0 && key < kafkaproto.MaxAPIKey {
					c.requestDispatch[key] = append(c.requestDispatch[key], inst)
				}
			}
			for key := range inst.responseKeys {
				if key >= 0 && key < kafkaproto.MaxAPIKey {
					c.responseDispatch[key] = append(c.responseDispatch[key], inst)
				}
			}
		}
	}
	return c, nil
}

func flatten(filters []Filter, depth int) ([]Filter, error) {
	if depth > maxCompositeDepth {
		return nil, fmt.Errorf("%w: composite nesting exceeds depth %d", ErrInvalidCapabilityMix, maxCompositeDepth)
	}
	var out []Filter
	for _, f := range filters {
		if comp, ok := f.(Composite); ok {
			if hasFilterCapability(f) {
				return nil, fmt.Errorf("%w: %T is a Composite and also implements a request/response filter interface", ErrInvalidCapabilityMix, f)
			}
			sub, err := flatten(comp.SubFilters(), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// hasFilterCapability reports whether f implements any generic or
// per-API-key-specific filter interface. Used to reject a Composite
// that also tries to act as a filter in its own right.
func hasFilterCapability(f Filter) bool {
	_, isReq := f.(RequestFilter)
	_, isResp := f.(ResponseFilter)
	_, isSpecReq := f.(SpecificRequestFilter)
	_, isSpecResp := f.(SpecificResponseFilter)
	return isReq || isResp || isSpecReq || isSpecResp
}

// SubscribesRequest answers the frame codec's decode predicate:
// whether any filter in the chain wants to see requests for apiKey. A
// key nobody subscribes to stays an opaque byte slice end to end.
func (c *Chain) SubscribesRequest(apiKey int16) bool {
	return apiKey >= 0 && apiKey < kafkaproto.MaxAPIKey && len(c.requestDispatch[apiKey]) > 0
}

// SubscribesResponse is the response-side decode predicate.
func (c *Chain) SubscribesResponse(apiKey int16) bool {
	return apiKey >= 0 && apiKey < kafkaproto.MaxAPIKey && len(c.responseDispatch[apiKey]) > 0
}

// HandleRequest invokes every filter subscribed to f.APIKey in chain
// order, applying the safe invoker and stopping early on ShortCircuit
// or Fail.
func (c *Chain) HandleRequest(ctx context.Context, f *Frame) Result {
	for _, inst := range c.requestDispatch[f.APIKey] {
		completion := invokeRequest(ctx, inst, f)
		result := <-completion
		switch result.Action {
		case ActionForward:
			f = result.Frame
		case ActionShortCircuit:
			return result
		case ActionFail:
			return annotateFailure(inst, result)
		}
	}
	return Result{Action: ActionForward, Frame: f}
}

// HandleResponse is the response-side analogue. Responses traverse the
// chain in reverse: the filter closest to the upstream sees the
// response first, mirroring how the request passed it last.
func (c *Chain) HandleResponse(ctx context.Context, f *Frame) Result {
	dispatch := c.responseDispatch[f.APIKey]
	for i := len(dispatch) - 1; i >= 0; i-- {
		inst := dispatch[i]
		completion := invokeResponse(ctx, inst, f)
		result := <-completion
		switch result.Action {
		case ActionForward:
			f = result.Frame
		case ActionShortCircuit:
			return result
		case ActionFail:
			return annotateFailure(inst, result)
		}
	}
	return Result{Action: ActionForward, Frame: f}
}

// annotateFailure tags a filter's failure with the instance id that
// produced it, so a chain of several filters of the same Go type can
// still be told apart in logs.
func annotateFailure(inst *instance, result Result) Result {
	if result.Err != nil {
		result.Err = fmt.Errorf("filter instance %s: %w", inst.id, result.Err)
	}
	return result
}

// invokeRequest is the "safe invoker": it calls the one capability the
// instance actually has and returns an immediate forward for anything
// it doesn't, so the driver never special-cases an absent capability.
func invokeRequest(ctx context.Context, inst *instance, f *Frame) Completion {
	if inst.generic != nil {
		if rf, ok := inst.generic.(RequestFilter); ok {
			return rf.OnRequest(ctx, f)
		}
	}
	if inst.specific != nil {
		if _, subscribed := inst.requestKeys[f.APIKey]; subscribed {
			if rf, ok := inst.specific.(SpecificRequestFilter); ok {
				return rf.OnRequestForKey(ctx, f)
			}
		}
	}
	return immediate(Result{Action: ActionForward, Frame: f})
}

func invokeResponse(ctx context.Context, inst *instance, f *Frame) Completion {
	if inst.generic != nil {
		if rf, ok := inst.generic.(ResponseFilter); ok {
			return rf.OnResponse(ctx, f)
		}
	}
	if inst.specific != nil {
		if _, subscribed := inst.responseKeys[f.APIKey]; subscribed {
			if rf, ok := inst.specific.(SpecificResponseFilter); ok {
				return rf.OnResponseForKey(ctx, f)
			}
		}
	}
	return immediate(Result{Action: ActionForward, Frame: f})
}
