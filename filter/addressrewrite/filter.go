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

// Package addressrewrite rewrites broker addresses the upstream
// advertises in Metadata and FindCoordinator responses so clients keep
// connecting through the proxy instead of dialing brokers directly.
package addressrewrite

import (
	"context"
	"fmt"

	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
	"github.com/kroxylicious/kroxylicious-go/internal/vcluster"
)

// Filter replaces every advertised broker address with the virtual
// cluster's configured advertisement for that node, falling back to the
// cluster's default when no per-node rule matches.
type Filter struct {
	byNode          map[int32]vcluster.BrokerAddressRule
	defaultHost     string
	defaultPort     int32
	haveDefaultRule bool
}

var _ filter.SpecificResponseFilter = (*Filter)(nil)

// New builds the filter from a virtual cluster's advertisement rules.
// A rule with NodeID < 0 acts as the default for unlisted nodes.
func New(rules []vcluster.BrokerAddressRule) *Filter {
	f := &Filter{byNode: make(map[int32]vcluster.BrokerAddressRule, len(rules))}
	for _, r := range rules {
		if r.NodeID < 0 {
			f.defaultHost = r.AdvertisedHost
			f.defaultPort = r.AdvertisedPort
			f.haveDefaultRule = true
			continue
		}
		f.byNode[r.NodeID] = r
	}
	return f
}

func (f *Filter) ResponseAPIKeys() []int16 {
	return []int16{kafkaproto.APIKeyMetadata, kafkaproto.APIKeyFindCoordinator}
}

func (f *Filter) OnResponseForKey(ctx context.Context, frm *filter.Frame) filter.Completion {
	result := make(filter.Completion, 1)
	switch frm.APIKey {
	case kafkaproto.APIKeyMetadata:
		result <- f.rewriteMetadata(frm)
	case kafkaproto.APIKeyFindCoordinator:
		result <- f.rewriteFindCoordinator(frm)
	default:
		result <- filter.Result{Action: filter.ActionForward, Frame: frm}
	}
	return result
}

func (f *Filter) rewriteMetadata(frm *filter.Frame) filter.Result {
	resp, err := kafkaproto.ParseMetadataResponse(frm.Raw, frm.APIVersion)
	if err != nil {
		return filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("addressrewrite: parse metadata response: %w", err)}
	}
	for i, broker := range resp.Brokers {
		host, port, ok := f.advertisedFor(broker.NodeID)
		if !ok {
			continue
		}
		resp.Brokers[i].Host = host
		resp.Brokers[i].Port = port
	}
	encoded, err := kafkaproto.EncodeMetadataResponse(resp, frm.APIVersion)
	if err != nil {
		return filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("addressrewrite: re-encode metadata response: %w", err)}
	}
	return forward(frm, encoded)
}

func (f *Filter) rewriteFindCoordinator(frm *filter.Frame) filter.Result {
	resp, err := kafkaproto.ParseFindCoordinatorResponse(frm.Raw, frm.APIVersion)
	if err != nil {
		return filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("addressrewrite: parse find coordinator response: %w", err)}
	}
	if host, port, ok := f.advertisedFor(resp.NodeID); ok {
		resp.Host = host
		resp.Port = port
	}
	encoded, err := kafkaproto.EncodeFindCoordinatorResponse(resp, frm.APIVersion)
	if err != nil {
		return filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("addressrewrite: re-encode find coordinator response: %w", err)}
	}
	return forward(frm, encoded)
}

func (f *Filter) advertisedFor(nodeID int32) (string, int32, bool) {
	if r, ok := f.byNode[nodeID]; ok {
		return r.AdvertisedHost, r.AdvertisedPort, true
	}
	if f.haveDefaultRule {
		return f.defaultHost, f.defaultPort, true
	}
	return "", 0, false
}

func forward(frm *filter.Frame, encoded []byte) filter.Result {
	return filter.Result{Action: filter.ActionForward, Frame: &filter.Frame{
		APIKey: frm.APIKey, APIVersion: frm.APIVersion, CorrelationID: frm.CorrelationID, Raw: encoded,
	}}
}
