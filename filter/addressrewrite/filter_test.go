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

package addressrewrite

import (
	"context"
	"testing"

	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
	"github.com/kroxylicious/kroxylicious-go/internal/vcluster"
)

func metadataFrame(t *testing.T, version int16) *filter.Frame {
	t.Helper()
	rack := "r1"
	resp := &kafkaproto.MetadataResponse{
		CorrelationID: 5,
		Brokers: []kafkaproto.MetadataBroker{
			{NodeID: 0, Host: "broker-0.internal", Port: 9092, Rack: &rack},
			{NodeID: 1, Host: "broker-1.internal", Port: 9092},
		},
		ControllerID: 0,
		Topics: []kafkaproto.MetadataTopic{
			{Name: "orders", Partitions: []kafkaproto.MetadataPartition{
				{PartitionIndex: 0, LeaderID: 1, ReplicaNodes: []int32{0, 1}, ISRNodes: []int32{1}},
			}},
		},
	}
	raw, err := kafkaproto.EncodeMetadataResponse(resp, version)
	if err != nil {
		t.Fatalf("EncodeMetadataResponse: %v", err)
	}
	return &filter.Frame{APIKey: kafkaproto.APIKeyMetadata, APIVersion: version, CorrelationID: 5, Raw: raw}
}

func TestRewritesBrokerAddressesPerNodeRule(t *testing.T) {
	f := New([]vcluster.BrokerAddressRule{
		{NodeID: 0, AdvertisedHost: "proxy.example.com", AdvertisedPort: 30000},
		{NodeID: 1, AdvertisedHost: "proxy.example.com", AdvertisedPort: 30001},
	})

	for _, version := range []int16{1, 9, 12} {
		result := <-f.OnResponseForKey(context.Background(), metadataFrame(t, version))
		if result.Action != filter.ActionForward {
			t.Fatalf("v%d: expected forward, got %v (%v)", version, result.Action, result.Err)
		}
		decoded, err := kafkaproto.ParseMetadataResponse(result.Frame.Raw, version)
		if err != nil {
			t.Fatalf("v%d: ParseMetadataResponse: %v", version, err)
		}
		for _, b := range decoded.Brokers {
			if b.Host != "proxy.example.com" {
				t.Fatalf("v%d: broker %d host not rewritten: %q", version, b.NodeID, b.Host)
			}
		}
		if decoded.Brokers[0].Port != 30000 || decoded.Brokers[1].Port != 30001 {
			t.Fatalf("v%d: ports not rewritten per node: %d/%d", version, decoded.Brokers[0].Port, decoded.Brokers[1].Port)
		}
		if decoded.Brokers[0].Rack == nil || *decoded.Brokers[0].Rack != "r1" {
			t.Fatalf("v%d: rack must survive the rewrite", version)
		}
		if len(decoded.Topics) != 1 || decoded.Topics[0].Partitions[0].LeaderID != 1 {
			t.Fatalf("v%d: topic metadata must pass through untouched", version)
		}
	}
}

func TestDefaultRuleAppliesToUnlistedNodes(t *testing.T) {
	f := New([]vcluster.BrokerAddressRule{
		{NodeID: -1, AdvertisedHost: "proxy.example.com", AdvertisedPort: 30000},
	})
	result := <-f.OnResponseForKey(context.Background(), metadataFrame(t, 9))
	decoded, err := kafkaproto.ParseMetadataResponse(result.Frame.Raw, 9)
	if err != nil {
		t.Fatalf("ParseMetadataResponse: %v", err)
	}
	for _, b := range decoded.Brokers {
		if b.Host != "proxy.example.com" || b.Port != 30000 {
			t.Fatalf("broker %d not covered by default rule: %s:%d", b.NodeID, b.Host, b.Port)
		}
	}
}

func TestNoMatchingRuleLeavesBrokerUntouched(t *testing.T) {
	f := New([]vcluster.BrokerAddressRule{
		{NodeID: 0, AdvertisedHost: "proxy.example.com", AdvertisedPort: 30000},
	})
	result := <-f.OnResponseForKey(context.Background(), metadataFrame(t, 1))
	decoded, err := kafkaproto.ParseMetadataResponse(result.Frame.Raw, 1)
	if err != nil {
		t.Fatalf("ParseMetadataResponse: %v", err)
	}
	if decoded.Brokers[1].Host != "broker-1.internal" {
		t.Fatalf("unlisted node must keep its upstream address, got %q", decoded.Brokers[1].Host)
	}
}

func TestRewritesFindCoordinator(t *testing.T) {
	f := New([]vcluster.BrokerAddressRule{
		{NodeID: 2, AdvertisedHost: "proxy.example.com", AdvertisedPort: 30002},
	})
	raw, err := kafkaproto.EncodeFindCoordinatorResponse(&kafkaproto.FindCoordinatorResponse{
		CorrelationID: 9,
		NodeID:        2,
		Host:          "broker-2.internal",
		Port:          9092,
	}, 2)
	if err != nil {
		t.Fatalf("EncodeFindCoordinatorResponse: %v", err)
	}
	frm := &filter.Frame{APIKey: kafkaproto.APIKeyFindCoordinator, APIVersion: 2, CorrelationID: 9, Raw: raw}
	result := <-f.OnResponseForKey(context.Background(), frm)
	if result.Action != filter.ActionForward {
		t.Fatalf("expected forward, got %v (%v)", result.Action, result.Err)
	}
	decoded, err := kafkaproto.ParseFindCoordinatorResponse(result.Frame.Raw, 2)
	if err != nil {
		t.Fatalf("ParseFindCoordinatorResponse: %v", err)
	}
	if decoded.Host != "proxy.example.com" || decoded.Port != 30002 {
		t.Fatalf("coordinator address not rewritten: %s:%d", decoded.Host, decoded.Port)
	}
}
