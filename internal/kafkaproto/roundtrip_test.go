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

package kafkaproto

import (
	"bytes"
	"testing"
)

func TestProduceRequestRoundTripsClassic(t *testing.T) {
	h := &RequestHeader{APIKey: APIKeyProduce, APIVersion: 7, CorrelationID: 9}
	req := &ProduceRequest{
		Acks:      -1,
		TimeoutMs: 1000,
		Topics: []ProduceTopic{
			{Name: "orders", Partitions: []ProducePartition{{Partition: 0, Records: []byte("batch-bytes")}}},
		},
	}
	encoded, err := EncodeProduceRequest(h, req)
	if err != nil {
		t.Fatalf("EncodeProduceRequest: %v", err)
	}

	gotHeader, gotReq, err := ParseRequest(encoded)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if gotHeader.CorrelationID != 9 || gotHeader.APIVersion != 7 {
		t.Fatalf("unexpected header: %+v", gotHeader)
	}
	produce, ok := gotReq.(*ProduceRequest)
	if !ok {
		t.Fatalf("expected *ProduceRequest, got %T", gotReq)
	}
	if !bytes.Equal(produce.Topics[0].Partitions[0].Records, []byte("batch-bytes")) {
		t.Fatalf("records mismatch: %q", produce.Topics[0].Partitions[0].Records)
	}
}

func TestProduceRequestRoundTripsFlexible(t *testing.T) {
	h := &RequestHeader{APIKey: APIKeyProduce, APIVersion: 9, CorrelationID: 3}
	req := &ProduceRequest{
		Acks:      1,
		TimeoutMs: 500,
		Topics: []ProduceTopic{
			{Name: "t1", Partitions: []ProducePartition{{Partition: 2, Records: []byte("rb")}}},
		},
	}
	encoded, err := EncodeProduceRequest(h, req)
	if err != nil {
		t.Fatalf("EncodeProduceRequest: %v", err)
	}
	gotHeader, gotReq, err := ParseRequest(encoded)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if gotHeader.APIVersion != 9 {
		t.Fatalf("unexpected header: %+v", gotHeader)
	}
	produce := gotReq.(*ProduceRequest)
	if produce.Topics[0].Name != "t1" || !bytes.Equal(produce.Topics[0].Partitions[0].Records, []byte("rb")) {
		t.Fatalf("unexpected roundtrip: %+v", produce)
	}
}

func TestParseFetchResponseClassic(t *testing.T) {
	resp := &FetchResponse{
		CorrelationID: 55,
		ThrottleMs:    0,
		Topics: []FetchTopicResponse{
			{Name: "orders", Partitions: []FetchPartitionResponse{
				{Partition: 0, HighWatermark: 100, RecordSet: []byte("records")},
			}},
		},
	}
	encoded, err := EncodeFetchResponse(resp, 5)
	if err != nil {
		t.Fatalf("EncodeFetchResponse: %v", err)
	}
	got, err := ParseFetchResponse(encoded, 5)
	if err != nil {
		t.Fatalf("ParseFetchResponse: %v", err)
	}
	if got.CorrelationID != 55 || got.Topics[0].Name != "orders" {
		t.Fatalf("unexpected decoded response: %+v", got)
	}
	if !bytes.Equal(got.Topics[0].Partitions[0].RecordSet, []byte("records")) {
		t.Fatalf("record set mismatch: %q", got.Topics[0].Partitions[0].RecordSet)
	}
}

func TestParseFetchResponseFlexible(t *testing.T) {
	resp := &FetchResponse{
		CorrelationID: 12,
		ErrorCode:     0,
		SessionID:     7,
		Topics: []FetchTopicResponse{
			{TopicID: [16]byte{1, 2, 3}, Partitions: []FetchPartitionResponse{
				{Partition: 1, HighWatermark: 10, RecordSet: []byte("fb")},
			}},
		},
	}
	encoded, err := EncodeFetchResponse(resp, 12)
	if err != nil {
		t.Fatalf("EncodeFetchResponse: %v", err)
	}
	got, err := ParseFetchResponse(encoded, 12)
	if err != nil {
		t.Fatalf("ParseFetchResponse: %v", err)
	}
	if got.SessionID != 7 || got.Topics[0].TopicID != [16]byte{1, 2, 3} {
		t.Fatalf("unexpected decoded flexible response: %+v", got)
	}
	if !bytes.Equal(got.Topics[0].Partitions[0].RecordSet, []byte("fb")) {
		t.Fatalf("record set mismatch: %q", got.Topics[0].Partitions[0].RecordSet)
	}
}
