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

import "testing"

func TestEncodeApiVersionsResponseRoundTrips(t *testing.T) {
	resp := &ApiVersionsResponse{
		CorrelationID: 1,
		ErrorCode:     NONE,
		Versions: []ApiVersion{
			{APIKey: APIKeyProduce, MinVersion: 0, MaxVersion: 9},
		},
	}
	b, err := EncodeApiVersionsResponse(resp, 3)
	if err != nil {
		t.Fatalf("EncodeApiVersionsResponse: %v", err)
	}
	r := newByteReader(b)
	correlationID, err := r.Int32()
	if err != nil || correlationID != 1 {
		t.Fatalf("correlation id: %v %d", err, correlationID)
	}
	errCode, err := r.Int16()
	if err != nil || errCode != NONE {
		t.Fatalf("error code: %v %d", err, errCode)
	}
	count, err := r.CompactArrayLen()
	if err != nil || count != 1 {
		t.Fatalf("version count: %v %d", err, count)
	}
}

func TestEncodeFetchResponseClassicNullRecordSet(t *testing.T) {
	resp := &FetchResponse{
		CorrelationID: 9,
		Topics: []FetchTopicResponse{
			{
				Name: "orders",
				Partitions: []FetchPartitionResponse{
					{Partition: 0, ErrorCode: NONE, HighWatermark: 100, RecordSet: nil},
				},
			},
		},
	}
	b, err := EncodeFetchResponse(resp, 4)
	if err != nil {
		t.Fatalf("EncodeFetchResponse: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty bytes")
	}
}

func TestEncodeFetchResponseUnsupportedVersion(t *testing.T) {
	_, err := EncodeFetchResponse(&FetchResponse{}, 99)
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestEncodeResponseWrapsLengthPrefix(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	b, err := EncodeResponse(payload)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	r := newByteReader(b)
	length, err := r.Int32()
	if err != nil || length != int32(len(payload)) {
		t.Fatalf("length prefix: %v %d", err, length)
	}
}
