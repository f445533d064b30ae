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

import (
	"errors"
	"testing"

	"github.com/kroxylicious/kroxylicious-go/internal/encryption"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

func TestMapErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want int16
	}{
		{encryption.ErrRequestNotSatisfiable, kafkaproto.KAFKA_STORAGE_ERROR},
		{ErrBackendClosed, kafkaproto.REQUEST_TIMED_OUT},
		{errors.New("anything else"), kafkaproto.UNKNOWN_SERVER_ERROR},
	}
	for _, tc := range cases {
		if got := mapErrorCode(tc.err); got != tc.want {
			t.Fatalf("mapErrorCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func produceRequestPayload(t *testing.T, acks int16) []byte {
	t.Helper()
	header := &kafkaproto.RequestHeader{APIKey: kafkaproto.APIKeyProduce, APIVersion: 7, CorrelationID: 42}
	req := &kafkaproto.ProduceRequest{
		Acks:      acks,
		TimeoutMs: 1000,
		Topics: []kafkaproto.ProduceTopic{
			{Name: "orders", Partitions: []kafkaproto.ProducePartition{{Partition: 1, Records: []byte{}}}},
		},
	}
	raw, err := kafkaproto.EncodeProduceRequest(header, req)
	if err != nil {
		t.Fatalf("EncodeProduceRequest: %v", err)
	}
	return raw
}

func TestBuildErrorResponseProduce(t *testing.T) {
	resp, ok := buildErrorResponse(produceRequestPayload(t, -1), kafkaproto.KAFKA_STORAGE_ERROR)
	if !ok {
		t.Fatal("expected a synthesizable produce error response")
	}
	// layout v7: corr(4) topicCount(4) name(str) partCount(4) partition(4) errorCode(2)
	r := resp
	if len(r) < 4 {
		t.Fatal("response too short")
	}
	corr := int32(uint32(r[0])<<24 | uint32(r[1])<<16 | uint32(r[2])<<8 | uint32(r[3]))
	if corr != 42 {
		t.Fatalf("expected correlation id 42, got %d", corr)
	}
	// skip corr(4) topicCount(4) nameLen(2)+{"orders"}(6) partCount(4) partition(4)
	off := 4 + 4 + 2 + 6 + 4 + 4
	code := int16(uint16(r[off])<<8 | uint16(r[off+1]))
	if code != kafkaproto.KAFKA_STORAGE_ERROR {
		t.Fatalf("expected KAFKA_STORAGE_ERROR in partition, got %d", code)
	}
}

func TestBuildErrorResponseProduceAcksZeroExpectsNoResponse(t *testing.T) {
	if _, ok := buildErrorResponse(produceRequestPayload(t, 0), kafkaproto.REQUEST_TIMED_OUT); ok {
		t.Fatal("acks=0 produce requests must not get a synthesized response")
	}
}

func TestBuildErrorResponseUnparseablePayload(t *testing.T) {
	if _, ok := buildErrorResponse([]byte{0, 1}, kafkaproto.REQUEST_TIMED_OUT); ok {
		t.Fatal("expected ok=false for a payload that cannot be parsed")
	}
}

func TestBuildErrorResponseUnsupportedAPIKey(t *testing.T) {
	// a JoinGroup request is relayed opaquely and has no synthesized
	// error shape; the caller falls back to closing the connection
	payload := rawRequest(kafkaproto.APIKeyJoinGroup, 0, 1)
	if _, ok := buildErrorResponse(payload, kafkaproto.REQUEST_TIMED_OUT); ok {
		t.Fatal("expected ok=false for an API without structural decode")
	}
}
