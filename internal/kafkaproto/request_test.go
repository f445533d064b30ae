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

func header(apiKey, version int16, correlationID int32) *byteWriter {
	w := newByteWriter(64)
	w.Int16(apiKey)
	w.Int16(version)
	w.Int32(correlationID)
	w.NullableString(nil)
	return w
}

func TestParseRequestHeaderClassic(t *testing.T) {
	w := header(APIKeyMetadata, 1, 42)
	w.Int32(-1) // topics array null

	h, reader, err := ParseRequestHeader(w.Bytes())
	if err != nil {
		t.Fatalf("ParseRequestHeader: %v", err)
	}
	if h.APIKey != APIKeyMetadata || h.APIVersion != 1 || h.CorrelationID != 42 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if reader.remaining() != 4 {
		t.Fatalf("expected reader positioned at body, remaining=%d", reader.remaining())
	}
}

func TestParseRequestProduceClassic(t *testing.T) {
	w := header(APIKeyProduce, 2, 7)
	w.Int16(1)         // acks
	w.Int32(1000)      // timeout
	w.Int32(1)         // topic count
	w.String("orders") // topic name
	w.Int32(1)         // partition count
	w.Int32(0)         // partition index
	w.BytesWithLength([]byte("recordset-bytes"))

	_, req, err := ParseRequest(w.Bytes())
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	produce, ok := req.(*ProduceRequest)
	if !ok {
		t.Fatalf("expected *ProduceRequest, got %T", req)
	}
	if produce.Acks != 1 || produce.TimeoutMs != 1000 {
		t.Fatalf("unexpected produce fields: %+v", produce)
	}
	if len(produce.Topics) != 1 || produce.Topics[0].Name != "orders" {
		t.Fatalf("unexpected topics: %+v", produce.Topics)
	}
	if string(produce.Topics[0].Partitions[0].Records) != "recordset-bytes" {
		t.Fatalf("unexpected records: %q", produce.Topics[0].Partitions[0].Records)
	}
}

func TestParseRequestUnsupportedAPIKey(t *testing.T) {
	w := header(APIKeyJoinGroup, 5, 1)
	_, _, err := ParseRequest(w.Bytes())
	if err == nil {
		t.Fatal("expected error for unsupported api key")
	}
}

func TestParseRequestFindCoordinator(t *testing.T) {
	w := header(APIKeyFindCoordinator, 2, 3)
	w.String("my-group")
	w.Int8(0)

	_, req, err := ParseRequest(w.Bytes())
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	fc, ok := req.(*FindCoordinatorRequest)
	if !ok {
		t.Fatalf("expected *FindCoordinatorRequest, got %T", req)
	}
	if fc.Key != "my-group" || fc.KeyType != 0 {
		t.Fatalf("unexpected coordinator request: %+v", fc)
	}
}
