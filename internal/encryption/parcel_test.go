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

package encryption

import (
	"bytes"
	"testing"

	"github.com/kroxylicious/kroxylicious-go/internal/kafkarecord"
)

func TestParcelRoundTripValueAndHeaders(t *testing.T) {
	p := Parcel{
		Version: ParcelVersion1,
		Fields:  RecordFieldValue | RecordFieldHeaderValues,
		Value:   []byte("payload"),
		Headers: []kafkarecord.RecordHeader{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}},
	}
	encoded, err := writeParcel(p)
	if err != nil {
		t.Fatalf("writeParcel: %v", err)
	}
	decoded, err := readParcel(encoded)
	if err != nil {
		t.Fatalf("readParcel: %v", err)
	}
	if !bytes.Equal(decoded.Value, p.Value) {
		t.Fatalf("value mismatch: %q", decoded.Value)
	}
	if len(decoded.Headers) != 2 || decoded.Headers[1].Key != "b" {
		t.Fatalf("headers mismatch: %+v", decoded.Headers)
	}
}

func TestParcelRejectsUnknownVersion(t *testing.T) {
	encoded, _ := writeParcel(Parcel{Version: ParcelVersion1, Fields: RecordFieldValue, Value: []byte("x")})
	encoded[0] = 9
	_, err := readParcel(encoded)
	if err == nil {
		t.Fatal("expected error for unknown parcel version")
	}
}
