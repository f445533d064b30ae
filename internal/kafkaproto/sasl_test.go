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

func saslHandshakeFrame(correlationID int32, mechanism string) []byte {
	w := newByteWriter(32)
	w.Int16(APIKeySaslHandshake)
	w.Int16(1)
	w.Int32(correlationID)
	w.NullableString(nil)
	w.String(mechanism)
	return w.Bytes()
}

func TestParseSaslHandshakeRequest(t *testing.T) {
	header, req, err := ParseSaslHandshakeRequest(saslHandshakeFrame(3, "PLAIN"))
	if err != nil {
		t.Fatalf("ParseSaslHandshakeRequest: %v", err)
	}
	if header.CorrelationID != 3 {
		t.Fatalf("expected correlation id 3, got %d", header.CorrelationID)
	}
	if req.Mechanism != "PLAIN" {
		t.Fatalf("expected mechanism PLAIN, got %q", req.Mechanism)
	}
}

func TestParseSaslHandshakeRejectsWrongAPIKey(t *testing.T) {
	w := newByteWriter(16)
	w.Int16(APIKeyProduce)
	w.Int16(0)
	w.Int32(1)
	w.NullableString(nil)
	if _, _, err := ParseSaslHandshakeRequest(w.Bytes()); err == nil {
		t.Fatal("expected an error for a non-handshake api key")
	}
}

func TestSaslAuthenticateRoundTrip(t *testing.T) {
	auth := []byte("\x00user\x00pass")
	for _, version := range []int16{0, 1, 2} {
		w := newByteWriter(64)
		w.Int16(APIKeySaslAuthenticate)
		w.Int16(version)
		w.Int32(9)
		w.NullableString(nil)
		if version >= 2 {
			w.WriteTaggedFields(0)
			w.CompactBytes(auth)
		} else {
			w.BytesWithLength(auth)
		}

		header, req, err := ParseSaslAuthenticateRequest(w.Bytes())
		if err != nil {
			t.Fatalf("v%d: ParseSaslAuthenticateRequest: %v", version, err)
		}
		if header.APIVersion != version || header.CorrelationID != 9 {
			t.Fatalf("v%d: bad header %+v", version, header)
		}
		if !bytes.Equal(req.AuthBytes, auth) {
			t.Fatalf("v%d: auth bytes mismatch: %q", version, req.AuthBytes)
		}
	}
}

func TestEncodeSaslHandshakeResponseLayout(t *testing.T) {
	b := EncodeSaslHandshakeResponse(4, NONE, []string{"PLAIN"})
	r := newByteReader(b)
	corr, _ := r.Int32()
	code, _ := r.Int16()
	count, _ := r.Int32()
	mech, _ := r.String()
	if corr != 4 || code != NONE || count != 1 || mech != "PLAIN" {
		t.Fatalf("unexpected handshake response: corr=%d code=%d count=%d mech=%q", corr, code, count, mech)
	}
}

func TestEncodeSaslAuthenticateResponseClassic(t *testing.T) {
	msg := "denied"
	b := EncodeSaslAuthenticateResponse(6, SASL_AUTHENTICATION_FAILED, &msg, nil, 1)
	r := newByteReader(b)
	corr, _ := r.Int32()
	code, _ := r.Int16()
	errMsg, _ := r.NullableString()
	authBytes, _ := r.Bytes()
	lifetime, _ := r.Int64()
	if corr != 6 || code != SASL_AUTHENTICATION_FAILED {
		t.Fatalf("unexpected header: corr=%d code=%d", corr, code)
	}
	if errMsg == nil || *errMsg != "denied" {
		t.Fatalf("expected error message, got %v", errMsg)
	}
	if len(authBytes) != 0 || lifetime != 0 {
		t.Fatalf("unexpected trailing fields: %q %d", authBytes, lifetime)
	}
}
