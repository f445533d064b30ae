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

import "fmt"

// SASL error codes.
const (
	SASL_AUTHENTICATION_FAILED int16 = 58
	UNSUPPORTED_SASL_MECHANISM int16 = 33
	ILLEGAL_SASL_STATE         int16 = 34
)

// SaslHandshakeRequest names the mechanism the client wants to
// authenticate with. The proxy terminates SASL itself when a listener
// requires it, so these frames never reach the upstream broker.
type SaslHandshakeRequest struct {
	Mechanism string
}

// SaslAuthenticateRequest carries one opaque round of the chosen
// mechanism's exchange (for PLAIN: authzid \x00 user \x00 password).
type SaslAuthenticateRequest struct {
	AuthBytes []byte
}

// ParseSaslHandshakeRequest decodes a full SaslHandshake frame payload
// (header included). SaslHandshake has no flexible versions.
func ParseSaslHandshakeRequest(b []byte) (*RequestHeader, *SaslHandshakeRequest, error) {
	header, reader, err := ParseRequestHeader(b)
	if err != nil {
		return nil, nil, err
	}
	if header.APIKey != APIKeySaslHandshake {
		return nil, nil, fmt.Errorf("api key %d is not SaslHandshake", header.APIKey)
	}
	mechanism, err := reader.String()
	if err != nil {
		return nil, nil, fmt.Errorf("read sasl mechanism: %w", err)
	}
	return header, &SaslHandshakeRequest{Mechanism: mechanism}, nil
}

// EncodeSaslHandshakeResponse renders error code plus the mechanisms
// the server is willing to negotiate.
func EncodeSaslHandshakeResponse(correlationID int32, errorCode int16, mechanisms []string) []byte {
	w := newByteWriter(64)
	w.Int32(correlationID)
	w.Int16(errorCode)
	w.Int32(int32(len(mechanisms)))
	for _, m := range mechanisms {
		w.String(m)
	}
	return w.Bytes()
}

// ParseSaslAuthenticateRequest decodes a full SaslAuthenticate frame
// payload (header included). Flexible from v2.
func ParseSaslAuthenticateRequest(b []byte) (*RequestHeader, *SaslAuthenticateRequest, error) {
	header, reader, err := ParseRequestHeader(b)
	if err != nil {
		return nil, nil, err
	}
	if header.APIKey != APIKeySaslAuthenticate {
		return nil, nil, fmt.Errorf("api key %d is not SaslAuthenticate", header.APIKey)
	}
	var auth []byte
	if isFlexibleRequest(header.APIKey, header.APIVersion) {
		auth, err = reader.CompactBytes()
	} else {
		auth, err = reader.Bytes()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read sasl auth bytes: %w", err)
	}
	return header, &SaslAuthenticateRequest{AuthBytes: auth}, nil
}

// EncodeSaslAuthenticateResponse renders one server round of the SASL
// exchange. version must match the request's.
func EncodeSaslAuthenticateResponse(correlationID int32, errorCode int16, errorMessage *string, authBytes []byte, version int16) []byte {
	flexible := version >= 2
	w := newByteWriter(64)
	w.Int32(correlationID)
	if flexible {
		w.WriteTaggedFields(0)
	}
	w.Int16(errorCode)
	if flexible {
		w.CompactNullableString(errorMessage)
		w.CompactBytes(authBytes)
	} else {
		w.NullableString(errorMessage)
		if authBytes == nil {
			authBytes = []byte{}
		}
		w.BytesWithLength(authBytes)
	}
	if version >= 1 {
		w.Int64(0) // session lifetime: no proxy-imposed reauth deadline
	}
	if flexible {
		w.WriteTaggedFields(0)
	}
	return w.Bytes()
}
