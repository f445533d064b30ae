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
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"

	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

func TestPlainAuthenticatorAcceptsKnownUser(t *testing.T) {
	a := &PlainAuthenticator{Users: map[string]string{"alice": "s3cret"}}
	principal, err := a.Authenticate("PLAIN", []byte("\x00alice\x00s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal != "alice" {
		t.Fatalf("expected principal alice, got %q", principal)
	}
}

func TestPlainAuthenticatorRejects(t *testing.T) {
	a := &PlainAuthenticator{Users: map[string]string{"alice": "s3cret"}}
	cases := map[string][]byte{
		"wrong password": []byte("\x00alice\x00nope"),
		"unknown user":   []byte("\x00mallory\x00s3cret"),
		"malformed":      []byte("no separators here"),
	}
	for name, authBytes := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Authenticate("PLAIN", authBytes); !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
			}
		})
	}
	if _, err := a.Authenticate("SCRAM-SHA-256", []byte("\x00alice\x00s3cret")); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected mechanism rejection, got %v", err)
	}
}

func saslHandshakePayload(correlationID int32, mechanism string) []byte {
	buf := make([]byte, 0, 32)
	buf = binary.BigEndian.AppendUint16(buf, uint16(kafkaproto.APIKeySaslHandshake))
	buf = binary.BigEndian.AppendUint16(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(correlationID))
	buf = binary.BigEndian.AppendUint16(buf, 0xFFFF) // null client id
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(mechanism)))
	buf = append(buf, mechanism...)
	return buf
}

func saslAuthenticatePayload(correlationID int32, auth []byte) []byte {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint16(buf, uint16(kafkaproto.APIKeySaslAuthenticate))
	buf = binary.BigEndian.AppendUint16(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(correlationID))
	buf = binary.BigEndian.AppendUint16(buf, 0xFFFF)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(auth)))
	buf = append(buf, auth...)
	return buf
}

func TestSaslGateAuthenticatesThenRelays(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	chain, err := filter.NewChain(nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	backend := &fakeBackend{}
	front := NewFrontendConn(serverConn, chain, backend, DefaultWatermarks(), nil)
	front.Auth = &PlainAuthenticator{Users: map[string]string{"alice": "s3cret"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go front.Serve(ctx)

	if err := kafkaproto.WriteFrame(clientConn, saslHandshakePayload(1, "PLAIN")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	hsResp, err := kafkaproto.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if code := int16(binary.BigEndian.Uint16(hsResp.Payload[4:6])); code != kafkaproto.NONE {
		t.Fatalf("expected handshake success, got code %d", code)
	}

	if err := kafkaproto.WriteFrame(clientConn, saslAuthenticatePayload(2, []byte("\x00alice\x00s3cret"))); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	authResp, err := kafkaproto.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read authenticate response: %v", err)
	}
	if code := int16(binary.BigEndian.Uint16(authResp.Payload[4:6])); code != kafkaproto.NONE {
		t.Fatalf("expected authenticate success, got code %d", code)
	}

	// post-auth traffic relays normally through the backend
	if err := kafkaproto.WriteFrame(clientConn, rawRequest(kafkaproto.APIKeyProduce, 0, 3)); err != nil {
		t.Fatalf("write produce: %v", err)
	}
	resp, err := kafkaproto.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read relayed response: %v", err)
	}
	if corr := int32(binary.BigEndian.Uint32(resp.Payload[4:8])); corr != 3 {
		t.Fatalf("expected relayed correlation id 3, got %d", corr)
	}
}

func TestSaslGateClosesOnBadCredentials(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	chain, err := filter.NewChain(nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	front := NewFrontendConn(serverConn, chain, &fakeBackend{}, DefaultWatermarks(), nil)
	front.Auth = &PlainAuthenticator{Users: map[string]string{"alice": "s3cret"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- front.Serve(ctx) }()

	if err := kafkaproto.WriteFrame(clientConn, saslHandshakePayload(1, "PLAIN")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	if _, err := kafkaproto.ReadFrame(clientConn); err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if err := kafkaproto.WriteFrame(clientConn, saslAuthenticatePayload(2, []byte("\x00alice\x00wrong"))); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	authResp, err := kafkaproto.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read authenticate response: %v", err)
	}
	if code := int16(binary.BigEndian.Uint16(authResp.Payload[4:6])); code != kafkaproto.SASL_AUTHENTICATION_FAILED {
		t.Fatalf("expected SASL_AUTHENTICATION_FAILED, got %d", code)
	}
	if err := <-serveDone; !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected Serve to exit with ErrAuthenticationFailed, got %v", err)
	}
}
