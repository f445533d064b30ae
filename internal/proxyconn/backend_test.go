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
	"encoding/binary"
	"net"
	"testing"

	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

// echoUpstream stands in for a real Kafka broker that mirrors whatever
// correlation id it was sent: each response is the request with its
// api key and version dropped, so it starts with the correlation id.
func echoUpstream(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		for {
			frame, err := kafkaproto.ReadFrame(conn)
			if err != nil || len(frame.Payload) < 8 {
				return
			}
			if err := kafkaproto.WriteFrame(conn, frame.Payload[4:]); err != nil {
				return
			}
		}
	}()
}

func TestBackendConnRewritesAndRestoresCorrelationID(t *testing.T) {
	upstreamSide, backendSide := net.Pipe()
	defer upstreamSide.Close()
	echoUpstream(t, upstreamSide)

	backend := NewBackendConn(backendSide, nil)
	defer backend.Close()

	header := &kafkaproto.RequestHeader{APIKey: kafkaproto.APIKeyProduce, APIVersion: 0, CorrelationID: 4242}
	payload := rawRequest(kafkaproto.APIKeyProduce, 0, 4242)

	done, err := backend.Send(header, payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	result := <-done
	if result.err != nil {
		t.Fatalf("unexpected error: %v", result.err)
	}
	got := int32(binary.BigEndian.Uint32(result.payload[0:4]))
	if got != 4242 {
		t.Fatalf("expected original correlation id 4242 restored, got %d", got)
	}
}

func TestBackendConnFailsPendingOnClose(t *testing.T) {
	upstreamSide, backendSide := net.Pipe()
	// net.Pipe is unbuffered: Send's write completes only once the
	// upstream side reads it
	go func() { _, _ = kafkaproto.ReadFrame(upstreamSide) }()

	backend := NewBackendConn(backendSide, nil)
	header := &kafkaproto.RequestHeader{APIKey: kafkaproto.APIKeyProduce, CorrelationID: 1}
	payload := rawRequest(kafkaproto.APIKeyProduce, 0, 1)

	done, err := backend.Send(header, payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	upstreamSide.Close()
	backend.Close()

	result := <-done
	if result.err == nil {
		t.Fatal("expected pending request to fail once the backend connection closes")
	}
}
