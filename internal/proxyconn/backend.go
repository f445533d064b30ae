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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

// ErrBackendClosed is delivered to every in-flight request once the
// backend connection's read loop exits.
var ErrBackendClosed = errors.New("proxyconn: backend connection closed")

// frameResult is what a pending request resolves to.
type frameResult struct {
	payload []byte
	err     error
}

type pendingRequest struct {
	originalCorrelationID int32
	done                  chan frameResult
}

// BackendConn multiplexes many downstream requests (each carrying its
// own client-assigned correlation id) onto one upstream TCP connection,
// rewriting each request's correlation id to a proxy-local one so
// concurrent in-flight requests from possibly many downstream
// connections never collide.
type BackendConn struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int32
	pending map[int32]*pendingRequest
	closed  bool
}

// NewBackendConn wraps an already-dialed upstream connection and starts
// its response read loop.
func NewBackendConn(conn net.Conn, logger *slog.Logger) *BackendConn {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BackendConn{
		conn:    conn,
		logger:  logger,
		pending: make(map[int32]*pendingRequest),
	}
	go b.readLoop()
	return b
}

// Send rewrites header's correlation id to an internal one, writes the
// frame, and returns a channel that resolves with the response payload
// (correlation id rewritten back to the caller's original value).
func (b *BackendConn) Send(header *kafkaproto.RequestHeader, payload []byte) (<-chan frameResult, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBackendClosed
	}
	b.nextID++
	internalID := b.nextID
	req := &pendingRequest{originalCorrelationID: header.CorrelationID, done: make(chan frameResult, 1)}
	b.pending[internalID] = req
	b.mu.Unlock()

	// a request header is api key (2) | api version (2) | correlation id (4)
	rewritten := append([]byte(nil), payload...)
	if len(rewritten) >= 8 {
		binary.BigEndian.PutUint32(rewritten[4:8], uint32(internalID))
	}

	b.writeMu.Lock()
	err := kafkaproto.WriteFrame(b.conn, rewritten)
	b.writeMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, internalID)
		b.mu.Unlock()
		return nil, fmt.Errorf("proxyconn: write backend frame: %w", err)
	}
	return req.done, nil
}

func (b *BackendConn) readLoop() {
	defer b.failAllPending(ErrBackendClosed)
	for {
		frame, err := kafkaproto.ReadFrame(b.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.logger.Warn("backend read frame failed", "error", err)
			}
			return
		}
		if len(frame.Payload) < 4 {
			b.logger.Warn("backend response too short to carry a correlation id")
			continue
		}
		internalID := int32(binary.BigEndian.Uint32(frame.Payload[0:4]))

		b.mu.Lock()
		req, ok := b.pending[internalID]
		if ok {
			delete(b.pending, internalID)
		}
		b.mu.Unlock()
		if !ok {
			b.logger.Warn("backend response for unknown correlation id", "correlationId", internalID)
			continue
		}

		restored := append([]byte(nil), frame.Payload...)
		binary.BigEndian.PutUint32(restored[0:4], uint32(req.originalCorrelationID))
		req.done <- frameResult{payload: restored}
	}
}

func (b *BackendConn) failAllPending(err error) {
	b.mu.Lock()
	b.closed = true
	pending := b.pending
	b.pending = make(map[int32]*pendingRequest)
	b.mu.Unlock()

	for _, req := range pending {
		req.done <- frameResult{err: err}
	}
}

// Close closes the underlying connection; the read loop then fails any
// still-pending requests.
func (b *BackendConn) Close() error {
	return b.conn.Close()
}
