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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame's payload. The length prefix arrives
// from an untrusted peer; without this bound a single 4-byte prefix
// could demand a multi-gigabyte allocation before any validation runs.
// Oversized frames are a framing error and tear the connection down.
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge wraps the framing error for frames whose declared
// length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("kafkaproto: frame exceeds max size")

// Frame is one size-prefixed Kafka request or response payload, header
// bytes onward.
type Frame struct {
	Payload []byte
}

// ReadFrame reads a single size-prefixed frame from r, rejecting
// negative or oversized length prefixes before allocating the payload.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame size: %w", err)
	}
	length := int32(binary.BigEndian.Uint32(lengthBuf[:]))
	if length < 0 {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return &Frame{Payload: payload}, nil
}

// WriteFrame writes payload prefixed with its length to w. Payloads
// beyond MaxFrameSize are refused; nothing this proxy produces should
// ever reach that size, and a peer must never be sent a frame it would
// itself reject.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write frame size: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
