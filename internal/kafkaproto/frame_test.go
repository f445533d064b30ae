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
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameReadWrite(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	var buf bytes.Buffer

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: %v vs %v", frame.Payload, payload)
	}
}

func TestReadFrameRejectsNegativeLength(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 0xFFFFFFFF)
	if _, err := ReadFrame(bytes.NewReader(prefix[:])); err == nil {
		t.Fatal("expected an error for a negative length prefix")
	}
}

func TestReadFrameRejectsOversizedLengthBeforeAllocating(t *testing.T) {
	// ReadFrame must refuse on the 4-byte prefix alone, never
	// attempting the allocation it advertises
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(MaxFrameSize+1))
	_, err := ReadFrame(bytes.NewReader(prefix[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	// a huge zero-filled payload is cheap to make but must be refused
	payload := make([]byte, MaxFrameSize+1)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should have been written, got %d bytes", buf.Len())
	}
}
