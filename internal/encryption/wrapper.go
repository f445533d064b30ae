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
	"encoding/binary"
	"fmt"
)

// AAD codes; V1 only ever emits AADNone, but the code space is
// reserved for future AAD wiring.
const (
	AADNone byte = 0
)

// Cipher codes.
const (
	CipherAESGCM96128 byte = 0
)

const gcmNonceSize = 12
const gcmTagSize = 16

// wrapper is the decoded in-band envelope stored in the transformed
// record's value.
type wrapper struct {
	edek             EDEK
	aadCode          byte
	cipherCode       byte
	iv               [gcmNonceSize]byte
	ciphertextAndTag []byte // GCM seal output: ciphertext followed by the tag
}

func writeWrapper(serde EdekSerde, w wrapper) []byte {
	prefix := appendWrapperPrefix(nil, serde, w.edek, w.aadCode, w.cipherCode, w.iv)
	return append(prefix, w.ciphertextAndTag...)
}

// appendWrapperPrefix writes everything but the ciphertext/tag onto dst
// (which may be a pool-borrowed scratch slice); the caller then passes
// the returned slice as the GCM Seal destination so the ciphertext and
// auth tag land directly after the prefix with no extra copy.
func appendWrapperPrefix(dst []byte, serde EdekSerde, edek EDEK, aadCode, cipherCode byte, iv [gcmNonceSize]byte) []byte {
	edekLen := serde.SizeOf(edek)
	var lenBuf bytes.Buffer
	writeUvarint(&lenBuf, uint64(edekLen))
	dst = append(dst, lenBuf.Bytes()...)

	edekBuf := make([]byte, edekLen)
	serde.Serialize(edek, edekBuf)
	dst = append(dst, edekBuf...)
	dst = append(dst, aadCode, cipherCode)
	dst = append(dst, iv[:]...)
	return dst
}

func readWrapper(serde EdekSerde, data []byte) (wrapper, error) {
	r := bytes.NewReader(data)
	edekLen, err := binary.ReadUvarint(r)
	if err != nil {
		return wrapper{}, fmt.Errorf("read edek length: %w", err)
	}
	edekBuf := make([]byte, edekLen)
	if _, err := r.Read(edekBuf); err != nil && edekLen > 0 {
		return wrapper{}, fmt.Errorf("read edek: %w", err)
	}
	edek, err := serde.Deserialize(edekBuf)
	if err != nil {
		return wrapper{}, fmt.Errorf("deserialize edek: %w", err)
	}
	aadCode, err := r.ReadByte()
	if err != nil {
		return wrapper{}, fmt.Errorf("read aad code: %w", err)
	}
	cipherCode, err := r.ReadByte()
	if err != nil {
		return wrapper{}, fmt.Errorf("read cipher code: %w", err)
	}
	var iv [gcmNonceSize]byte
	if _, err := r.Read(iv[:]); err != nil {
		return wrapper{}, fmt.Errorf("read iv: %w", err)
	}
	rest := make([]byte, r.Len())
	if _, err := r.Read(rest); err != nil && len(rest) > 0 {
		return wrapper{}, fmt.Errorf("read ciphertext: %w", err)
	}
	return wrapper{
		edek:             edek,
		aadCode:          aadCode,
		cipherCode:       cipherCode,
		iv:               iv,
		ciphertextAndTag: rest,
	}, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// wrapperSize computes the worst-case encoded wrapper size as a pure
// function of the max parcel size; it does not depend on any
// individual record.
func wrapperSize(serde EdekSerde, edek EDEK, maxParcelSize int) int {
	edekLen := serde.SizeOf(edek)
	uvarintLen := uvarintSize(uint64(edekLen))
	return uvarintLen + edekLen + 1 /*aad*/ + 1 /*cipher*/ + gcmNonceSize + maxParcelSize + gcmTagSize
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
