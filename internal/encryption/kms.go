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

// Package encryption implements envelope record encryption: a DEK cache
// and key manager backed by an external KMS, a record-batch transform
// engine, and a decryptor cache for the fetch path.
package encryption

import "context"

// DEK is a short-lived symmetric key used directly for record
// encryption. AES-256 is always used (96-bit IV, 128-bit auth tag,
// i.e. standard AES-GCM framing).
type DEK struct {
	Key [32]byte
}

// EDEK is the KMS-wrapped, opaque-to-the-proxy form of a DEK.
type EDEK []byte

// KeyManagementService is the abstract interface the core consumes; a
// concrete adapter (internal/kms/awskms) wraps a real KMS behind it.
// Every method may block on network I/O and must be safe for
// concurrent use from many connection workers.
type KeyManagementService interface {
	GenerateDekPair(ctx context.Context, kekID string) (DEK, EDEK, error)
	DecryptEdek(ctx context.Context, edek EDEK) (DEK, error)
	ResolveKekID(ctx context.Context, topic string) (string, error)
}

// EdekSerde governs how an EDEK is sized and written into the wrapper
// format. Most KMS adapters hand back an already-opaque byte slice, so
// RawEdekSerde (a verbatim copy) covers the common case; a KMS with a
// more compact wire form may supply its own.
type EdekSerde interface {
	SizeOf(edek EDEK) int
	Serialize(edek EDEK, buf []byte) int
	Deserialize(buf []byte) (EDEK, error)
}

// RawEdekSerde treats the EDEK as an opaque byte slice, copied verbatim.
type RawEdekSerde struct{}

func (RawEdekSerde) SizeOf(edek EDEK) int { return len(edek) }

func (RawEdekSerde) Serialize(edek EDEK, buf []byte) int {
	return copy(buf, edek)
}

func (RawEdekSerde) Deserialize(buf []byte) (EDEK, error) {
	out := make(EDEK, len(buf))
	copy(out, buf)
	return out, nil
}
