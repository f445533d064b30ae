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

import "errors"

var (
	// ErrRequestNotSatisfiable is returned when the lease protocol
	// exhausts its retry budget against a KEK whose DEK keeps rotating
	// out from under concurrent callers.
	ErrRequestNotSatisfiable = errors.New("encryption: request not satisfiable, DEK lease exhausted retries")

	// ErrIllegalHeaderEncryptionOnTombstone is returned when a scheme
	// requests RECORD_HEADER_VALUES encryption on a record whose value
	// is null; rewriting the value would defeat log compaction.
	ErrIllegalHeaderEncryptionOnTombstone = errors.New("encryption: header-only encryption is not allowed on a tombstone record")

	// ErrIntegrityFailure signals AEAD tag verification failure for a
	// single record. It never poisons the rest of the batch.
	ErrIntegrityFailure = errors.New("encryption: record failed integrity verification")

	// ErrUnknownDecryptionVersion is returned when a record carries an
	// encryption-version header this build does not recognize.
	ErrUnknownDecryptionVersion = errors.New("encryption: unrecognized encryption version")

	// ErrUnsupportedAAD is returned for any aad_code other than NONE;
	// V1 reserves the code space but does not implement AAD.
	ErrUnsupportedAAD = errors.New("encryption: unsupported aad code")

	// ErrUnsupportedCipher is returned for any cipher_code other than
	// AES_GCM_96_128.
	ErrUnsupportedCipher = errors.New("encryption: unsupported cipher code")
)
