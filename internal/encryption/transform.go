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
	"context"
	"fmt"

	"github.com/kroxylicious/kroxylicious-go/internal/bufferpool"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkarecord"
	"github.com/kroxylicious/kroxylicious-go/internal/metrics"
)

// EncryptionScheme names the KEK and the set of record fields a
// Produce-path encrypt call should protect.
type EncryptionScheme struct {
	KekID        string
	RecordFields RecordField
}

// Encrypt runs the record transform engine over one topic-partition's
// batch, leasing a key context for the whole batch and emitting a new
// batch with the same framing metadata but transformed record values.
//
// Empty batches and batches whose records are entirely tombstones pass
// through unchanged, with no KMS interaction. A scheme that encrypts
// header values fails the whole batch if any tombstone carries headers.
func (m *KeyManager) Encrypt(ctx context.Context, topic string, partition int32, scheme EncryptionScheme, batch *kafkarecord.RecordBatch, pool *bufferpool.Pool) (*kafkarecord.RecordBatch, error) {
	// a tombstone must keep its null value for compaction, so any
	// scheme that would encrypt its headers (and thereby force a
	// non-null value onto it) is rejected up front, before any record
	// in the batch is transformed
	if scheme.RecordFields&RecordFieldHeaderValues != 0 {
		for _, rec := range batch.Records {
			if rec.Value == nil && len(rec.Headers) > 0 {
				return nil, ErrIllegalHeaderEncryptionOnTombstone
			}
		}
	}

	nonTombstoneCount := 0
	for _, rec := range batch.Records {
		if rec.Value != nil {
			nonTombstoneCount++
		}
	}
	if nonTombstoneCount == 0 {
		return batch, nil
	}

	kc, err := m.lease(ctx, scheme.KekID, nonTombstoneCount)
	if err != nil {
		return nil, err
	}

	maxParcelSize := 0
	for _, rec := range batch.Records {
		if rec.Value == nil {
			continue
		}
		parcelBytes, err := writeParcel(parcelFor(rec, scheme.RecordFields))
		if err != nil {
			return nil, fmt.Errorf("size parcel: %w", err)
		}
		if len(parcelBytes) > maxParcelSize {
			maxParcelSize = len(parcelBytes)
		}
	}
	maxWrapperSize := wrapperSize(RawEdekSerde{}, kc.edek, maxParcelSize)

	parcelBuf := pool.Get(maxParcelSize)
	wrapperBuf := pool.Get(maxWrapperSize)
	defer pool.Release(parcelBuf)
	defer pool.Release(wrapperBuf)

	out := &kafkarecord.RecordBatch{
		BaseOffset:           batch.BaseOffset,
		PartitionLeaderEpoch: batch.PartitionLeaderEpoch,
		Attributes:           batch.Attributes,
		LastOffsetDelta:      batch.LastOffsetDelta,
		BaseTimestamp:        batch.BaseTimestamp,
		MaxTimestamp:         batch.MaxTimestamp,
		ProducerID:           batch.ProducerID,
		ProducerEpoch:        batch.ProducerEpoch,
		BaseSequence:         batch.BaseSequence,
		Records:              make([]kafkarecord.Record, 0, len(batch.Records)),
	}

	for _, rec := range batch.Records {
		if rec.Value == nil {
			out.Records = append(out.Records, rec)
			continue
		}
		transformed, err := encryptRecord(kc, rec, scheme.RecordFields, parcelBuf, wrapperBuf)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s-%d record at offset delta %d: %w", topic, partition, rec.OffsetDelta, err)
		}
		out.Records = append(out.Records, transformed)
	}
	return out, nil
}

func parcelFor(rec kafkarecord.Record, fields RecordField) Parcel {
	p := Parcel{Version: ParcelVersion1, Fields: fields}
	if fields&RecordFieldValue != 0 {
		p.Value = rec.Value
	}
	if fields&RecordFieldHeaderValues != 0 {
		p.Headers = rec.Headers
	}
	return p
}

func encryptRecord(kc *keyContext, rec kafkarecord.Record, fields RecordField, parcelBuf, wrapperBuf *bufferpool.Buffer) (kafkarecord.Record, error) {
	parcelBytes, err := appendParcel(parcelBuf.Bytes()[:0], parcelFor(rec, fields))
	if err != nil {
		return kafkarecord.Record{}, fmt.Errorf("build parcel: %w", err)
	}

	kc.mu.Lock()
	iv := kc.nextIVLocked()
	gcmAEAD := kc.gcm
	kc.mu.Unlock()

	prefix := appendWrapperPrefix(wrapperBuf.Bytes()[:0], RawEdekSerde{}, kc.edek, AADNone, CipherAESGCM96128, iv)
	sealed := gcmAEAD.Seal(prefix, iv[:], parcelBytes, nil)
	// sealed aliases wrapperBuf's backing array; copy out before the
	// buffer is released back to the pool at the end of the batch.
	value := append([]byte(nil), sealed...)

	headers := make([]kafkarecord.RecordHeader, 0, len(rec.Headers)+1)
	headers = append(headers, kafkarecord.RecordHeader{Key: EncryptionHeaderName, Value: []byte{ParcelVersion1}})
	if fields&RecordFieldHeaderValues == 0 {
		headers = append(headers, rec.Headers...)
	}

	return kafkarecord.Record{
		Attributes:     rec.Attributes,
		TimestampDelta: rec.TimestampDelta,
		OffsetDelta:    rec.OffsetDelta,
		Key:            rec.Key,
		Value:          value,
		Headers:        headers,
	}, nil
}

// Decrypt mirrors Encrypt on the fetch path: records without the
// encryption header pass through unchanged; a record that fails
// integrity verification is dropped and does not poison the rest of
// the batch.
func (c *DecryptorCache) Decrypt(ctx context.Context, topic string, partition int32, batch *kafkarecord.RecordBatch) (*kafkarecord.RecordBatch, error) {
	out := &kafkarecord.RecordBatch{
		BaseOffset:           batch.BaseOffset,
		PartitionLeaderEpoch: batch.PartitionLeaderEpoch,
		Attributes:           batch.Attributes,
		LastOffsetDelta:      batch.LastOffsetDelta,
		BaseTimestamp:        batch.BaseTimestamp,
		MaxTimestamp:         batch.MaxTimestamp,
		ProducerID:           batch.ProducerID,
		ProducerEpoch:        batch.ProducerEpoch,
		BaseSequence:         batch.BaseSequence,
		Records:              make([]kafkarecord.Record, 0, len(batch.Records)),
	}
	for _, rec := range batch.Records {
		version, hadHeader := encryptionVersion(rec.Headers)
		if !hadHeader {
			out.Records = append(out.Records, rec)
			continue
		}
		if version != ParcelVersion1 {
			return nil, fmt.Errorf("%w: %d", ErrUnknownDecryptionVersion, version)
		}
		decrypted, err := c.decryptRecord(ctx, rec)
		if err != nil {
			// per-record integrity failures are dropped, not fatal to
			// the batch; any other error still fails
			// the whole fetch, since it indicates a malformed wrapper.
			if err == ErrIntegrityFailure {
				metrics.DecryptIntegrityFailuresTotal.WithLabelValues(topic).Inc()
				continue
			}
			return nil, fmt.Errorf("decrypt %s-%d record at offset delta %d: %w", topic, partition, rec.OffsetDelta, err)
		}
		out.Records = append(out.Records, decrypted)
	}
	return out, nil
}

func (c *DecryptorCache) decryptRecord(ctx context.Context, rec kafkarecord.Record) (kafkarecord.Record, error) {
	w, err := readWrapper(RawEdekSerde{}, rec.Value)
	if err != nil {
		return kafkarecord.Record{}, fmt.Errorf("read wrapper: %w", err)
	}
	if w.aadCode != AADNone {
		return kafkarecord.Record{}, ErrUnsupportedAAD
	}
	if w.cipherCode != CipherAESGCM96128 {
		return kafkarecord.Record{}, ErrUnsupportedCipher
	}

	d, err := c.getOrCreate(ctx, w.edek)
	if err != nil {
		return kafkarecord.Record{}, fmt.Errorf("resolve decryptor: %w", err)
	}
	plain, err := d.open(w.iv[:], w.ciphertextAndTag)
	if err != nil {
		return kafkarecord.Record{}, err
	}
	parcel, err := readParcel(plain)
	if err != nil {
		return kafkarecord.Record{}, fmt.Errorf("read parcel: %w", err)
	}

	headers := restoreHeaders(rec.Headers, parcel)
	value := rec.Value
	if parcel.Fields&RecordFieldValue != 0 {
		value = parcel.Value
	}
	return kafkarecord.Record{
		Attributes:     rec.Attributes,
		TimestampDelta: rec.TimestampDelta,
		OffsetDelta:    rec.OffsetDelta,
		Key:            rec.Key,
		Value:          value,
		Headers:        headers,
	}, nil
}

// restoreHeaders drops the encryption-version header and, if the
// parcel carried RECORD_HEADER_VALUES, replaces the remaining headers
// with the restored originals; otherwise the passed-through headers
// (everything after the encryption header) are already correct.
func restoreHeaders(headers []kafkarecord.RecordHeader, parcel Parcel) []kafkarecord.RecordHeader {
	if parcel.Fields&RecordFieldHeaderValues != 0 {
		return parcel.Headers
	}
	out := make([]kafkarecord.RecordHeader, 0, len(headers))
	for _, h := range headers {
		if h.Key == EncryptionHeaderName {
			continue
		}
		out = append(out, h)
	}
	return out
}

func encryptionVersion(headers []kafkarecord.RecordHeader) (byte, bool) {
	for _, h := range headers {
		if h.Key == EncryptionHeaderName && len(h.Value) == 1 {
			return h.Value[0], true
		}
	}
	return 0, false
}
