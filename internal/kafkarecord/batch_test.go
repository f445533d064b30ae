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

package kafkarecord

import (
	"bytes"
	"testing"
)

func sampleBatch(compression CompressionType) *RecordBatch {
	b := &RecordBatch{
		BaseOffset:           0,
		PartitionLeaderEpoch: 1,
		LastOffsetDelta:      1,
		BaseTimestamp:        1000,
		MaxTimestamp:         1001,
		ProducerID:           -1,
		ProducerEpoch:        -1,
		BaseSequence:         -1,
		Records: []Record{
			{
				OffsetDelta: 0,
				Key:         []byte("key-1"),
				Value:       []byte("value-1"),
				Headers:     []RecordHeader{{Key: "trace-id", Value: []byte("abc")}},
			},
			{
				OffsetDelta: 1,
				Key:         nil,
				Value:       []byte("value-2"),
			},
		},
	}
	b.SetCompression(compression)
	return b
}

func TestRecordBatchRoundTripUncompressed(t *testing.T) {
	original := sampleBatch(CompressionNone)
	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	batches, err := ParseRecordBatches(encoded)
	if err != nil {
		t.Fatalf("ParseRecordBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	got := batches[0]
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	if !bytes.Equal(got.Records[0].Key, []byte("key-1")) {
		t.Fatalf("record 0 key mismatch: %q", got.Records[0].Key)
	}
	if !bytes.Equal(got.Records[0].Value, []byte("value-1")) {
		t.Fatalf("record 0 value mismatch: %q", got.Records[0].Value)
	}
	if got.Records[1].Key != nil {
		t.Fatalf("record 1 key should be null, got %q", got.Records[1].Key)
	}
	if len(got.Records[0].Headers) != 1 || got.Records[0].Headers[0].Key != "trace-id" {
		t.Fatalf("unexpected headers: %+v", got.Records[0].Headers)
	}
}

func TestRecordBatchRoundTripGzip(t *testing.T) {
	original := sampleBatch(CompressionGzip)
	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	batches, err := ParseRecordBatches(encoded)
	if err != nil {
		t.Fatalf("ParseRecordBatches: %v", err)
	}
	if batches[0].Compression() != CompressionGzip {
		t.Fatalf("expected gzip compression, got %d", batches[0].Compression())
	}
	if !bytes.Equal(batches[0].Records[0].Value, []byte("value-1")) {
		t.Fatalf("value mismatch after gzip round trip: %q", batches[0].Records[0].Value)
	}
}

func TestRecordBatchRoundTripZstd(t *testing.T) {
	original := sampleBatch(CompressionZstd)
	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	batches, err := ParseRecordBatches(encoded)
	if err != nil {
		t.Fatalf("ParseRecordBatches: %v", err)
	}
	if !bytes.Equal(batches[0].Records[1].Value, []byte("value-2")) {
		t.Fatalf("value mismatch after zstd round trip: %q", batches[0].Records[1].Value)
	}
}

func TestParseRecordBatchesMultipleBatches(t *testing.T) {
	first, _ := sampleBatch(CompressionNone).Encode()
	second := sampleBatch(CompressionNone)
	second.BaseOffset = 2
	secondEncoded, _ := second.Encode()

	combined := append(append([]byte{}, first...), secondEncoded...)
	batches, err := ParseRecordBatches(combined)
	if err != nil {
		t.Fatalf("ParseRecordBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[1].BaseOffset != 2 {
		t.Fatalf("expected second batch base offset 2, got %d", batches[1].BaseOffset)
	}
}

func TestEncodeRejectsUnsupportedCompression(t *testing.T) {
	b := sampleBatch(CompressionLz4)
	_, err := b.Encode()
	if err == nil {
		t.Fatal("expected error encoding with unsupported lz4 codec")
	}
}
