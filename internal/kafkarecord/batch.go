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

// Package kafkarecord decodes and re-encodes Kafka record batch v2 wire
// format, down to the individual record level. The proxy's encryption
// filter needs per-record access to keys, values and headers;
// broker-side code never needs more than the batch header, so this
// codec goes further than a broker would.
package kafkarecord

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
)

const batchHeaderSize = 61 // everything up to and including recordsCount

// CompressionType is the codec carried in the low 3 bits of a batch's
// attributes field.
type CompressionType int8

const (
	CompressionNone   CompressionType = 0
	CompressionGzip   CompressionType = 1
	CompressionSnappy CompressionType = 2
	CompressionLz4    CompressionType = 3
	CompressionZstd   CompressionType = 4
)

const (
	attrCompressionMask = 0x7
	attrTimestampType   = 1 << 3
	attrTransactional   = 1 << 4
	attrControl         = 1 << 5
)

// RecordHeader is a single Kafka record header entry.
type RecordHeader struct {
	Key   string
	Value []byte
}

// Record is one logical record inside a batch, after decompression.
type Record struct {
	Attributes     int8
	TimestampDelta int64
	OffsetDelta    int32
	Key            []byte // nil means null, distinct from empty
	Value          []byte
	Headers        []RecordHeader
}

// RecordBatch is a fully decoded Kafka record batch (magic v2 only; the
// proxy never needs to speak the v0/v1 message-set formats older clients
// used, those predate header support entirely).
type RecordBatch struct {
	BaseOffset           int64
	PartitionLeaderEpoch int32
	Attributes           int16
	LastOffsetDelta      int32
	BaseTimestamp        int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record
}

func (b *RecordBatch) Compression() CompressionType {
	return CompressionType(b.Attributes & attrCompressionMask)
}

func (b *RecordBatch) SetCompression(c CompressionType) {
	b.Attributes = (b.Attributes &^ attrCompressionMask) | int16(c)
}

func (b *RecordBatch) IsTransactional() bool {
	return b.Attributes&attrTransactional != 0
}

func (b *RecordBatch) IsControlBatch() bool {
	return b.Attributes&attrControl != 0
}

// ParseRecordBatches splits a fetch/produce record set into its
// constituent batches and decodes each one, including decompressing and
// parsing every record within.
func ParseRecordBatches(recordSet []byte) ([]*RecordBatch, error) {
	var batches []*RecordBatch
	offset := 0
	for offset < len(recordSet) {
		if len(recordSet)-offset < 12 {
			return nil, fmt.Errorf("kafkarecord: truncated batch header at offset %d", offset)
		}
		batchLength := int32(binary.BigEndian.Uint32(recordSet[offset+8 : offset+12]))
		if batchLength <= 0 {
			return nil, fmt.Errorf("kafkarecord: invalid batch length %d at offset %d", batchLength, offset)
		}
		frameLen := 12 + int(batchLength)
		if offset+frameLen > len(recordSet) {
			return nil, fmt.Errorf("kafkarecord: batch at offset %d truncated, want %d have %d", offset, frameLen, len(recordSet)-offset)
		}
		batch, err := parseBatch(recordSet[offset : offset+frameLen])
		if err != nil {
			return nil, fmt.Errorf("kafkarecord: batch at offset %d: %w", offset, err)
		}
		batches = append(batches, batch)
		offset += frameLen
	}
	return batches, nil
}

func parseBatch(raw []byte) (*RecordBatch, error) {
	if len(raw) < batchHeaderSize {
		return nil, fmt.Errorf("batch shorter than header: %d bytes", len(raw))
	}
	magic := int8(raw[16])
	if magic != 2 {
		return nil, fmt.Errorf("unsupported record batch magic %d, only v2 is handled", magic)
	}
	b := &RecordBatch{
		BaseOffset:           int64(binary.BigEndian.Uint64(raw[0:8])),
		PartitionLeaderEpoch: int32(binary.BigEndian.Uint32(raw[12:16])),
		Attributes:           int16(binary.BigEndian.Uint16(raw[21:23])),
		LastOffsetDelta:      int32(binary.BigEndian.Uint32(raw[23:27])),
		BaseTimestamp:        int64(binary.BigEndian.Uint64(raw[27:35])),
		MaxTimestamp:         int64(binary.BigEndian.Uint64(raw[35:43])),
		ProducerID:           int64(binary.BigEndian.Uint64(raw[43:51])),
		ProducerEpoch:        int16(binary.BigEndian.Uint16(raw[51:53])),
		BaseSequence:         int32(binary.BigEndian.Uint32(raw[53:57])),
	}
	recordsCount := int32(binary.BigEndian.Uint32(raw[57:61]))
	payload := raw[batchHeaderSize:]
	plain, err := decompress(CompressionType(b.Attributes&attrCompressionMask), payload)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	records, err := parseRecords(plain, int(recordsCount))
	if err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	b.Records = records
	return b, nil
}

func parseRecords(data []byte, count int) ([]Record, error) {
	records := make([]Record, 0, count)
	r := bytes.NewReader(data)
	for i := 0; i < count; i++ {
		length, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("record %d length: %w", i, err)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("record %d body: %w", i, err)
		}
		rec, err := parseRecord(body)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(body []byte) (Record, error) {
	br := bytes.NewReader(body)
	attrByte, err := br.ReadByte()
	if err != nil {
		return Record{}, err
	}
	timestampDelta, err := binary.ReadVarint(br)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp delta: %w", err)
	}
	offsetDelta, err := binary.ReadVarint(br)
	if err != nil {
		return Record{}, fmt.Errorf("offset delta: %w", err)
	}
	key, err := readVarintBytes(br)
	if err != nil {
		return Record{}, fmt.Errorf("key: %w", err)
	}
	value, err := readVarintBytes(br)
	if err != nil {
		return Record{}, fmt.Errorf("value: %w", err)
	}
	headerCount, err := binary.ReadVarint(br)
	if err != nil {
		return Record{}, fmt.Errorf("header count: %w", err)
	}
	headers := make([]RecordHeader, 0, headerCount)
	for i := int64(0); i < headerCount; i++ {
		keyBytes, err := readVarintBytes(br)
		if err != nil {
			return Record{}, fmt.Errorf("header %d key: %w", i, err)
		}
		valBytes, err := readVarintBytes(br)
		if err != nil {
			return Record{}, fmt.Errorf("header %d value: %w", i, err)
		}
		headers = append(headers, RecordHeader{Key: string(keyBytes), Value: valBytes})
	}
	return Record{
		Attributes:     int8(attrByte),
		TimestampDelta: timestampDelta,
		OffsetDelta:    int32(offsetDelta),
		Key:            key,
		Value:          value,
		Headers:        headers,
	}, nil
}

// readVarintBytes reads a zigzag-varint length followed by that many
// bytes; a length of -1 represents a null field. Null and empty must
// stay distinguishable or tombstones would stop compacting.
func readVarintBytes(r *bytes.Reader) ([]byte, error) {
	length, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode serializes the batch back to wire format, recomputing the
// batch length and CRC-32C checksum.
func (b *RecordBatch) Encode() ([]byte, error) {
	var recordsBuf bytes.Buffer
	for i, rec := range b.Records {
		encoded, err := encodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		recordsBuf.Write(encoded)
	}
	compressed, err := compress(b.Compression(), recordsBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	var body bytes.Buffer
	writeInt32(&body, b.PartitionLeaderEpoch)
	body.WriteByte(2)           // magic
	body.Write(make([]byte, 4)) // crc placeholder
	writeInt16(&body, b.Attributes)
	writeInt32(&body, b.LastOffsetDelta)
	writeInt64(&body, b.BaseTimestamp)
	writeInt64(&body, b.MaxTimestamp)
	writeInt64(&body, b.ProducerID)
	writeInt16(&body, b.ProducerEpoch)
	writeInt32(&body, b.BaseSequence)
	writeInt32(&body, int32(len(b.Records)))
	body.Write(compressed)

	bodyBytes := body.Bytes()
	crc := crc32.Checksum(bodyBytes[9:], crc32.MakeTable(crc32.Castagnoli))
	binary.BigEndian.PutUint32(bodyBytes[5:9], crc)

	var out bytes.Buffer
	writeInt64(&out, b.BaseOffset)
	writeInt32(&out, int32(len(bodyBytes)))
	out.Write(bodyBytes)
	return out.Bytes(), nil
}

func encodeRecord(rec Record) ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte(byte(rec.Attributes))
	writeVarint(&body, rec.TimestampDelta)
	writeVarint(&body, int64(rec.OffsetDelta))
	writeVarintBytes(&body, rec.Key)
	writeVarintBytes(&body, rec.Value)
	writeVarint(&body, int64(len(rec.Headers)))
	for _, h := range rec.Headers {
		writeVarintBytes(&body, []byte(h.Key))
		writeVarintBytes(&body, h.Value)
	}

	var out bytes.Buffer
	writeVarint(&out, int64(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeVarintBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		writeVarint(buf, -1)
		return
	}
	writeVarint(buf, int64(len(b)))
	buf.Write(b)
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeInt16(buf *bytes.Buffer, v int16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(v))
	buf.Write(tmp[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func decompress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression codec %d", c)
	}
}

func compress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec %d", c)
	}
}
