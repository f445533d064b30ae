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

	"github.com/kroxylicious/kroxylicious-go/internal/kafkarecord"
)

// RecordField identifies a record field the parcel may carry, encoded
// as a bit in the parcel's field_bitmap.
type RecordField uint16

const (
	RecordFieldValue        RecordField = 1 << 0
	RecordFieldHeaderValues RecordField = 1 << 1
)

// ParcelVersion1 is the only parcel wire version this build emits or
// understands.
const ParcelVersion1 = 1

// EncryptionHeaderName is the Kafka record header carrying the
// encryption-version byte.
const EncryptionHeaderName = "kroxylicious.io/encryption"

// Parcel is the decoded form of the portion of a record that gets
// encrypted together.
type Parcel struct {
	Version byte
	Fields  RecordField
	Value   []byte // present iff Fields&RecordFieldValue != 0
	Headers []kafkarecord.RecordHeader
}

// writeParcel serializes p in field_bitmap order: value, then headers.
func writeParcel(p Parcel) ([]byte, error) {
	return appendParcel(nil, p)
}

// appendParcel serializes p onto dst (which may be a pool-borrowed
// scratch slice reset to length zero) and returns the grown slice.
func appendParcel(dst []byte, p Parcel) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(p.Version)
	var bitmap [2]byte
	binary.BigEndian.PutUint16(bitmap[:], uint16(p.Fields))
	buf.Write(bitmap[:])

	if p.Fields&RecordFieldValue != 0 {
		writeLengthPrefixed(&buf, p.Value)
	}
	if p.Fields&RecordFieldHeaderValues != 0 {
		headerBytes, err := encodeHeaders(p.Headers)
		if err != nil {
			return nil, fmt.Errorf("encode headers: %w", err)
		}
		writeLengthPrefixed(&buf, headerBytes)
	}
	return append(dst, buf.Bytes()...), nil
}

// readParcel parses a serialized parcel back into its fields.
func readParcel(data []byte) (Parcel, error) {
	if len(data) < 3 {
		return Parcel{}, fmt.Errorf("parcel shorter than header: %d bytes", len(data))
	}
	version := data[0]
	if version != ParcelVersion1 {
		return Parcel{}, fmt.Errorf("%w: parcel version %d", ErrUnknownDecryptionVersion, version)
	}
	fields := RecordField(binary.BigEndian.Uint16(data[1:3]))
	r := bytes.NewReader(data[3:])

	p := Parcel{Version: version, Fields: fields}
	if fields&RecordFieldValue != 0 {
		value, err := readLengthPrefixed(r)
		if err != nil {
			return Parcel{}, fmt.Errorf("read parcel value: %w", err)
		}
		p.Value = value
	}
	if fields&RecordFieldHeaderValues != 0 {
		headerBytes, err := readLengthPrefixed(r)
		if err != nil {
			return Parcel{}, fmt.Errorf("read parcel headers: %w", err)
		}
		headers, err := decodeHeaders(headerBytes)
		if err != nil {
			return Parcel{}, fmt.Errorf("decode headers: %w", err)
		}
		p.Headers = headers
	}
	return p, nil
}

func writeLengthPrefixed(buf *bytes.Buffer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf.Write(length[:])
	buf.Write(b)
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := r.Read(lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	b := make([]byte, length)
	if length > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// encodeHeaders renders headers in the Kafka headers varint-array form
// (count, then key/value length-prefixed pairs), matching the on-wire
// record header encoding in internal/kafkarecord.
func encodeHeaders(headers []kafkarecord.RecordHeader) ([]byte, error) {
	var buf bytes.Buffer
	writeVarintInt(&buf, int64(len(headers)))
	for _, h := range headers {
		writeVarintBytesInt(&buf, []byte(h.Key))
		writeVarintBytesInt(&buf, h.Value)
	}
	return buf.Bytes(), nil
}

func decodeHeaders(data []byte) ([]kafkarecord.RecordHeader, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadVarint(r)
	if err != nil {
		return nil, fmt.Errorf("read header count: %w", err)
	}
	headers := make([]kafkarecord.RecordHeader, 0, count)
	for i := int64(0); i < count; i++ {
		key, err := readVarintBytesInt(r)
		if err != nil {
			return nil, fmt.Errorf("header %d key: %w", i, err)
		}
		value, err := readVarintBytesInt(r)
		if err != nil {
			return nil, fmt.Errorf("header %d value: %w", i, err)
		}
		headers = append(headers, kafkarecord.RecordHeader{Key: string(key), Value: value})
	}
	return headers, nil
}

func writeVarintInt(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeVarintBytesInt(buf *bytes.Buffer, b []byte) {
	if b == nil {
		writeVarintInt(buf, -1)
		return
	}
	writeVarintInt(buf, int64(len(b)))
	buf.Write(b)
}

func readVarintBytesInt(r *bytes.Reader) ([]byte, error) {
	length, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
