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
	"fmt"
)

// Wire primitives shared by the structural request/response codecs.
// Only frames some filter subscribes to ever come through here; the
// opaque pass-through path never touches these types. The reader
// consumes its input slice front to back and every primitive is
// bounds-checked against what is left, so a truncated or lying body
// fails with an error instead of a panic. Returned byte slices alias
// the input frame; they stay valid for as long as the frame does and
// are never written through.

type byteReader struct {
	rest []byte
}

func newByteReader(b []byte) *byteReader {
	return &byteReader{rest: b}
}

func (r *byteReader) remaining() int {
	return len(r.rest)
}

// read consumes exactly n bytes, returning them with capacity clipped
// so an append by the caller cannot scribble over the frame.
func (r *byteReader) read(n int) ([]byte, error) {
	if n < 0 || n > len(r.rest) {
		return nil, fmt.Errorf("short body: need %d bytes, %d left", n, len(r.rest))
	}
	b := r.rest[:n:n]
	r.rest = r.rest[n:]
	return b, nil
}

func (r *byteReader) Int8() (int8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *byteReader) Int16() (int16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *byteReader) Int32() (int32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *byteReader) Int64() (int64, error) {
	b, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *byteReader) UUID() ([16]byte, error) {
	b, err := r.read(16)
	if err != nil {
		return [16]byte{}, err
	}
	var id [16]byte
	copy(id[:], b)
	return id, nil
}

func (r *byteReader) Bool() (bool, error) {
	b, err := r.read(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool: %d", b[0])
	}
}

func (r *byteReader) UVarint() (uint64, error) {
	v, n := binary.Uvarint(r.rest)
	if n <= 0 {
		return 0, fmt.Errorf("malformed uvarint")
	}
	r.rest = r.rest[n:]
	return v, nil
}

// compactLength decodes the flexible-protocol length form: 0 means
// null (-1), anything else is length+1.
func (r *byteReader) compactLength() (int, error) {
	v, err := r.UVarint()
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return -1, nil
	}
	return int(v - 1), nil
}

func (r *byteReader) String() (string, error) {
	l, err := r.Int16()
	if err != nil {
		return "", err
	}
	if l < 0 {
		return "", fmt.Errorf("invalid string length: %d", l)
	}
	b, err := r.read(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) NullableString() (*string, error) {
	l, err := r.Int16()
	if err != nil {
		return nil, err
	}
	if l == -1 {
		return nil, nil
	}
	if l < 0 {
		return nil, fmt.Errorf("invalid string length: %d", l)
	}
	b, err := r.read(int(l))
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func (r *byteReader) CompactString() (string, error) {
	l, err := r.compactLength()
	if err != nil {
		return "", err
	}
	if l < 0 {
		return "", fmt.Errorf("compact string is null")
	}
	b, err := r.read(l)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) CompactNullableString() (*string, error) {
	l, err := r.compactLength()
	if err != nil {
		return nil, err
	}
	if l < 0 {
		return nil, nil
	}
	b, err := r.read(l)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func (r *byteReader) Bytes() ([]byte, error) {
	l, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if l < 0 {
		return nil, fmt.Errorf("invalid bytes length %d", l)
	}
	return r.read(int(l))
}

func (r *byteReader) CompactBytes() ([]byte, error) {
	l, err := r.compactLength()
	if err != nil {
		return nil, err
	}
	if l < 0 {
		return nil, nil
	}
	return r.read(l)
}

func (r *byteReader) CompactArrayLen() (int32, error) {
	l, err := r.compactLength()
	if err != nil {
		return 0, err
	}
	return int32(l), nil
}

// SkipTaggedFields consumes a flexible-protocol tag buffer. The proxy
// carries no tagged fields of its own, and any it skips here belonged
// to a body it is about to re-encode, so they are dropped rather than
// preserved.
func (r *byteReader) SkipTaggedFields() error {
	count, err := r.UVarint()
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		if _, err := r.UVarint(); err != nil { // tag
			return err
		}
		size, err := r.UVarint()
		if err != nil {
			return err
		}
		if _, err := r.read(int(size)); err != nil {
			return err
		}
	}
	return nil
}

// byteWriter grows an append-based buffer. Writes return no error; a
// frame's overall size is checked where it leaves the process
// (WriteFrame's size cap). The one per-field check is String, which
// panics on a string too long for its int16 length prefix.
type byteWriter struct {
	buf []byte
}

func newByteWriter(capacity int) *byteWriter {
	return &byteWriter{buf: make([]byte, 0, capacity)}
}

func (w *byteWriter) Bytes() []byte {
	return w.buf
}

func (w *byteWriter) write(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) Int8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *byteWriter) Int16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *byteWriter) Int32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *byteWriter) Int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *byteWriter) UUID(id [16]byte) {
	w.buf = append(w.buf, id[:]...)
}

func (w *byteWriter) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *byteWriter) UVarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *byteWriter) compactLength(l int) {
	if l < 0 {
		w.UVarint(0)
		return
	}
	w.UVarint(uint64(l) + 1)
}

func (w *byteWriter) String(v string) {
	if len(v) > 0x7fff {
		panic("kafkaproto: string exceeds int16 length prefix")
	}
	w.Int16(int16(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *byteWriter) NullableString(v *string) {
	if v == nil {
		w.Int16(-1)
		return
	}
	w.String(*v)
}

func (w *byteWriter) CompactString(v string) {
	w.compactLength(len(v))
	w.buf = append(w.buf, v...)
}

func (w *byteWriter) CompactNullableString(v *string) {
	if v == nil {
		w.compactLength(-1)
		return
	}
	w.CompactString(*v)
}

func (w *byteWriter) BytesWithLength(b []byte) {
	w.Int32(int32(len(b)))
	w.write(b)
}

func (w *byteWriter) CompactBytes(b []byte) {
	if b == nil {
		w.compactLength(-1)
		return
	}
	w.compactLength(len(b))
	w.write(b)
}

func (w *byteWriter) CompactArrayLen(l int) {
	w.compactLength(l)
}

// WriteTaggedFields emits a tag buffer header. The proxy never emits
// tagged fields, so only the zero form is ever produced; the count
// parameter exists to keep call sites explicit about that.
func (w *byteWriter) WriteTaggedFields(count int) {
	w.UVarint(uint64(count))
}
