/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package csparse

import (
	"mynewt.apache.org/csmgr/csxact/csxutil"
)

// Reader is a cursor over an immutable byte slice.  All multi-byte reads
// are little-endian.  A read past the end of the buffer fails with a
// TruncatedError and leaves the cursor where it was.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{
		buf: buf,
	}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) require(n int) error {
	if r.Len() < n {
		return csxutil.FmtTruncatedError(
			"read of %d bytes at offset %d overruns %d-byte buffer",
			n, r.off, len(r.buf))
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}

	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}

	u16 := uint16(r.buf[r.off]) | uint16(r.buf[r.off+1])<<8
	r.off += 2
	return u16, nil
}

func (r *Reader) ReadU24() (uint32, error) {
	if err := r.require(3); err != nil {
		return 0, err
	}

	u32 := uint32(r.buf[r.off]) |
		uint32(r.buf[r.off+1])<<8 |
		uint32(r.buf[r.off+2])<<16
	r.off += 3
	return u32, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}

	u32 := uint32(r.buf[r.off]) |
		uint32(r.buf[r.off+1])<<8 |
		uint32(r.buf[r.off+2])<<16 |
		uint32(r.buf[r.off+3])<<24
	r.off += 4
	return u32, nil
}

// ReadBytes returns a view of the next n bytes.  The caller must not
// modify the returned slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}

	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Writer accumulates little-endian wire data.  It is the encode-side
// counterpart of Reader.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteU16(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

func (w *Writer) WriteU24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

func (w *Writer) WriteU32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}
