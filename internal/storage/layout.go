// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/nvprefs/preferences"
)

// Flash image layout shared by FileMedium and MmapMedium.
//
// Header (16 bytes):
// - magic   uint32 (Offset 0)
// - version uint16 (Offset 4)
// - used    uint32 (Offset 8), offset of the first free byte
//
// Records follow the header back to back:
// - type   uint32 (Offset 0)
// - length uint16 (Offset 4)
// - flags  uint16 (Offset 6), bit 0 set while the record is live
// - data, padded to 4 bytes (Offset 8)
//
// All fields are little-endian. Retired records are never reclaimed.
const (
	imageMagic   = 0x4650564e // "NVPF"
	imageVersion = 1

	headerSize       = 16
	recordHeaderSize = 8
	recordAlign      = 4

	offsetMagic   = 0
	offsetVersion = 4
	offsetUsed    = 8

	offsetRecType   = 0
	offsetRecLength = 4
	offsetRecFlags  = 6

	flagLive = 0x0001

	// MinImageSize is the smallest image that holds one record.
	MinImageSize = headerSize + recordHeaderSize + recordAlign
)

var le = binary.LittleEndian

// image views a byte slice as a flash image.
type image []byte

func alignUp(n int) int {
	return (n + recordAlign - 1) &^ (recordAlign - 1)
}

// formatted reports whether the image carries a usable header.
func (img image) formatted() bool {
	if len(img) < headerSize {
		return false
	}
	if le.Uint32(img[offsetMagic:]) != imageMagic || le.Uint16(img[offsetVersion:]) != imageVersion {
		return false
	}
	used := int(le.Uint32(img[offsetUsed:]))
	return used >= headerSize && used <= len(img)
}

// format wipes the image and writes an empty header.
func (img image) format() {
	clear(img)
	le.PutUint32(img[offsetMagic:], imageMagic)
	le.PutUint16(img[offsetVersion:], imageVersion)
	le.PutUint32(img[offsetUsed:], headerSize)
}

func (img image) used() int {
	return int(le.Uint32(img[offsetUsed:]))
}

// walk calls fn for every complete record until fn returns false.
func (img image) walk(fn func(off int, typ uint32, length int, live bool) bool) {
	end := img.used()
	for off := headerSize; off+recordHeaderSize <= end; {
		typ := le.Uint32(img[off+offsetRecType:])
		length := int(le.Uint16(img[off+offsetRecLength:]))
		live := le.Uint16(img[off+offsetRecFlags:])&flagLive != 0
		next := off + recordHeaderSize + alignUp(length)
		if next > end {
			return
		}
		if !fn(off, typ, length, live) {
			return
		}
		off = next
	}
}

// find returns the offset and length of the live record for typ.
func (img image) find(typ uint32) (off, length int, ok bool) {
	img.walk(func(o int, t uint32, n int, live bool) bool {
		if live && t == typ {
			off, length, ok = o, n, true
			return false
		}
		return true
	})
	return
}

func (img image) read(typ uint32, dst []byte) error {
	off, length, ok := img.find(typ)
	if !ok {
		return fmt.Errorf("%w: type 0x%08x", preferences.ErrNotFound, typ)
	}
	if length != len(dst) {
		return fmt.Errorf("%w: type 0x%08x stored %d bytes, requested %d", preferences.ErrLengthMismatch, typ, length, len(dst))
	}
	start := off + recordHeaderSize
	copy(dst, img[start:start+length])
	return nil
}

// write overwrites a live record of the same length in place. Otherwise it
// appends a new record and only then retires the old one.
func (img image) write(typ uint32, data []byte) error {
	if len(data) == 0 || len(data) > MaxRecordLength {
		return fmt.Errorf("%w: record of %d bytes", preferences.ErrLengthMismatch, len(data))
	}
	off, length, ok := img.find(typ)
	if ok && length == len(data) {
		copy(img[off+recordHeaderSize:], data)
		return nil
	}

	end := img.used()
	need := recordHeaderSize + alignUp(len(data))
	if end+need > len(img) {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrNoSpace, need, len(img)-end)
	}
	rec := img[end : end+need]
	clear(rec)
	le.PutUint32(rec[offsetRecType:], typ)
	le.PutUint16(rec[offsetRecLength:], uint16(len(data)))
	le.PutUint16(rec[offsetRecFlags:], flagLive)
	copy(rec[recordHeaderSize:], data)

	le.PutUint32(img[offsetUsed:], uint32(end+need))
	if ok {
		le.PutUint16(img[off+offsetRecFlags:], 0)
	}
	return nil
}

func (img image) records() []Record {
	var recs []Record
	img.walk(func(off int, typ uint32, length int, live bool) bool {
		if live {
			start := off + recordHeaderSize
			recs = append(recs, Record{Type: typ, Data: append([]byte(nil), img[start:start+length]...)})
		}
		return true
	})
	sortRecords(recs)
	return recs
}
