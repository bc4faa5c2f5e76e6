// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package preferences

import (
	"encoding/binary"
	"log/slog"
)

// byteOrder is the byte image used for every typed value.
var byteOrder = binary.LittleEndian

// Object is a handle to one slot. The zero Object is unbound: every Save
// and Load on it fails without side effects.
//
// Object is a small value; copy it freely.
type Object struct {
	backend Backend
}

// NewObject binds a handle to b. A nil b yields an unbound handle.
func NewObject(b Backend) Object {
	return Object{backend: b}
}

// Bound reports whether the handle has a backend.
func (o Object) Bound() bool {
	return o.backend != nil
}

// SaveBytes hands data to the backend unchanged.
func (o Object) SaveBytes(data []byte) bool {
	if o.backend == nil {
		return false
	}
	if err := o.backend.Save(data); err != nil {
		slog.Debug("preferences: save failed", "len", len(data), "err", err)
		return false
	}
	return true
}

// LoadBytes fills dst from the backend. dst is left untouched on failure.
func (o Object) LoadBytes(dst []byte) bool {
	if o.backend == nil {
		return false
	}
	if err := o.backend.Load(dst); err != nil {
		slog.Debug("preferences: load failed", "len", len(dst), "err", err)
		return false
	}
	return true
}

// Size returns the length of T's byte image, or a value <= 0 when T has no
// fixed-size image (pointers, slices, maps, strings, int, uint, or structs
// containing them).
func Size[T any]() int {
	var v T
	return binary.Size(&v)
}

// Save writes the byte image of *src through o. It fails without calling
// the backend when o is unbound or T has no fixed-size image.
func Save[T any](o Object, src *T) bool {
	if o.backend == nil || src == nil {
		return false
	}
	n := Size[T]()
	if n <= 0 {
		return false
	}
	buf := make([]byte, n)
	if _, err := binary.Encode(buf, byteOrder, src); err != nil {
		slog.Debug("preferences: encode failed", "len", n, "err", err)
		return false
	}
	return o.SaveBytes(buf)
}

// Load reads T's byte image through o into *dst. *dst is only assigned
// when the whole image was loaded and decoded.
func Load[T any](o Object, dst *T) bool {
	if o.backend == nil || dst == nil {
		return false
	}
	n := Size[T]()
	if n <= 0 {
		return false
	}
	buf := make([]byte, n)
	if !o.LoadBytes(buf) {
		return false
	}
	var v T
	if _, err := binary.Decode(buf, byteOrder, &v); err != nil {
		slog.Debug("preferences: decode failed", "len", n, "err", err)
		return false
	}
	*dst = v
	return true
}
