// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package preferences

import "hash/fnv"

// Preferences allocates handles and commits pending writes.
//
// Implementations are built once at startup and passed to every component
// that needs storage. Allocation is expected during component setup.
// Callers that save from several goroutines must order those calls
// themselves; an implementation only guarantees that Sync does not race
// with a single saving goroutine.
type Preferences interface {
	// Make returns a handle for a slot of length bytes tagged typ, on
	// persistent storage when inFlash is true and volatile storage otherwise.
	Make(length int, typ uint32, inFlash bool) Object

	// MakeDefault is Make with the implementation's default placement.
	MakeDefault(length int, typ uint32) Object

	// Sync commits every pending write. A false result means some slots
	// may be committed and others not; reload values that matter.
	Sync() bool

	// Reset erases every slot.
	Reset() bool
}

// MakeFor is Make with the length taken from T.
func MakeFor[T any](p Preferences, typ uint32, inFlash bool) Object {
	return p.Make(Size[T](), typ, inFlash)
}

// MakeDefaultFor is MakeDefault with the length taken from T.
func MakeDefaultFor[T any](p Preferences, typ uint32) Object {
	return p.MakeDefault(Size[T](), typ)
}

// TypeHash derives a stable type tag from a name using 32-bit FNV-1.
func TypeHash(name string) uint32 {
	h := fnv.New32()
	h.Write([]byte(name))
	return h.Sum32()
}
