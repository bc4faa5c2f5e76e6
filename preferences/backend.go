// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package preferences lets firmware components persist small, fixed-size
// values without knowing where the bytes end up.
//
// A component asks a Preferences store for an Object sized to its value
// type, then calls Save and Load on that Object for the rest of its life.
// Writes to persistent slots become durable no later than the store's next
// Sync.
package preferences

import "errors"

var (
	// ErrLengthMismatch is returned by a Backend when the buffer length
	// differs from the length the slot was allocated or stored with.
	ErrLengthMismatch = errors.New("preferences: length mismatch")

	// ErrNotFound is returned by a Backend when the slot was never written.
	ErrNotFound = errors.New("preferences: slot not found")
)

// Backend durably saves and loads the raw bytes of one logical slot.
//
// Save must be all-or-nothing: after a failed Save a later Load observes
// either the previous value or the new one, never a mix. Load fills exactly
// len(data) bytes and leaves data untouched when it fails. Both fail with
// ErrLengthMismatch when len(data) is not the slot's established size.
type Backend interface {
	Save(data []byte) error
	Load(data []byte) error
}
