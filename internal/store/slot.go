// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"

	"github.com/ffutop/nvprefs/internal/storage"
	"github.com/ffutop/nvprefs/preferences"
)

type slotKey struct {
	typ     uint32
	length  int
	inFlash bool
}

// slot is the Backend behind every handle the store hands out.
//
// Flash slots keep the last saved bytes in pending until Sync writes them
// to the medium. Volatile slots write through.
type slot struct {
	store   *Store
	key     slotKey
	medium  storage.Medium
	pending []byte
	dirty   bool

	// uncommitted is set between a successful Write and its Commit.
	uncommitted bool
}

func (sl *slot) Save(data []byte) error {
	if len(data) != sl.key.length {
		return fmt.Errorf("%w: slot 0x%08x is %d bytes, got %d", preferences.ErrLengthMismatch, sl.key.typ, sl.key.length, len(data))
	}
	sl.store.mu.Lock()
	defer sl.store.mu.Unlock()

	if !sl.key.inFlash {
		return sl.medium.Write(sl.key.typ, data)
	}
	sl.pending = append(sl.pending[:0], data...)
	sl.dirty = true
	return nil
}

func (sl *slot) Load(data []byte) error {
	if len(data) != sl.key.length {
		return fmt.Errorf("%w: slot 0x%08x is %d bytes, got %d", preferences.ErrLengthMismatch, sl.key.typ, sl.key.length, len(data))
	}
	sl.store.mu.Lock()
	defer sl.store.mu.Unlock()

	if sl.pending != nil {
		copy(data, sl.pending)
		return nil
	}
	return sl.medium.Read(sl.key.typ, data)
}

var _ preferences.Backend = (*slot)(nil)
