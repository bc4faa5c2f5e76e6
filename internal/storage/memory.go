// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"sync"

	"github.com/ffutop/nvprefs/preferences"
)

// MemoryMedium keeps records in RAM (non-persistent).
type MemoryMedium struct {
	mu      sync.Mutex
	entries map[uint32][]byte
}

func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{entries: make(map[uint32][]byte)}
}

func (m *MemoryMedium) Name() string { return "memory" }

func (m *MemoryMedium) Open() error { return nil }

func (m *MemoryMedium) Read(typ uint32, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[typ]
	if !ok {
		return fmt.Errorf("%w: type 0x%08x", preferences.ErrNotFound, typ)
	}
	if len(data) != len(dst) {
		return fmt.Errorf("%w: type 0x%08x stored %d bytes, requested %d", preferences.ErrLengthMismatch, typ, len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

func (m *MemoryMedium) Write(typ uint32, data []byte) error {
	if len(data) == 0 || len(data) > MaxRecordLength {
		return fmt.Errorf("%w: record of %d bytes", preferences.ErrLengthMismatch, len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[typ] = append([]byte(nil), data...)
	return nil
}

// Commit is a no-op for memory.
func (m *MemoryMedium) Commit() error { return nil }

func (m *MemoryMedium) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}

func (m *MemoryMedium) Records() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]Record, 0, len(m.entries))
	for typ, data := range m.entries {
		recs = append(recs, Record{Type: typ, Data: append([]byte(nil), data...)})
	}
	sortRecords(recs)
	return recs, nil
}

func (m *MemoryMedium) Close() error { return nil }

var _ Medium = (*MemoryMedium)(nil)
