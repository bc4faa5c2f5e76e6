// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ffutop/nvprefs/preferences"
	"github.com/fxamacker/cbor/v2"
)

const nvsVersion = 1

var (
	nvsEncMode cbor.EncMode
	nvsDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical, // Deterministic key ordering
		IndefLength: cbor.IndefLengthForbidden,
	}
	nvsEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	nvsDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// nvsDocument is the on-disk form of an NVS partition.
type nvsDocument struct {
	Version int               `cbor:"1,keyasint"`
	Entries map[uint32][]byte `cbor:"2,keyasint"`
}

// NVSMedium emulates a key/value NVS partition: one blob per type tag,
// persisted as a single CBOR document. Commit replaces the document
// atomically through a temporary file and rename.
type NVSMedium struct {
	path    string
	entries map[uint32][]byte
	dirty   bool
}

// NewNVSMedium creates a new NVSMedium stored at path.
func NewNVSMedium(path string) *NVSMedium {
	return &NVSMedium{path: path}
}

func (n *NVSMedium) Name() string { return "nvs:" + n.path }

// Open loads the partition. A missing file is an empty partition; an
// undecodable one is logged and treated as empty.
func (n *NVSMedium) Open() error {
	n.entries = make(map[uint32][]byte)
	n.dirty = false

	data, err := os.ReadFile(n.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		n.entries = nil
		return fmt.Errorf("failed to read nvs file: %w", err)
	}

	var doc nvsDocument
	if err := nvsDecMode.Unmarshal(data, &doc); err != nil {
		slog.Warn("storage: undecodable nvs partition, starting empty", "path", n.path, "err", err)
		return nil
	}
	if doc.Version != nvsVersion {
		slog.Warn("storage: unsupported nvs version, starting empty", "path", n.path, "version", doc.Version)
		return nil
	}
	for typ, blob := range doc.Entries {
		n.entries[typ] = blob
	}
	return nil
}

func (n *NVSMedium) Read(typ uint32, dst []byte) error {
	if n.entries == nil {
		return ErrClosed
	}
	blob, ok := n.entries[typ]
	if !ok {
		return fmt.Errorf("%w: type 0x%08x", preferences.ErrNotFound, typ)
	}
	if len(blob) != len(dst) {
		return fmt.Errorf("%w: type 0x%08x stored %d bytes, requested %d", preferences.ErrLengthMismatch, typ, len(blob), len(dst))
	}
	copy(dst, blob)
	return nil
}

func (n *NVSMedium) Write(typ uint32, data []byte) error {
	if n.entries == nil {
		return ErrClosed
	}
	if len(data) == 0 || len(data) > MaxRecordLength {
		return fmt.Errorf("%w: record of %d bytes", preferences.ErrLengthMismatch, len(data))
	}
	n.entries[typ] = append([]byte(nil), data...)
	n.dirty = true
	return nil
}

// Commit rewrites the partition file if anything changed since the last
// Commit.
func (n *NVSMedium) Commit() error {
	if n.entries == nil {
		return ErrClosed
	}
	if !n.dirty {
		return nil
	}
	if err := n.writeAtomic(); err != nil {
		return err
	}
	n.dirty = false
	return nil
}

func (n *NVSMedium) writeAtomic() error {
	data, err := nvsEncMode.Marshal(nvsDocument{Version: nvsVersion, Entries: n.entries})
	if err != nil {
		return fmt.Errorf("failed to encode nvs partition: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(n.path), 0755); err != nil {
		return err
	}

	// Write to temp file, then rename (atomic on Linux)
	tmpPath := n.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create nvs temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write nvs temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync nvs temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, n.path)
}

func (n *NVSMedium) Erase() error {
	if n.entries == nil {
		return ErrClosed
	}
	clear(n.entries)
	n.dirty = true
	return n.Commit()
}

func (n *NVSMedium) Records() ([]Record, error) {
	if n.entries == nil {
		return nil, ErrClosed
	}
	recs := make([]Record, 0, len(n.entries))
	for typ, blob := range n.entries {
		recs = append(recs, Record{Type: typ, Data: append([]byte(nil), blob...)})
	}
	sortRecords(recs)
	return recs, nil
}

// Close drops the in-memory copy. Uncommitted writes are lost.
func (n *NVSMedium) Close() error {
	n.entries = nil
	n.dirty = false
	return nil
}

var _ Medium = (*NVSMedium)(nil)
