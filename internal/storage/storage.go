// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package storage provides the media that hold preference records.
package storage

import (
	"errors"
	"slices"
)

var (
	// ErrNoSpace is returned when a medium cannot fit a new record.
	ErrNoSpace = errors.New("storage: no space left on medium")

	// ErrClosed is returned when a medium is used before Open or after Close.
	ErrClosed = errors.New("storage: medium is not open")
)

// MaxRecordLength is the largest record any medium accepts.
const MaxRecordLength = 0xFFFF

// Record is one stored slot.
type Record struct {
	Type uint32
	Data []byte
}

// Medium defines the interface for a region holding preference records,
// keyed by type tag.
type Medium interface {
	// Name identifies the medium in logs.
	Name() string

	// Open prepares the medium. Existing records become readable.
	Open() error

	// Read fills dst with the record for typ. It fails with
	// preferences.ErrNotFound or preferences.ErrLengthMismatch and leaves
	// dst untouched.
	Read(typ uint32, dst []byte) error

	// Write stores data as the record for typ. A failed Write leaves the
	// previous record intact. The record is durable after Commit.
	Write(typ uint32, data []byte) error

	// Commit makes every Write so far durable.
	Commit() error

	// Erase removes every record, durably.
	Erase() error

	// Records lists the stored records ordered by type.
	Records() ([]Record, error)

	Close() error
}

func sortRecords(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		}
		return 0
	})
}
