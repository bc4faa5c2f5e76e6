// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store implements preferences.Preferences on top of a persistent
// and a volatile storage medium.
package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/nvprefs/internal/storage"
	"github.com/ffutop/nvprefs/preferences"
)

// Store allocates slots and commits their pending writes.
type Store struct {
	mu             sync.Mutex
	flash          storage.Medium
	volatile       storage.Medium
	defaultInFlash bool

	slots map[slotKey]*slot
	order []*slot
}

// Options configures a Store.
type Options struct {
	// Flash holds persistent slots.
	Flash storage.Medium
	// Volatile holds slots that need not survive a restart.
	Volatile storage.Medium
	// DefaultInFlash is the placement used by MakeDefault.
	DefaultInFlash bool
}

// New creates a Store over already opened media. A nil medium makes every
// allocation with that placement return an unbound handle.
func New(opts Options) *Store {
	return &Store{
		flash:          opts.Flash,
		volatile:       opts.Volatile,
		defaultInFlash: opts.DefaultInFlash,
		slots:          make(map[slotKey]*slot),
	}
}

// Make returns a handle for a slot of length bytes tagged typ. Requests with
// the same length, type and placement share one slot.
func (s *Store) Make(length int, typ uint32, inFlash bool) preferences.Object {
	if length <= 0 || length > storage.MaxRecordLength {
		slog.Warn("store: invalid preference length", "type", typ, "len", length)
		return preferences.Object{}
	}
	medium := s.volatile
	if inFlash {
		medium = s.flash
	}
	if medium == nil {
		slog.Warn("store: no medium for placement", "type", typ, "inFlash", inFlash)
		return preferences.Object{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{typ: typ, length: length, inFlash: inFlash}
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{store: s, key: key, medium: medium}
		s.slots[key] = sl
		s.order = append(s.order, sl)
		slog.Debug("store: allocated preference", "type", typ, "len", length, "medium", medium.Name())
	}
	return preferences.NewObject(sl)
}

// MakeDefault is Make with the configured default placement.
func (s *Store) MakeDefault(length int, typ uint32) preferences.Object {
	return s.Make(length, typ, s.defaultInFlash)
}

// Sync writes every dirty slot to its medium in allocation order, then
// commits each medium that received writes. Slots whose bytes already
// match the medium are not rewritten. Slots that fail stay dirty.
func (s *Store) Sync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := true
	written := make(map[storage.Medium][]*slot)
	var media []storage.Medium
	for _, sl := range s.order {
		if !sl.dirty {
			continue
		}
		if !sl.uncommitted {
			current := make([]byte, sl.key.length)
			if err := sl.medium.Read(sl.key.typ, current); err == nil && bytes.Equal(current, sl.pending) {
				sl.dirty = false
				sl.pending = nil
				continue
			}
		}
		if err := sl.medium.Write(sl.key.typ, sl.pending); err != nil {
			slog.Error("store: failed to write preference", "type", sl.key.typ, "len", sl.key.length, "medium", sl.medium.Name(), "err", err)
			ok = false
			continue
		}
		sl.uncommitted = true
		if _, seen := written[sl.medium]; !seen {
			media = append(media, sl.medium)
		}
		written[sl.medium] = append(written[sl.medium], sl)
	}

	committed := 0
	for _, m := range media {
		if err := m.Commit(); err != nil {
			slog.Error("store: failed to commit medium", "medium", m.Name(), "err", err)
			ok = false
			continue
		}
		for _, sl := range written[m] {
			sl.dirty = false
			sl.uncommitted = false
			sl.pending = nil
			committed++
		}
	}
	if committed > 0 {
		slog.Debug("store: synced preferences", "count", committed)
	}
	return ok
}

// Reset drops every pending write and erases both media. Handles stay
// bound; loads fail until the slot is saved again.
func (s *Store) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sl := range s.order {
		sl.dirty = false
		sl.uncommitted = false
		sl.pending = nil
	}

	ok := true
	for _, m := range []storage.Medium{s.flash, s.volatile} {
		if m == nil {
			continue
		}
		if err := m.Erase(); err != nil {
			slog.Error("store: failed to erase medium", "medium", m.Name(), "err", err)
			ok = false
		}
	}
	slog.Info("store: preferences reset", "ok", ok)
	return ok
}

// Pending returns the number of slots with writes not yet synced.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.order {
		if sl.dirty {
			n++
		}
	}
	return n
}

// Records lists the committed records of the persistent medium.
func (s *Store) Records() ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flash == nil {
		return nil, nil
	}
	return s.flash.Records()
}

// Run calls Sync every interval until ctx is done, then syncs once more.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if !s.Sync() {
					slog.Warn("store: periodic sync failed")
				}
			}
		}
	} else {
		<-ctx.Done()
	}

	if !s.Sync() {
		slog.Error("store: final sync failed")
	}
}

// Close closes both media. Pending writes are not synced.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.flash != nil {
		errs = append(errs, s.flash.Close())
	}
	if s.volatile != nil && s.volatile != s.flash {
		errs = append(errs, s.volatile.Close())
	}
	return errors.Join(errs...)
}

var _ preferences.Preferences = (*Store)(nil)
