// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ffutop/nvprefs/internal/storage"
	"github.com/ffutop/nvprefs/preferences"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingMedium wraps a medium, counts writes and commits and can be told
// to fail writes for one type or every commit.
type countingMedium struct {
	storage.Medium
	writes     map[uint32]int
	commits    int
	failType   uint32
	failWrite  bool
	failCommit bool
}

func newCountingMedium(m storage.Medium) *countingMedium {
	return &countingMedium{Medium: m, writes: make(map[uint32]int)}
}

func (m *countingMedium) Write(typ uint32, data []byte) error {
	if m.failWrite && typ == m.failType {
		return errors.New("injected write failure")
	}
	m.writes[typ]++
	return m.Medium.Write(typ, data)
}

func (m *countingMedium) Commit() error {
	if m.failCommit {
		return errors.New("injected commit failure")
	}
	m.commits++
	return m.Medium.Commit()
}

func newTestStore(t *testing.T) (*Store, *countingMedium, *countingMedium) {
	t.Helper()
	flash := newCountingMedium(storage.NewMemoryMedium())
	volatile := newCountingMedium(storage.NewMemoryMedium())
	require.NoError(t, flash.Open())
	require.NoError(t, volatile.Open())
	s := New(Options{Flash: flash, Volatile: volatile, DefaultInFlash: true})
	t.Cleanup(func() { s.Close() })
	return s, flash, volatile
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.bin")

	open := func() *Store {
		flash := storage.NewMmapMedium(path, 4096)
		require.NoError(t, flash.Open())
		volatile := storage.NewMemoryMedium()
		require.NoError(t, volatile.Open())
		return New(Options{Flash: flash, Volatile: volatile, DefaultInFlash: true})
	}

	s := open()
	o := s.Make(4, 0x1001, true)
	v := uint32(42)
	require.True(t, preferences.Save(o, &v))
	require.True(t, s.Sync())
	require.NoError(t, s.Close())

	s = open()
	defer s.Close()
	o = s.Make(4, 0x1001, true)
	var got uint32
	require.True(t, preferences.Load(o, &got))
	assert.Equal(t, uint32(42), got)
}

func TestStore_UnsyncedWritesLostOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.bin")

	flash := storage.NewFileMedium(path, 4096)
	require.NoError(t, flash.Open())
	s := New(Options{Flash: flash})
	v := uint32(7)
	require.True(t, preferences.Save(s.Make(4, 0x1001, true), &v))
	require.NoError(t, s.Close())

	flash = storage.NewFileMedium(path, 4096)
	require.NoError(t, flash.Open())
	s = New(Options{Flash: flash})
	defer s.Close()
	var got uint32
	assert.False(t, preferences.Load(s.Make(4, 0x1001, true), &got))
}

func TestStore_VolatileWritesThrough(t *testing.T) {
	s, flash, volatile := newTestStore(t)

	o := s.Make(1, 0x2002, false)
	flag := true
	require.True(t, preferences.Save(o, &flag))
	assert.Equal(t, 1, volatile.writes[0x2002], "volatile save reaches the medium without sync")
	assert.Zero(t, s.Pending())

	var got bool
	require.True(t, preferences.Load(o, &got))
	assert.True(t, got)
	assert.Zero(t, flash.commits)
}

func TestStore_FlashLoadSeesPendingBeforeSync(t *testing.T) {
	s, flash, _ := newTestStore(t)

	o := s.Make(4, 0x1001, true)
	v := uint32(42)
	require.True(t, preferences.Save(o, &v))
	assert.Zero(t, flash.writes[0x1001], "flash save is staged")
	assert.Equal(t, 1, s.Pending())

	var got uint32
	require.True(t, preferences.Load(o, &got))
	assert.Equal(t, uint32(42), got)
}

func TestStore_LoadWithoutData(t *testing.T) {
	s, _, _ := newTestStore(t)
	got := uint32(5)
	assert.False(t, preferences.Load(s.Make(4, 0x1001, true), &got))
	assert.False(t, preferences.Load(s.Make(4, 0x1001, false), &got))
	assert.Equal(t, uint32(5), got)
}

func TestStore_LengthDiscipline(t *testing.T) {
	s, _, _ := newTestStore(t)
	o := s.Make(4, 0x1001, true)

	assert.False(t, o.SaveBytes([]byte{1, 2, 3}))
	assert.False(t, o.SaveBytes([]byte{1, 2, 3, 4, 5}))
	wide := uint64(1)
	assert.False(t, preferences.Save(o, &wide))
	assert.Zero(t, s.Pending())

	require.True(t, o.SaveBytes([]byte{1, 2, 3, 4}))
	assert.False(t, o.LoadBytes(make([]byte, 2)))
}

func TestStore_InvalidAllocation(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.False(t, s.Make(0, 1, true).Bound())
	assert.False(t, s.Make(-1, 1, true).Bound())
	assert.False(t, s.Make(storage.MaxRecordLength+1, 1, true).Bound())

	flash := storage.NewMemoryMedium()
	require.NoError(t, flash.Open())
	noVolatile := New(Options{Flash: flash})
	defer noVolatile.Close()
	assert.True(t, noVolatile.Make(4, 1, true).Bound())
	assert.False(t, noVolatile.Make(4, 1, false).Bound())
}

func TestStore_SharedSlot(t *testing.T) {
	s, _, _ := newTestStore(t)

	a := s.Make(4, 0x1001, true)
	b := s.Make(4, 0x1001, true)
	v := uint32(0xCAFE)
	require.True(t, preferences.Save(a, &v))

	var got uint32
	require.True(t, preferences.Load(b, &got))
	assert.Equal(t, v, got)
	assert.Equal(t, 1, s.Pending())
	assert.Len(t, s.order, 1)

	// Different length or placement is a different slot.
	s.Make(8, 0x1001, true)
	s.Make(4, 0x1001, false)
	assert.Len(t, s.order, 3)
}

func TestStore_MakeDefaultPlacement(t *testing.T) {
	for _, inFlash := range []bool{true, false} {
		flash := newCountingMedium(storage.NewMemoryMedium())
		volatile := newCountingMedium(storage.NewMemoryMedium())
		require.NoError(t, flash.Open())
		require.NoError(t, volatile.Open())
		s := New(Options{Flash: flash, Volatile: volatile, DefaultInFlash: inFlash})

		v := uint16(3)
		require.True(t, preferences.Save(s.MakeDefault(2, 0x4004), &v))
		if inFlash {
			assert.Equal(t, 1, s.Pending())
			assert.Zero(t, volatile.writes[0x4004])
		} else {
			assert.Zero(t, s.Pending())
			assert.Equal(t, 1, volatile.writes[0x4004])
		}
		s.Close()
	}
}

func TestStore_SyncIdempotent(t *testing.T) {
	s, flash, _ := newTestStore(t)

	v := uint32(1)
	require.True(t, preferences.Save(s.Make(4, 0x1001, true), &v))
	require.True(t, s.Sync())
	assert.Equal(t, 1, flash.writes[0x1001])
	assert.Equal(t, 1, flash.commits)

	require.True(t, s.Sync())
	assert.Equal(t, 1, flash.writes[0x1001], "second sync has nothing to write")
	assert.Equal(t, 1, flash.commits)
	assert.Zero(t, s.Pending())
}

func TestStore_SyncSkipsUnchanged(t *testing.T) {
	s, flash, _ := newTestStore(t)
	o := s.Make(4, 0x1001, true)

	v := uint32(9)
	require.True(t, preferences.Save(o, &v))
	require.True(t, s.Sync())

	// Same bytes again
	require.True(t, preferences.Save(o, &v))
	assert.Equal(t, 1, s.Pending())
	require.True(t, s.Sync())
	assert.Equal(t, 1, flash.writes[0x1001])
	assert.Equal(t, 1, flash.commits)
	assert.Zero(t, s.Pending())
}

func TestStore_SyncPartialFailure(t *testing.T) {
	s, flash, _ := newTestStore(t)
	flash.failType = 0x2002
	flash.failWrite = true

	good := s.Make(4, 0x1001, true)
	bad := s.Make(4, 0x2002, true)
	v := uint32(1)
	require.True(t, preferences.Save(good, &v))
	require.True(t, preferences.Save(bad, &v))

	assert.False(t, s.Sync())
	assert.Equal(t, 1, s.Pending(), "failed slot stays dirty")
	assert.Equal(t, 1, flash.writes[0x1001], "other slots still written")

	// Retried on the next sync once the medium recovers.
	flash.failWrite = false
	assert.True(t, s.Sync())
	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, flash.writes[0x2002])

	var got uint32
	require.NoError(t, flash.Read(0x2002, make([]byte, 4)))
	require.True(t, preferences.Load(bad, &got))
	assert.Equal(t, uint32(1), got)
}

func TestStore_SyncCommitFailure(t *testing.T) {
	s, flash, _ := newTestStore(t)
	flash.failCommit = true

	v := uint32(1)
	require.True(t, preferences.Save(s.Make(4, 0x1001, true), &v))
	assert.False(t, s.Sync())
	assert.Equal(t, 1, s.Pending())

	flash.failCommit = false
	assert.True(t, s.Sync())
	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, flash.commits)
}

func TestStore_SyncOrder(t *testing.T) {
	flash := &orderMedium{Medium: storage.NewMemoryMedium()}
	require.NoError(t, flash.Open())
	s := New(Options{Flash: flash})
	defer s.Close()

	for _, typ := range []uint32{30, 10, 20} {
		s.Make(1, typ, true).SaveBytes([]byte{byte(typ)})
	}
	require.True(t, s.Sync())
	assert.Equal(t, []uint32{30, 10, 20}, flash.order)
}

type orderMedium struct {
	storage.Medium
	order []uint32
}

func (m *orderMedium) Write(typ uint32, data []byte) error {
	m.order = append(m.order, typ)
	return m.Medium.Write(typ, data)
}

func TestStore_Reset(t *testing.T) {
	s, _, _ := newTestStore(t)

	persisted := s.Make(4, 0x1001, true)
	staged := s.Make(4, 0x3003, true)
	vol := s.Make(1, 0x2002, false)
	v := uint32(42)
	require.True(t, preferences.Save(persisted, &v))
	require.True(t, s.Sync())
	require.True(t, preferences.Save(staged, &v))
	flag := true
	require.True(t, preferences.Save(vol, &flag))

	require.True(t, s.Reset())
	assert.Zero(t, s.Pending())

	var got uint32
	assert.False(t, preferences.Load(persisted, &got))
	assert.False(t, preferences.Load(staged, &got))
	assert.False(t, preferences.Load(vol, &flag))

	recs, err := s.Records()
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Handles stay usable.
	require.True(t, preferences.Save(persisted, &v))
	require.True(t, s.Sync())
	require.True(t, preferences.Load(persisted, &got))
	assert.Equal(t, uint32(42), got)
}

func TestStore_Records(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.Make(2, 0x20, true).SaveBytes([]byte{1, 2})
	s.Make(1, 0x10, true).SaveBytes([]byte{3})
	s.Make(1, 0x30, false).SaveBytes([]byte{4})

	recs, err := s.Records()
	require.NoError(t, err)
	assert.Empty(t, recs, "nothing committed yet")

	require.True(t, s.Sync())
	recs, err = s.Records()
	require.NoError(t, err)
	assert.Equal(t, []storage.Record{
		{Type: 0x10, Data: []byte{3}},
		{Type: 0x20, Data: []byte{1, 2}},
	}, recs)
}

func TestStore_RunSyncsOnCancel(t *testing.T) {
	s, flash, _ := newTestStore(t)
	v := uint32(1)
	require.True(t, preferences.Save(s.Make(4, 0x1001, true), &v))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, time.Hour)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, flash.commits)
}

func TestStore_RunPeriodicSync(t *testing.T) {
	s, _, _ := newTestStore(t)
	o := s.Make(4, 0x1001, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, 10*time.Millisecond)
	}()

	v := uint32(1)
	require.True(t, preferences.Save(o, &v))
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
