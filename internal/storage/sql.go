// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ffutop/nvprefs/preferences"
	_ "modernc.org/sqlite"
)

// SQLMedium emulates an NVM partition with a SQLite table.
// Writes are held until Commit, which upserts them in one transaction.
type SQLMedium struct {
	path    string
	db      *sql.DB
	pending map[uint32][]byte
}

// NewSQLMedium creates a new SQLMedium backed by the database file at path.
func NewSQLMedium(path string) *SQLMedium {
	return &SQLMedium{path: path}
}

func (s *SQLMedium) Name() string { return "sqlite:" + s.path }

// Open connects to the database and creates the table if needed.
func (s *SQLMedium) Open() error {
	if strings.TrimSpace(s.path) == "" {
		return fmt.Errorf("sqlite path is required")
	}
	dsn := s.path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("failed to init schema: %w", err)
	}
	s.pending = make(map[uint32][]byte)
	return nil
}

func (s *SQLMedium) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS preferences (
		type INTEGER PRIMARY KEY,
		length INTEGER NOT NULL,
		data BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLMedium) Read(typ uint32, dst []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	data, ok := s.pending[typ]
	if !ok {
		var length int
		err := s.db.QueryRow("SELECT length, data FROM preferences WHERE type = ?", int64(typ)).Scan(&length, &data)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: type 0x%08x", preferences.ErrNotFound, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to query preference: %w", err)
		}
		if length != len(data) {
			return fmt.Errorf("%w: type 0x%08x row declares %d bytes, holds %d", preferences.ErrLengthMismatch, typ, length, len(data))
		}
	}
	if len(data) != len(dst) {
		return fmt.Errorf("%w: type 0x%08x stored %d bytes, requested %d", preferences.ErrLengthMismatch, typ, len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

func (s *SQLMedium) Write(typ uint32, data []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(data) == 0 || len(data) > MaxRecordLength {
		return fmt.Errorf("%w: record of %d bytes", preferences.ErrLengthMismatch, len(data))
	}
	s.pending[typ] = append([]byte(nil), data...)
	return nil
}

// Commit upserts every pending record in a single transaction. On failure
// nothing is applied and the records stay pending.
func (s *SQLMedium) Commit() error {
	if s.db == nil {
		return ErrClosed
	}
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	query := "INSERT INTO preferences (type, length, data) VALUES (?, ?, ?) ON CONFLICT(type) DO UPDATE SET length=excluded.length, data=excluded.data"
	for typ, data := range s.pending {
		if _, err := tx.Exec(query, int64(typ), len(data), data); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to persist type 0x%08x: %w", typ, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	clear(s.pending)
	return nil
}

func (s *SQLMedium) Erase() error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec("DELETE FROM preferences"); err != nil {
		return fmt.Errorf("failed to erase preferences: %w", err)
	}
	clear(s.pending)
	return nil
}

func (s *SQLMedium) Records() ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query("SELECT type, data FROM preferences")
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	byType := make(map[uint32][]byte)
	for rows.Next() {
		var typ int64
		var data []byte
		if err := rows.Scan(&typ, &data); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		byType[uint32(typ)] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for typ, data := range s.pending {
		byType[typ] = append([]byte(nil), data...)
	}

	recs := make([]Record, 0, len(byType))
	for typ, data := range byType {
		recs = append(recs, Record{Type: typ, Data: data})
	}
	sortRecords(recs)
	return recs, nil
}

// Close drops pending records and closes the database.
func (s *SQLMedium) Close() error {
	s.pending = nil
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

var _ Medium = (*SQLMedium)(nil)
