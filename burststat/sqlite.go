// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build sqlite

package burststat

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists burst telemetry to a sqlite database.
type SQLiteRecorder struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteRecorder returns a recorder writing to the database at path.
// Init must be called before recording.
func NewSQLiteRecorder(path string) *SQLiteRecorder {
	return &SQLiteRecorder{path: path}
}

func (s *SQLiteRecorder) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bursts (
			burst INTEGER PRIMARY KEY,
			fired INTEGER NOT NULL,
			processed INTEGER NOT NULL,
			in_refractory INTEGER NOT NULL,
			synapses INTEGER NOT NULL,
			total_secs REAL NOT NULL,
			backend TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteRecorder) Record(ctx context.Context, st Stat) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO bursts (burst, fired, processed, in_refractory, synapses, total_secs, backend)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(burst) DO UPDATE SET
			fired = excluded.fired,
			processed = excluded.processed,
			in_refractory = excluded.in_refractory,
			synapses = excluded.synapses,
			total_secs = excluded.total_secs,
			backend = excluded.backend
	`, st.Burst, st.Fired, st.Processed, st.InRefractory, st.Synapses, st.TotalSecs, st.Backend)
	return err
}

func (s *SQLiteRecorder) Recent(ctx context.Context, n int) ([]Stat, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT burst, fired, processed, in_refractory, synapses, total_secs, backend
		FROM (
			SELECT * FROM bursts ORDER BY burst DESC LIMIT ?
		) ORDER BY burst ASC
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stat
	for rows.Next() {
		var st Stat
		if err := rows.Scan(&st.Burst, &st.Fired, &st.Processed, &st.InRefractory,
			&st.Synapses, &st.TotalSecs, &st.Backend); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteRecorder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteRecorder) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("recorder is not initialized")
	}
	return s.db, nil
}
