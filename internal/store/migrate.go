package store

import (
	"context"
	"fmt"
)

// schema is applied on startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS classrooms (
		id   TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS class_sessions (
		id            TEXT PRIMARY KEY,
		classroom_id  TEXT NOT NULL REFERENCES classrooms(id) ON DELETE CASCADE,
		day           TEXT NOT NULL,
		start_time    TEXT NOT NULL DEFAULT '',
		end_time      TEXT NOT NULL DEFAULT '',
		start_time_24 TEXT,
		end_time_24   TEXT,
		subject       TEXT,
		position      INT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS class_sessions_classroom_idx ON class_sessions (classroom_id, position)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		class_code   TEXT NOT NULL,
		student_id   TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (class_code, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id           TEXT PRIMARY KEY,
		class_code   TEXT NOT NULL,
		student_id   TEXT NOT NULL,
		date         TEXT NOT NULL,
		subject      TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		is_late      BOOLEAN NOT NULL DEFAULT FALSE,
		occurred_at  TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		proof_ref    TEXT NOT NULL DEFAULT '',
		excuse       TEXT NOT NULL DEFAULT '',
		source       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (class_code, student_id, date, subject)
	)`,
}

// Migrate creates the tables used by the attendance repository.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
