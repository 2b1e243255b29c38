package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notifier/internal/model"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS notification_types (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS notification_events (
		id         BIGSERIAL PRIMARY KEY,
		type_id    BIGINT NOT NULL REFERENCES notification_types(id),
		actor_id   BIGINT NOT NULL CHECK (actor_id > 0),
		object_id  BIGINT NOT NULL CHECK (object_id > 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notification_recipients (
		event_id BIGINT NOT NULL REFERENCES notification_events(id),
		user_id  BIGINT NOT NULL CHECK (user_id > 0),
		read_at  TIMESTAMPTZ NULL,
		PRIMARY KEY (event_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_recipients_user_read
		ON notification_recipients (user_id, read_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_events_created
		ON notification_events (created_at DESC, id DESC)`,
}

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS notification_types (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS notification_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type_id    INTEGER NOT NULL REFERENCES notification_types(id),
		actor_id   INTEGER NOT NULL CHECK (actor_id > 0),
		object_id  INTEGER NOT NULL CHECK (object_id > 0),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notification_recipients (
		event_id INTEGER NOT NULL REFERENCES notification_events(id),
		user_id  INTEGER NOT NULL CHECK (user_id > 0),
		read_at  TIMESTAMP NULL,
		PRIMARY KEY (event_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_recipients_user_read
		ON notification_recipients (user_id, read_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_events_created
		ON notification_events (created_at DESC, id DESC)`,
}

// Migrate creates the schema if missing and seeds the type enumeration. It
// is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	var stmts []string
	switch s.Dialect() {
	case DriverPostgres:
		stmts = postgresSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("no schema for driver %q", s.Dialect())
	}

	for _, stmt := range stmts {
		if _, err := s.GetDB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`INSERT INTO notification_types (name) VALUES (?) ON CONFLICT (name) DO NOTHING`)
		for _, name := range model.NotificationTypes {
			if _, err := tx.ExecContext(ctx, q, name); err != nil {
				return fmt.Errorf("seed type %s: %w", name, err)
			}
		}
		return nil
	})
}
