// Package sqlite stores registrations and audit records in a SQLite database
// through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messaging_module (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	module_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	role TEXT NOT NULL,
	activated INTEGER NOT NULL DEFAULT 1,
	subscriber_callback TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messaging_module_lookup ON messaging_module(tenant_id, event_type, role);
CREATE INDEX IF NOT EXISTS idx_messaging_module_owner ON messaging_module(tenant_id, module_id, role);

CREATE TABLE IF NOT EXISTS audit_message (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	published_by TEXT NOT NULL DEFAULT '',
	audit_date INTEGER NOT NULL,
	state TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_message_event ON audit_message(tenant_id, event_id);

CREATE TRIGGER IF NOT EXISTS trg_audit_message_no_update
BEFORE UPDATE ON audit_message
BEGIN
	SELECT RAISE(ABORT, 'audit_message is append-only: UPDATE forbidden');
END;
`

// Store implements registry.Store and audit.Writer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" yields a private in-process database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Modules(ctx context.Context, filter domain.ModuleFilter) ([]domain.MessagingModule, error) {
	q, args := store.SelectModules(filter, store.Question)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	var out []domain.MessagingModule
	for rows.Next() {
		m, err := store.ScanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Replace(ctx context.Context, key domain.ModuleKey, modules []domain.MessagingModule) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, store.DeleteModules(store.Question), store.KeyArgs(key)...); err != nil {
			return fmt.Errorf("delete modules: %w", err)
		}
		insert := store.InsertModule(store.Question)
		for _, m := range modules {
			if _, err := tx.ExecContext(ctx, insert, store.ModuleArgs(m)...); err != nil {
				return fmt.Errorf("insert module %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, key domain.ModuleKey) error {
	if _, err := s.db.ExecContext(ctx, store.DeleteModules(store.Question), store.KeyArgs(key)...); err != nil {
		return fmt.Errorf("delete modules: %w", err)
	}
	return nil
}

// SaveAuditMessage appends one audit record.
func (s *Store) SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error {
	_, err := s.db.ExecContext(ctx, store.InsertAudit(store.Question),
		msg.ID, msg.EventID, msg.EventType, msg.TenantID, msg.CorrelationID,
		msg.CreatedBy, msg.PublishedBy, msg.AuditDate.UTC().UnixNano(), string(msg.State), msg.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert audit message: %w", err)
	}
	return nil
}

// AuditMessages lists audit records matching filter, newest first.
func (s *Store) AuditMessages(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditMessage, error) {
	q, args := store.SelectAudit(filter, store.Question)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit messages: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditMessage
	for rows.Next() {
		var (
			m     domain.AuditMessage
			state string
			at    int64
		)
		if err := rows.Scan(&m.ID, &m.EventID, &m.EventType, &m.TenantID, &m.CorrelationID,
			&m.CreatedBy, &m.PublishedBy, &at, &state, &m.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan audit message: %w", err)
		}
		m.AuditDate = time.Unix(0, at).UTC()
		m.State = domain.AuditState(state)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
