// Package postgres stores registrations and audit records in PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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
	activated BOOLEAN NOT NULL DEFAULT TRUE,
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
	audit_date TIMESTAMPTZ NOT NULL,
	state TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_message_event ON audit_message(tenant_id, event_id);
`

// Store implements registry.Store and audit.Writer on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and applies the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool without touching the schema.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Modules(ctx context.Context, filter domain.ModuleFilter) ([]domain.MessagingModule, error) {
	q, args := store.SelectModules(filter, store.Dollar)
	rows, err := s.pool.Query(ctx, q, args...)
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
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, store.DeleteModules(store.Dollar), store.KeyArgs(key)...); err != nil {
			return fmt.Errorf("delete modules: %w", err)
		}
		if len(modules) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		insert := store.InsertModule(store.Dollar)
		for _, m := range modules {
			batch.Queue(insert, store.ModuleArgs(m)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert modules: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, key domain.ModuleKey) error {
	if _, err := s.pool.Exec(ctx, store.DeleteModules(store.Dollar), store.KeyArgs(key)...); err != nil {
		return fmt.Errorf("delete modules: %w", err)
	}
	return nil
}

func (s *Store) SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error {
	_, err := s.pool.Exec(ctx, store.InsertAudit(store.Dollar),
		msg.ID, msg.EventID, msg.EventType, msg.TenantID, msg.CorrelationID,
		msg.CreatedBy, msg.PublishedBy, msg.AuditDate.UTC(), string(msg.State), msg.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert audit message: %w", err)
	}
	return nil
}

func (s *Store) AuditMessages(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditMessage, error) {
	q, args := store.SelectAudit(filter, store.Dollar)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit messages: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditMessage
	for rows.Next() {
		var (
			m     domain.AuditMessage
			state string
		)
		if err := rows.Scan(&m.ID, &m.EventID, &m.EventType, &m.TenantID, &m.CorrelationID,
			&m.CreatedBy, &m.PublishedBy, &m.AuditDate, &state, &m.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan audit message: %w", err)
		}
		m.AuditDate = m.AuditDate.UTC()
		m.State = domain.AuditState(state)
		out = append(out, m)
	}
	return out, rows.Err()
}
