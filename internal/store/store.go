// Package store holds the SQL shared by the relational registry and audit
// backends. Dialects differ only in placeholder syntax and timestamp columns.
package store

import (
	"strconv"
	"strings"

	"github.com/drblury/tenantbus/internal/domain"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Question is the sqlite placeholder.
func Question(int) string { return "?" }

// Dollar is the postgres placeholder.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// ModuleColumns is the column order ScanModule expects.
const ModuleColumns = "id, event_type, module_id, tenant_id, role, activated, subscriber_callback"

// Scanner is satisfied by *sql.Row(s) and pgx.Row(s).
type Scanner interface {
	Scan(dest ...any) error
}

// ScanModule reads one messaging_module row.
func ScanModule(s Scanner) (domain.MessagingModule, error) {
	var m domain.MessagingModule
	var role string
	if err := s.Scan(&m.ID, &m.EventType, &m.ModuleID, &m.TenantID, &role, &m.Activated, &m.SubscriberCallback); err != nil {
		return domain.MessagingModule{}, err
	}
	m.Role = domain.Role(role)
	return m, nil
}

// ModuleArgs returns the values of m in ModuleColumns order.
func ModuleArgs(m domain.MessagingModule) []any {
	return []any{m.ID, m.EventType, m.ModuleID, m.TenantID, string(m.Role), m.Activated, m.SubscriberCallback}
}

// InsertModule is the insert statement for one row.
func InsertModule(ph Placeholder) string {
	return "INSERT INTO messaging_module (" + ModuleColumns + ") VALUES (" + placeholders(ph, 1, 7) + ")"
}

// DeleteModules is the delete statement for a ModuleKey (tenant, module, role).
func DeleteModules(ph Placeholder) string {
	return "DELETE FROM messaging_module WHERE tenant_id = " + ph(1) + " AND module_id = " + ph(2) + " AND role = " + ph(3)
}

// KeyArgs returns the arguments of DeleteModules.
func KeyArgs(key domain.ModuleKey) []any {
	return []any{key.TenantID, key.ModuleID, string(key.Role)}
}

// SelectModules builds the filtered select.
func SelectModules(f domain.ModuleFilter, ph Placeholder) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, column+" = "+ph(len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id", f.TenantID)
	}
	if f.EventType != "" {
		add("event_type", f.EventType)
	}
	if f.ModuleID != "" {
		add("module_id", f.ModuleID)
	}
	if f.Role != "" {
		add("role", string(f.Role))
	}
	if f.Activated != nil {
		add("activated", *f.Activated)
	}
	if f.Callback != "" {
		add("subscriber_callback", f.Callback)
	}

	q := "SELECT " + ModuleColumns + " FROM messaging_module"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	return q + " ORDER BY tenant_id, event_type, module_id, role", args
}

// AuditColumns is the column order of audit_message.
const AuditColumns = "id, event_id, event_type, tenant_id, correlation_id, created_by, published_by, audit_date, state, error_message"

// InsertAudit is the insert statement for one audit record.
func InsertAudit(ph Placeholder) string {
	return "INSERT INTO audit_message (" + AuditColumns + ") VALUES (" + placeholders(ph, 1, 10) + ")"
}

// SelectAudit builds the filtered audit select, newest first.
func SelectAudit(f domain.AuditFilter, ph Placeholder) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		conds = append(conds, "tenant_id = "+ph(len(args)))
	}
	if f.EventID != "" {
		args = append(args, f.EventID)
		conds = append(conds, "event_id = "+ph(len(args)))
	}
	q := "SELECT " + AuditColumns + " FROM audit_message"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY audit_date DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT " + ph(len(args))
	}
	return q, args
}

func placeholders(ph Placeholder, from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(from + i)
	}
	return strings.Join(parts, ", ")
}
