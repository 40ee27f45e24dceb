package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/tenantbus/internal/domain"
)

func TestSelectModules(t *testing.T) {
	q, args := SelectModules(domain.ModuleFilter{}, Question)
	assert.NotContains(t, q, "WHERE")
	assert.Empty(t, args)

	q, args = SelectModules(domain.ModuleFilter{
		TenantID:  "diku",
		EventType: "ITEM_CREATED",
		Role:      domain.RoleSubscriber,
		Activated: domain.Bool(true),
	}, Dollar)
	assert.Contains(t, q, "WHERE tenant_id = $1 AND event_type = $2 AND role = $3 AND activated = $4")
	assert.Equal(t, []any{"diku", "ITEM_CREATED", "SUBSCRIBER", true}, args)
}

func TestStatements(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO messaging_module ("+ModuleColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		InsertModule(Dollar))
	assert.Equal(t,
		"DELETE FROM messaging_module WHERE tenant_id = ? AND module_id = ? AND role = ?",
		DeleteModules(Question))
	assert.Contains(t, InsertAudit(Question), "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
}

func TestSelectAudit(t *testing.T) {
	q, args := SelectAudit(domain.AuditFilter{EventID: "e1", Limit: 10}, Dollar)
	assert.Contains(t, q, "WHERE event_id = $1")
	assert.Contains(t, q, "LIMIT $2")
	assert.Equal(t, []any{"e1", 10}, args)
}
