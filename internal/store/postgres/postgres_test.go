package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tenantbus/internal/domain"
)

// openTestStore connects to TENANTBUS_TEST_POSTGRES_URL and isolates the test
// by tenant id.
func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	url := os.Getenv("TENANTBUS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TENANTBUS_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, "t" + uuid.NewString()[:8]
}

func TestPostgresReplaceAndDelete(t *testing.T) {
	s, tenant := openTestStore(t)
	ctx := context.Background()
	key := domain.ModuleKey{TenantID: tenant, ModuleID: "mod-search", Role: domain.RoleSubscriber}

	sub := func(eventType string) domain.MessagingModule {
		return domain.MessagingModule{
			ID: uuid.NewString(), EventType: eventType, ModuleID: "mod-search", TenantID: tenant,
			Role: domain.RoleSubscriber, Activated: true, SubscriberCallback: "/cb",
		}
	}

	require.NoError(t, s.Replace(ctx, key, []domain.MessagingModule{sub("A"), sub("B")}))
	require.NoError(t, s.Replace(ctx, key, []domain.MessagingModule{sub("A")}))

	rows, err := s.Modules(ctx, domain.ModuleFilter{TenantID: tenant, Activated: domain.Bool(true)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].EventType)

	require.NoError(t, s.Delete(ctx, key))
	rows, err = s.Modules(ctx, domain.ModuleFilter{TenantID: tenant})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgresAuditMessages(t *testing.T) {
	s, tenant := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveAuditMessage(ctx, domain.AuditMessage{
		ID: uuid.NewString(), EventID: "e1", EventType: "X", TenantID: tenant, AuditDate: at, State: domain.AuditDelivered,
	}))

	msgs, err := s.AuditMessages(ctx, domain.AuditFilter{TenantID: tenant})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.AuditDelivered, msgs[0].State)
	assert.True(t, at.Equal(msgs[0].AuditDate))
}
