package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	"github.com/drblury/tenantbus/internal/registry"
	configpkg "github.com/drblury/tenantbus/internal/runtime/config"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	"github.com/drblury/tenantbus/internal/security"
)

func doRequest(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, jsonpkg.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPIHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := doRequest(t, f.svc.API(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.Metrics().Outcome(itemCreated, domain.AuditDelivered)

	rec := doRequest(t, f.svc.API(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantbus_delivery")

	off := newFixture(t, func(conf *configpkg.Config, _ *ServiceDependencies) {
		conf.MetricsEnabled = false
	})
	rec = doRequest(t, off.svc.API(), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIRegisterAndListModules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := f.svc.API()

	rec := doRequest(t, h, http.MethodPost, "/pubsub/modules", `{
		"moduleId": "mod-search",
		"subscriptions": [{"eventType": "ITEM_CREATED", "callback": "/search/items"}]
	}`, map[string]string{security.HeaderTenant: "diku"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	reg := decodeBody[registry.Registration](t, rec)
	require.Len(t, reg.Subscribers, 1)
	assert.Equal(t, "diku", reg.Subscribers[0].TenantID)

	rec = doRequest(t, h, http.MethodGet, "/pubsub/modules?tenantId=diku&role=SUBSCRIBER&activated=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mods := decodeBody[[]domain.MessagingModule](t, rec)
	require.Len(t, mods, 1)
	assert.Equal(t, "/search/items", mods[0].SubscriberCallback)

	rec = doRequest(t, h, http.MethodGet, "/pubsub/modules?tenantId=nobody", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAPIRegisterModuleFromYAML(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/pubsub/modules", strings.NewReader(`
tenantId: diku
moduleId: mod-inventory
publications:
  - ITEM_CREATED
`))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	f.svc.API().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"folio.Default.diku.ITEM_CREATED"}, f.topics.created())
}

func TestAPIRegisterModuleValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := f.svc.API()

	rec := doRequest(t, h, http.MethodPost, "/pubsub/modules", `{"moduleId": "mod-search"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantId")

	rec = doRequest(t, h, http.MethodPost, "/pubsub/modules", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON body")
}

func TestAPIUnregisterModule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerPair(t, itemCreated, "/callback")
	h := f.svc.API()

	rec := doRequest(t, h, http.MethodDelete, "/pubsub/modules/mod-search?role=SUBSCRIBER", "", map[string]string{security.HeaderTenant: "diku"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	mods, err := f.svc.Modules(context.Background(), domain.ModuleFilter{TenantID: "diku", Role: domain.RoleSubscriber})
	require.NoError(t, err)
	assert.Empty(t, mods)

	rec = doRequest(t, h, http.MethodDelete, "/pubsub/modules/mod-search?role=OWNER&tenantId=diku", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIPublish(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerPair(t, itemCreated, "/callback")
	h := f.svc.API()

	rec := doRequest(t, h, http.MethodPost, "/pubsub/publish", `{
		"id": "ev-1",
		"eventType": "ITEM_CREATED",
		"eventMetadata": {"publishedBy": "mod-inventory", "eventTTL": 1},
		"eventPayload": "{}"
	}`, map[string]string{security.HeaderTenant: "diku"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":"ev-1"}`, rec.Body.String())
	require.Len(t, f.publisher.messages(), 1)

	rec = doRequest(t, h, http.MethodPost, "/pubsub/publish", `{
		"id": "ev-2",
		"eventType": "ITEM_CREATED",
		"eventMetadata": {"tenantId": "diku", "publishedBy": "mod-stranger"}
	}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "not registered")
}

func TestAPIConsumersAndStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerPair(t, itemCreated, "/callback")
	require.NoError(t, f.svc.StartConsumers(context.Background()))
	f.svc.Metrics().Accepted(itemCreated, 1)

	rec := doRequest(t, f.svc.API(), http.MethodGet, "/pubsub/consumers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snaps := decodeBody[[]ingest.Snapshot](t, rec)
	require.Len(t, snaps, 1)
	assert.Equal(t, "ITEM_CREATED.mod-pubsub", snaps[0].Group)

	rec = doRequest(t, f.svc.API(), http.MethodGet, "/pubsub/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[MetricsSnapshot](t, rec)
	assert.EqualValues(t, 1, stats.EventTypes[itemCreated].Accepted)
}

func TestAPIAudit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registerPair(t, itemCreated, "/callback")
	_, err := f.svc.Publish(context.Background(), testEvent("ev-1", itemCreated), security.ConnectionParams{})
	require.NoError(t, err)

	rec := doRequest(t, f.svc.API(), http.MethodGet, "/pubsub/audit?eventId=ev-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.AuditMessage](t, rec), 2)

	rec = doRequest(t, f.svc.API(), http.MethodGet, "/pubsub/audit?limit=many", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noReader := newFixture(t, func(_ *configpkg.Config, deps *ServiceDependencies) {
		deps.AuditReader = nil
	})
	rec = doRequest(t, noReader.svc.API(), http.MethodGet, "/pubsub/audit", "", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAPIInitTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := doRequest(t, f.svc.API(), http.MethodPost, "/pubsub/tenants/init", "", map[string]string{
		security.HeaderTenant:   "diku",
		security.HeaderOkapiURL: "http://gateway:9130",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, f.identity.provisioned, 1)
	assert.Equal(t, "http://gateway:9130", f.identity.provisioned[0].OkapiURL)

	f.identity.tokenErr = &security.StatusError{Status: http.StatusUnauthorized}
	rec = doRequest(t, f.svc.API(), http.MethodPost, "/pubsub/tenants/init", "", map[string]string{security.HeaderTenant: "diku"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPICORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(conf *configpkg.Config, _ *ServiceDependencies) {
		conf.CORSAllowedOrigins = []string{"https://folio.example"}
	})
	rec := doRequest(t, f.svc.API(), http.MethodGet, "/health", "", map[string]string{"Origin": "https://folio.example"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://folio.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
