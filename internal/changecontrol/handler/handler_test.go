package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/audit"
	"steward/internal/catalog"
	"steward/internal/changecontrol/service"
	"steward/internal/docstore/memory"
	"steward/internal/platform/metrics"
	id "steward/pkg/domain"
	"steward/pkg/testutil"
)

var (
	maker = id.Principal{Email: "alice@x", Name: "Alice", Role: id.RoleMaker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainPricing, catalog.DomainServices}, DefaultDomain: catalog.DomainPricing}
	checker = id.Principal{Email: "bob@x", Name: "Bob", Role: id.RoleChecker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainPricing, catalog.DomainAudit}}
	fxMaker = id.Principal{Email: "fx@x", Name: "Fx", Role: id.RoleMaker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainFX}, DefaultDomain: catalog.DomainFX}
	administrator = id.Principal{Email: "root@x", Name: "Root", Role: id.RoleAdministrator, TenantID: "acme"}
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New(memory.WithAppendOnly(audit.DefaultPath))
	cat, err := catalog.New(catalog.Defaults()...)
	require.NoError(t, err)
	recorder, err := audit.NewRecorder(store)
	require.NoError(t, err)
	reader, err := audit.NewReader(store)
	require.NoError(t, err)
	svc, err := service.New(store, cat, recorder, service.WithAuditReader(reader))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(svc, logger, metrics.New(prometheus.NewRegistry()))
	r := chi.NewRouter()
	r.Route("/api", h.Register)
	return r
}

func do(t *testing.T, router http.Handler, p id.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.WithPrincipal(testutil.NewJSONRequest(t, method, path, body), p)
	return testutil.DoRequest(router, req)
}

func decodeDocument(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	return *testutil.UnmarshalResponse[map[string]any](t, rr)
}

func TestApprovalLifecycleOverHTTP(t *testing.T) {
	router := newRouter(t)

	rr := do(t, router, maker, http.MethodPost, "/api/records/pricing", map[string]any{"name": "Base", "rate": 0.5})
	testutil.RequireStatus(t, rr, http.StatusCreated)
	created := decodeDocument(t, rr)
	recordID, _ := created["id"].(string)
	require.NotEmpty(t, recordID)
	assert.Equal(t, "Pending", created["status"])
	assert.Equal(t, "alice@x", created["makerEmail"])

	testutil.Then(t, "the maker cannot approve their own change", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodPost, "/api/records/pricing/"+recordID+"/approve", nil)
		testutil.RequireError(t, rr, http.StatusForbidden, "guard_violation")
	})

	testutil.Then(t, "a checker approves it", func(t *testing.T) {
		rr := do(t, router, checker, http.MethodPost, "/api/records/pricing/"+recordID+"/approve", nil)
		testutil.RequireStatus(t, rr, http.StatusOK)
		approved := decodeDocument(t, rr)
		assert.Equal(t, "Approved", approved["status"])
		assert.Equal(t, "bob@x", approved["checkerEmail"])
	})

	testutil.Then(t, "an edit reopens it for approval", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodPut, "/api/records/pricing/"+recordID, map[string]any{"name": "Base", "rate": 0.75})
		testutil.RequireStatus(t, rr, http.StatusOK)
		assert.Equal(t, "Pending", decodeDocument(t, rr)["status"])
	})

	testutil.Then(t, "the record can be read back and listed", func(t *testing.T) {
		rr := do(t, router, checker, http.MethodGet, "/api/records/pricing/"+recordID, nil)
		testutil.RequireStatus(t, rr, http.StatusOK)
		assert.Equal(t, 0.75, decodeDocument(t, rr)["rate"])

		rr = do(t, router, checker, http.MethodGet, "/api/records/pricing", nil)
		list := testutil.UnmarshalResponse[recordListResponse](t, rr)
		assert.Len(t, list.Records, 1)
	})

	testutil.Then(t, "a checker rejects it and the maker deletes it", func(t *testing.T) {
		rr := do(t, router, checker, http.MethodPost, "/api/records/pricing/"+recordID+"/reject", nil)
		assert.Equal(t, "Rejected", decodeDocument(t, rr)["status"])

		rr = do(t, router, maker, http.MethodDelete, "/api/records/pricing/"+recordID, nil)
		testutil.RequireStatus(t, rr, http.StatusNoContent)
		rr = do(t, router, maker, http.MethodGet, "/api/records/pricing/"+recordID, nil)
		testutil.RequireError(t, rr, http.StatusNotFound, "not_found")
	})
}

func TestRecordErrors(t *testing.T) {
	router := newRouter(t)

	t.Run("missing required field", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodPost, "/api/records/pricing", map[string]any{"name": "Base"})
		testutil.RequireError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("domain outside the principal's grant", func(t *testing.T) {
		rr := do(t, router, fxMaker, http.MethodGet, "/api/records/pricing", nil)
		testutil.RequireError(t, rr, http.StatusForbidden, "guard_violation")
	})

	t.Run("unknown entity type", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodGet, "/api/records/widgets", nil)
		testutil.RequireError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := testutil.WithPrincipal(testutil.NewRequestWithBody(t, http.MethodPost, "/api/records/pricing", "{"), maker)
		rr := testutil.DoRequest(router, req)
		testutil.RequireError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("missing principal", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/records/pricing"))
		testutil.RequireError(t, rr, http.StatusInternalServerError, "internal_error")
	})
}

func TestInitialize(t *testing.T) {
	router := newRouter(t)
	body := map[string]any{"records": []map[string]any{
		{"name": "North", "city": "Oslo"},
		{"name": "South", "city": "Rome"},
	}}

	t.Run("administrators only", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodPost, "/api/admin/records/zone/initialize", body)
		testutil.RequireError(t, rr, http.StatusForbidden, "guard_violation")
	})

	t.Run("seeds records", func(t *testing.T) {
		rr := do(t, router, administrator, http.MethodPost, "/api/admin/records/zone/initialize", body)
		testutil.RequireStatus(t, rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[recordListResponse](t, rr)
		assert.Len(t, resp.Records, 2)
	})
}

func TestAuditLog(t *testing.T) {
	router := newRouter(t)
	do(t, router, maker, http.MethodPost, "/api/records/pricing", map[string]any{"name": "Base", "rate": 0.5})
	do(t, router, maker, http.MethodPost, "/api/session/login", nil)

	t.Run("filters by entity type", func(t *testing.T) {
		rr := do(t, router, checker, http.MethodGet, "/api/audit?entityType=pricing", nil)
		testutil.RequireStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[auditLogResponse](t, rr)
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, audit.ActionCreate, resp.Entries[0].Action)
		assert.Equal(t, "Base", resp.Entries[0].EntityName)
	})

	t.Run("requires the audit domain", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodGet, "/api/audit", nil)
		testutil.RequireError(t, rr, http.StatusForbidden, "guard_violation")
	})

	t.Run("rejects a malformed limit", func(t *testing.T) {
		rr := do(t, router, checker, http.MethodGet, "/api/audit?limit=lots", nil)
		testutil.RequireError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("limit caps the newest entries", func(t *testing.T) {
		rr := do(t, router, checker, http.MethodGet, "/api/audit?limit=1", nil)
		resp := testutil.UnmarshalResponse[auditLogResponse](t, rr)
		assert.Len(t, resp.Entries, 1)
	})
}

func TestSession(t *testing.T) {
	router := newRouter(t)

	for _, path := range []string{"/api/session/login", "/api/session/logout"} {
		rr := do(t, router, maker, http.MethodPost, path, nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("%s: expected 201, got %d: %s", path, rr.Code, rr.Body.String())
		}
		resp := testutil.UnmarshalResponse[sessionResponse](t, rr)
		assert.NotEmpty(t, resp.AuditID, path)
	}
}

func TestNavigation(t *testing.T) {
	router := newRouter(t)

	testutil.Given(t, "a maker granted pricing and services", func(t *testing.T) {
		rr := do(t, router, maker, http.MethodGet, "/api/domains", nil)
		resp := testutil.UnmarshalResponse[domainsResponse](t, rr)
		assert.Equal(t, []id.Domain{catalog.DomainPricing, catalog.DomainServices}, resp.Domains)
		assert.Equal(t, catalog.DomainPricing, resp.Current)

		testutil.When(t, "they navigate to fx", func(t *testing.T) {
			rr := do(t, router, maker, http.MethodPost, "/api/navigation", navigateRequest{Domain: "fx"})
			testutil.RequireError(t, rr, http.StatusForbidden, "guard_violation")

			testutil.Then(t, "they stay where they were", func(t *testing.T) {
				rr := do(t, router, maker, http.MethodGet, "/api/navigation", nil)
				assert.Equal(t, catalog.DomainPricing, testutil.UnmarshalResponse[domainsResponse](t, rr).Current)
			})
		})

		testutil.When(t, "they navigate to services", func(t *testing.T) {
			rr := do(t, router, maker, http.MethodPost, "/api/navigation", navigateRequest{Domain: "services"})
			testutil.RequireStatus(t, rr, http.StatusOK)
			assert.Equal(t, catalog.DomainServices, testutil.UnmarshalResponse[domainsResponse](t, rr).Current)
		})
	})
}

func TestStreamRecords(t *testing.T) {
	router := newRouter(t)
	do(t, router, maker, http.MethodPost, "/api/records/pricing", map[string]any{"name": "Base", "rate": 0.5})

	authed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, testutil.WithPrincipal(r, checker))
	})
	srv := httptest.NewServer(authed)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/records/pricing/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			data = line
			break
		}
	}
	require.NotEmpty(t, data, "no snapshot event received")

	var snapshot recordListResponse
	require.NoError(t, json.Unmarshal([]byte(data), &snapshot))
	require.Len(t, snapshot.Records, 1)
	assert.Equal(t, "Base", snapshot.Records[0]["name"])
}
