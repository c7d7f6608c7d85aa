package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinquery/clinquery/internal/auth"
	"github.com/clinquery/clinquery/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace id header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{
		"CLINQUERY_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k1:dr-lee:clinician,k2:audit-bot:auditor")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	env := newTestEnv(t)
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Sessions:       env.manager,
		Turns:          env.pipeline,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	auditorReq := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	auditorReq.Header.Set("X-API-Key", "k2")
	auditorResp := httptest.NewRecorder()
	h.ServeHTTP(auditorResp, auditorReq)
	if auditorResp.Code != http.StatusForbidden {
		t.Fatalf("auditor status = %d", auditorResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusCreated {
		t.Fatalf("auth status = %d body=%s", authResp.Code, authResp.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	listReq.Header.Set("X-API-Key", "k2")
	listResp := httptest.NewRecorder()
	h.ServeHTTP(listResp, listReq)
	if listResp.Code != http.StatusOK {
		t.Fatalf("auditor list status = %d", listResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{
		"CLINQUERY_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/examples", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckStoreFile(t *testing.T) {
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{
		"CLINQUERY_STORE_PATH": t.TempDir() + "/missing.duckdb",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	if err := CheckStoreFile(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing store file error")
	}
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("disabled object store should be ready: %v", err)
	}
}

func TestExamplesEndpoint(t *testing.T) {
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/examples", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Categories []ExampleCategory `json:"categories"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body.Categories) != 4 || body.Categories[0].Name != "Patient-Specific" {
		t.Fatalf("categories = %+v", body.Categories)
	}
	if !strings.Contains(body.Categories[0].Questions[0], "P001") {
		t.Fatalf("first question = %q", body.Categories[0].Questions[0])
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
