package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"konsinyasi/backend/internal/cache"
	"konsinyasi/backend/internal/risk"
	"konsinyasi/backend/internal/service"
	"konsinyasi/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	assessor := risk.NewAssessor(cache.NoopRiskCache{}, time.Second)
	svc := service.New(repo, assessor, nil, "demo")
	auth := NewAuthManager("test-secret-key", time.Hour, "835274", repo)

	return New(svc, auth, "*")
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newAPIClient(t *testing.T, api *API, username string, password string) *apiClient {
	t.Helper()
	c := &apiClient{t: t, handler: api.Handler()}

	rec := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (%s)", rec.Code, rec.Body.String())
	}
	var loginBody struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&loginBody); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	c.token = loginBody.AccessToken

	rec = c.do(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var csrfBody struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&csrfBody); err != nil {
		t.Fatalf("decode csrf: %v", err)
	}
	c.csrf = csrfBody.CSRFToken
	return c
}

func (c *apiClient) do(method string, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestDispatchReconcilePaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodPost, "/api/v1/fronted", map[string]any{
		"client_id":        "cl-toko-pak-budi",
		"product_id":       "prod-aqua-600",
		"quantity":         10,
		"price_per_unit":   "5000",
		"payment_due_date": time.Now().UTC().Add(7 * 24 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var dispatch struct {
		FrontedRecordID string `json:"fronted_record_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&dispatch); err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}

	rec = client.do(http.MethodPost, "/api/v1/fronted/"+dispatch.FrontedRecordID+"/reconcile", map[string]any{
		"entries": []map[string]string{
			{"barcode": "BR-1", "condition": "good"},
			{"barcode": "BR-2", "condition": "damaged", "reason": "penyok"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var reconcile struct {
		GoodReturns    int  `json:"good_returns"`
		DamagedReturns int  `json:"damaged_returns"`
		Degraded       bool `json:"degraded"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&reconcile); err != nil {
		t.Fatalf("decode reconcile: %v", err)
	}
	if reconcile.GoodReturns != 1 || reconcile.DamagedReturns != 1 || reconcile.Degraded {
		t.Fatalf("unexpected reconcile response: %+v", reconcile)
	}

	rec = client.do(http.MethodPost, "/api/v1/fronted/"+dispatch.FrontedRecordID+"/payments", map[string]any{
		"amount": "20000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/v1/fronted/"+dispatch.FrontedRecordID+"/scans", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan log expected 200, got %d", rec.Code)
	}
	var scanLog struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&scanLog); err != nil {
		t.Fatalf("decode scan log: %v", err)
	}
	if len(scanLog.Entries) != 2 {
		t.Fatalf("expected 2 scan entries, got %d", len(scanLog.Entries))
	}
}

func TestReconcileDuplicateReturns409(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodPost, "/api/v1/fronted", map[string]any{
		"client_id":        "cl-toko-pak-budi",
		"product_id":       "prod-aqua-600",
		"quantity":         5,
		"price_per_unit":   "5000",
		"payment_due_date": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("dispatch failed: %d", rec.Code)
	}
	var dispatch struct {
		FrontedRecordID string `json:"fronted_record_id"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&dispatch)

	path := "/api/v1/fronted/" + dispatch.FrontedRecordID + "/reconcile"
	payload := map[string]any{
		"entries": []map[string]string{{"barcode": "BR-SAME", "condition": "good"}},
	}
	if rec := client.do(http.MethodPost, path, payload); rec.Code != http.StatusOK {
		t.Fatalf("first reconcile failed: %d", rec.Code)
	}
	if rec := client.do(http.MethodPost, path, payload); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate reconcile expected 409, got %d", rec.Code)
	}
}

func TestCancelRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodPost, "/api/v1/fronted", map[string]any{
		"client_id":        "cl-toko-pak-budi",
		"product_id":       "prod-aqua-600",
		"quantity":         3,
		"price_per_unit":   "5000",
		"payment_due_date": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	})
	var dispatch struct {
		FrontedRecordID string `json:"fronted_record_id"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&dispatch)

	path := "/api/v1/fronted/" + dispatch.FrontedRecordID + "/cancel"

	rec = client.do(http.MethodPost, path, map[string]string{
		"reason":      "salah klien",
		"manager_pin": "000000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong PIN expected 403, got %d", rec.Code)
	}

	rec = client.do(http.MethodPost, path, map[string]string{
		"reason":      "salah klien",
		"manager_pin": "835274",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestClientRiskEndpoint(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodGet, "/api/v1/clients/cl-warung-bu-sri/risk", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("risk expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Risk struct {
			ReliabilityScore int `json:"reliability_score"`
		} `json:"risk"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode risk: %v", err)
	}
	if body.Risk.ReliabilityScore != 50 {
		t.Fatalf("expected baseline score 50, got %d", body.Risk.ReliabilityScore)
	}
}

func TestOpsRoleCannotCreateClients(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "ops1", "ops-ganti-segera")

	rec := client.do(http.MethodPost, "/api/v1/clients", map[string]any{
		"name":         "Kios Baru",
		"credit_limit": "100000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ops client create expected 403, got %d", rec.Code)
	}
}

func TestUnknownRecordReturns404(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodGet, "/api/v1/fronted/fr-tidak-ada", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInsufficientStockReturns422(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodPost, "/api/v1/fronted", map[string]any{
		"client_id":        "cl-toko-pak-budi",
		"product_id":       "prod-aqua-600",
		"quantity":         100000,
		"price_per_unit":   "5000",
		"payment_due_date": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestStaffManagement(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	rec := client.do(http.MethodPost, "/api/v1/users/staff", map[string]string{
		"username": "gudang1",
		"password": "rahasia-gudang",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("staff create expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/v1/users/staff", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff list expected 200, got %d", rec.Code)
	}
	var body struct {
		Staff []struct {
			Username string `json:"username"`
		} `json:"staff"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode staff: %v", err)
	}
	found := false
	for _, s := range body.Staff {
		if s.Username == "gudang1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("created staff missing from list: %+v", body.Staff)
	}
}

func TestOverdueFilterOnList(t *testing.T) {
	api := newTestAPI(t)
	client := newAPIClient(t, api, "admin", "admin-ganti-segera")

	for i := 0; i < 2; i++ {
		rec := client.do(http.MethodPost, "/api/v1/fronted", map[string]any{
			"client_id":        "cl-toko-pak-budi",
			"product_id":       "prod-aqua-600",
			"quantity":         2,
			"price_per_unit":   "5000",
			"payment_due_date": time.Now().UTC().Add(time.Duration(i+1) * 24 * time.Hour).Format(time.RFC3339),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("dispatch %d failed: %d", i, rec.Code)
		}
	}

	rec := client.do(http.MethodGet, "/api/v1/fronted?overdue=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", rec.Code)
	}
	var body struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(body.Records) != 0 {
		t.Fatalf("expected no overdue records, got %d", len(body.Records))
	}

	rec = client.do(http.MethodGet, fmt.Sprintf("/api/v1/fronted?client_id=%s", "cl-toko-pak-budi"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(body.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(body.Records))
	}
}
