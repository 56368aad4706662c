package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"posfusion/internal/classify"
	"posfusion/internal/composition"
	"posfusion/internal/decompose"
	"posfusion/internal/domain"
	"posfusion/internal/resolver"
	"posfusion/internal/service"
	"posfusion/internal/store/memory"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	repo := memory.NewSeeded()
	registry := composition.NewRegistry(repo, composition.Options{})
	svc := service.New(repo, registry, decompose.New(resolver.New(resolver.DefaultRules())), classify.New(classify.DefaultRules()), service.Options{})
	svc.Init(t.Context())

	auth := NewAuthManager("test-secret-with-at-least-32-bytes!!", time.Hour)
	if err := auth.AddUser("admin", "admin123", RoleAdmin); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := auth.AddUser("viewer", "viewer123", RoleViewer); err != nil {
		t.Fatalf("add viewer: %v", err)
	}
	return New(svc, auth, "http://localhost:5173")
}

type client struct {
	t     *testing.T
	api   http.Handler
	token string
	csrf  string
}

func newAdminClient(t *testing.T, api *API) *client {
	return &client{t: t, api: api.Handler(), token: loginAs(t, api, "admin", "admin123"), csrf: fetchCSRFToken(t, api)}
}

func (c *client) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	res := httptest.NewRecorder()
	c.api.ServeHTTP(res, req)
	return res
}

func (c *client) json(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do(method, path, "application/json", body)
}

func (c *client) upload(path string, filename string, content string, fields map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		c.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	_ = w.Close()
	return c.do(http.MethodPost, path, w.FormDataContentType(), &buf)
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode %q: %v", res.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	decodeBody(t, res, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}
	if body["compositions"] != float64(2) {
		t.Fatalf("expected seeded compositions, got %v", body["compositions"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "nope"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCatalogRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	viewer := &client{t: t, api: api.Handler(), token: loginAs(t, api, "viewer", "viewer123")}
	res = viewer.do(http.MethodGet, "/api/v1/catalog", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected viewer to read catalog, got %d", res.Code)
	}
	var payload struct {
		Catalog []domain.CatalogEntry `json:"catalog"`
	}
	decodeBody(t, res, &payload)
	if len(payload.Catalog) == 0 {
		t.Fatalf("expected seeded catalog entries")
	}
}

func TestCompositionEndpoints(t *testing.T) {
	c := newAdminClient(t, newTestAPI(t))

	res := c.json(http.MethodPost, "/api/v1/compositions", domain.Composition{
		ID: "9301", Name: "TRIO FLUTES", Type: "trios",
		Components: []domain.CompositionComponent{{ID: "1002", Name: "FLUTE CHAMPAGNE", Quantity: 3}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", res.Code, res.Body.String())
	}

	res = c.json(http.MethodPost, "/api/v1/compositions", domain.Composition{
		ID: "9301", Name: "AGAIN", Components: []domain.CompositionComponent{{ID: "1002", Quantity: 1}},
	})
	if res.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", res.Code)
	}

	res = c.json(http.MethodPost, "/api/v1/compositions", domain.Composition{ID: "9302", Name: "EMPTY"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("invalid: expected 400, got %d", res.Code)
	}

	res = c.json(http.MethodPut, "/api/v1/compositions/9301", domain.Composition{
		ID: "9301", Name: "TRIO FLUTES", Type: "trios",
		Components: []domain.CompositionComponent{{ID: "1002", Name: "FLUTE CHAMPAGNE", Quantity: 4}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d %s", res.Code, res.Body.String())
	}

	res = c.do(http.MethodGet, "/api/v1/compositions/9301", "", nil)
	var got struct {
		Composition domain.Composition `json:"composition"`
	}
	decodeBody(t, res, &got)
	if got.Composition.Components[0].Quantity != 4 {
		t.Fatalf("expected updated quantity, got %+v", got.Composition)
	}

	if res = c.do(http.MethodDelete, "/api/v1/compositions/9301", "", nil); res.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", res.Code)
	}
	if res = c.do(http.MethodGet, "/api/v1/compositions/9301", "", nil); res.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", res.Code)
	}
}

func TestDecomposeEndpointDoesNotPersist(t *testing.T) {
	c := newAdminClient(t, newTestAPI(t))
	res := c.json(http.MethodPost, "/api/v1/decompose", map[string]any{
		"lines": []domain.SalesLine{{
			ID: "9001", ProductName: "PACK APERITIF", Quantity: 2, AmountInclTax: 50,
			Date: domain.NewSaleDate(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), Store: "Lyon",
		}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.Code, res.Body.String())
	}
	var result decompose.Result
	decodeBody(t, res, &result)
	if result.ComponentsAdded != 2 || len(result.Expanded) != 3 {
		t.Fatalf("unexpected decomposition %+v", result)
	}

	res = c.do(http.MethodGet, "/api/v1/dataset", "", nil)
	var ds domain.Dataset
	decodeBody(t, res, &ds)
	if len(ds.Lines) != 0 {
		t.Fatalf("decompose must not touch the dataset, got %d lines", len(ds.Lines))
	}
}

const importMapping = `{"date":"Date","id":"Code","productName":"Libellé","quantity":"Qté","amountInclTax":"Montant"}`

func TestImportFlowWithDuplicateChoice(t *testing.T) {
	c := newAdminClient(t, newTestAPI(t))
	csv := "Date;Code;Libellé;Qté;Montant\n" +
		"01/03/2024;1003;CARAFE 1L;1;12\n" +
		"01/03/2024;1003;CARAFE 1L;1;12\n"

	res := c.upload("/api/v1/imports", "mars.csv", csv, map[string]string{"mapping": importMapping})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202 while waiting for a choice, got %d %s", res.Code, res.Body.String())
	}
	var waiting domain.ImportOutcome
	decodeBody(t, res, &waiting)
	if waiting.State != domain.ImportAwaitingUserChoice || waiting.Token == "" || waiting.Duplicates.Total != 1 {
		t.Fatalf("unexpected outcome %+v", waiting)
	}

	if res = c.do(http.MethodGet, "/api/v1/imports/pending", "", nil); res.Code != http.StatusOK {
		t.Fatalf("expected pending import, got %d", res.Code)
	}

	if res = c.json(http.MethodPost, "/api/v1/imports/unknown/resolve", map[string]bool{"eliminate_duplicates": true}); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", res.Code)
	}

	res = c.json(http.MethodPost, "/api/v1/imports/"+waiting.Token+"/resolve", map[string]bool{"eliminate_duplicates": true})
	if res.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d %s", res.Code, res.Body.String())
	}
	var done domain.ImportOutcome
	decodeBody(t, res, &done)
	if done.State != domain.ImportPersisted || done.Merge == nil || done.Merge.DuplicatesEliminated != 1 || done.Merge.TotalLines != 1 {
		t.Fatalf("unexpected merge outcome %+v", done)
	}

	res = c.do(http.MethodGet, "/api/v1/exports", "", nil)
	var listing struct {
		Exports []domain.ExportInfo `json:"exports"`
	}
	decodeBody(t, res, &listing)
	if len(listing.Exports) != 2 {
		t.Fatalf("expected month and full exports, got %+v", listing.Exports)
	}

	res = c.do(http.MethodGet, "/api/v1/exports/"+done.Merge.MonthExportID, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("download export: expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("expected attachment disposition, got %q", res.Header().Get("Content-Disposition"))
	}

	res = c.do(http.MethodGet, "/api/v1/stats?by=store&month=2024-03", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", res.Code)
	}
	var report service.StatsReport
	decodeBody(t, res, &report)
	if report.Summary.Lines != 1 || report.Summary.Amount != 12 {
		t.Fatalf("unexpected stats %+v", report.Summary)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	c := newAdminClient(t, newTestAPI(t))

	res := c.upload("/api/v1/imports", "mars.csv", "Date;Code\n", map[string]string{"mapping": "not json"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mapping, got %d", res.Code)
	}

	res = c.upload("/api/v1/imports", "mars.csv", "Date;Code\n", map[string]string{
		"mapping":              importMapping,
		"eliminate_duplicates": "maybe",
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad choice, got %d", res.Code)
	}

	if res = c.do(http.MethodGet, "/api/v1/stats?by=weekday", "", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown grouping, got %d", res.Code)
	}
}

func TestRestoreAndExportDataset(t *testing.T) {
	c := newAdminClient(t, newTestAPI(t))

	doc := `{"metadata":{"knownMonths":["2024-03"]},"ventes":[` +
		`{"id":"1001","productName":"VERRE A VIN 19CL","quantity":6,"amountInclTax":9,"date":"2024-03-01","store":"Lyon"}]}`
	res := c.do(http.MethodPost, "/api/v1/dataset/restore", "application/json", strings.NewReader(doc))
	if res.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d %s", res.Code, res.Body.String())
	}
	var restored domain.RestoreResult
	decodeBody(t, res, &restored)
	if !restored.Success || restored.Lines != 1 {
		t.Fatalf("unexpected restore result %+v", restored)
	}

	res = c.do(http.MethodPost, "/api/v1/dataset/restore", "application/json", strings.NewReader(`{"nothing":true}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unrecognised document, got %d", res.Code)
	}

	res = c.do(http.MethodGet, "/api/v1/dataset/export", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", res.Code)
	}
	var exported domain.ExportDocument
	decodeBody(t, res, &exported)
	if len(exported.Lines) != 1 || exported.Metadata.TotalLines != 1 {
		t.Fatalf("unexpected export %+v", exported)
	}
}
