package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/repoimport/internal/config"
	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory core.Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	schema  core.Schema
	records map[int64]*core.Record
	nextID  int64
	txCalls int
}

func newMemStore() *memStore {
	return &memStore{
		schema: core.Schema{
			RepositoryID: 1,
			TeamID:       1,
			Columns: []core.ColumnDefinition{
				{ID: 10, Name: "Color", Type: core.ColumnText},
				{ID: 11, Name: "Qty", Type: core.ColumnNumber},
			},
		},
		records: make(map[int64]*core.Record),
	}
}

func (m *memStore) ImportableSchema(_ context.Context, repositoryID int64) (core.Schema, error) {
	if repositoryID != m.schema.RepositoryID {
		return core.Schema{}, fmt.Errorf("repository %d: %w", repositoryID, core.ErrRepositoryNotFound)
	}
	return m.schema, nil
}

func (m *memStore) LoadRecords(_ context.Context, _ int64, ids []int64) (map[int64]*core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*core.Record)
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out, nil
}

func (m *memStore) DuplicateCodes(context.Context, int64) ([]string, error) {
	return nil, nil
}

func (m *memStore) FindUsers(context.Context, int64, string) ([]core.User, error) {
	return nil, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, sink core.RowSink) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(ctx, &memSink{store: m})
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memSink struct {
	store *memStore
}

func (s *memSink) SaveRecord(_ context.Context, rec *core.Record) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if rec.IsNew() {
		s.store.nextID++
		rec.ID = s.store.nextID
		rec.Code = fmt.Sprintf("IT%d", rec.ID)
	}
	s.store.records[rec.ID] = rec
	return nil
}

func (s *memSink) CreateCell(_ context.Context, rec *core.Record, cell *core.Cell) error {
	rec.SetCell(cell)
	return nil
}

func (s *memSink) UpdateCell(_ context.Context, rec *core.Record, cell *core.Cell) error {
	rec.SetCell(cell)
	return nil
}

func (s *memSink) DeleteCell(_ context.Context, rec *core.Record, cell *core.Cell) error {
	delete(rec.Cells, cell.ColumnID)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: time.Minute},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxRows:       100,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       time.Minute,
			IDPrefix:      "IT",
		},
		Security: config.SecurityConfig{EnableCSP: true},
		CORS:     config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *memStore) {
	t.Helper()
	store := newMemStore()
	service := core.NewService(store, cfg.Import.ServiceConfig())
	srv := NewServer(service, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

// importRequest builds a multipart import request acting as user 7.
func importRequest(t *testing.T, repo string, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/repositories/"+repo+"/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(actorHeader, "7")
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

type reportBody struct {
	Status      string            `json:"status"`
	Preview     bool              `json:"preview"`
	TotalRows   int               `json:"total_rows_count"`
	CreatedRows int               `json:"created_rows_count"`
	UpdatedRows int               `json:"updated_rows_count"`
	Outcomes    []core.RowOutcome `json:"outcomes"`
	Changes     []json.RawMessage `json:"changes"`
	Error       string            `json:"error"`
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) reportBody {
	t.Helper()
	var body reportBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

const itemsCSV = "ID,Name,Color\n,Widget,Red\n,Gadget,Blue\n"

func TestHandleImport_Commit(t *testing.T) {
	srv, store := newTestServer(t, testConfig())

	rec := serve(srv, importRequest(t, "1", map[string]string{"mapping": `["0","-1","10"]`}, "items.csv", itemsCSV))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeReport(t, rec)
	require.Equal(t, core.ReportOK, report.Status)
	require.False(t, report.Preview)
	require.Equal(t, 2, report.TotalRows)
	require.Equal(t, 2, report.CreatedRows)
	require.Len(t, report.Outcomes, 2)
	for _, o := range report.Outcomes {
		require.Equal(t, core.StatusCreated, o.Status)
	}
	require.Equal(t, 2, store.recordCount())
}

func TestHandleImport_PreviewWritesNothing(t *testing.T) {
	srv, store := newTestServer(t, testConfig())

	rec := serve(srv, importRequest(t, "1", map[string]string{
		"mapping": `{"0":"0","1":"-1","2":10}`,
		"preview": "true",
	}, "items.csv", itemsCSV))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeReport(t, rec)
	require.True(t, report.Preview)
	require.Equal(t, 2, report.CreatedRows)
	require.Len(t, report.Changes, 2)
	require.Zero(t, store.recordCount())
	require.Zero(t, store.txCalls)
}

func TestHandleImport_MappingConflict(t *testing.T) {
	srv, store := newTestServer(t, testConfig())

	rec := serve(srv, importRequest(t, "1", map[string]string{"mapping": `["0","10","10"]`}, "items.csv", itemsCSV))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	report := decodeReport(t, rec)
	require.Equal(t, core.ReportError, report.Status)
	require.Zero(t, report.CreatedRows)
	require.Zero(t, report.UpdatedRows)
	require.Contains(t, report.Error, "10")
	require.Zero(t, store.txCalls)
}

func TestHandleImport_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		repo     string
		fields   map[string]string
		fileName string
		content  string
		noActor  bool
		want     int
		wantCode string
	}{
		{name: "bad repository id", repo: "abc", fields: map[string]string{"mapping": `["0"]`}, fileName: "a.csv", content: itemsCSV, want: http.StatusBadRequest},
		{name: "no file", repo: "1", fields: map[string]string{"mapping": `["0"]`}, want: http.StatusBadRequest, wantCode: "FILE003"},
		{name: "missing actor", repo: "1", fields: map[string]string{"mapping": `["0"]`}, fileName: "a.csv", content: itemsCSV, noActor: true, want: http.StatusBadRequest},
		{name: "missing mapping", repo: "1", fileName: "a.csv", content: itemsCSV, want: http.StatusBadRequest},
		{name: "malformed mapping", repo: "1", fields: map[string]string{"mapping": `["0",`}, fileName: "a.csv", content: itemsCSV, want: http.StatusBadRequest},
		{name: "invalid marker", repo: "1", fields: map[string]string{"mapping": `["0","color"]`}, fileName: "a.csv", content: itemsCSV, want: http.StatusBadRequest},
		{name: "bad preview flag", repo: "1", fields: map[string]string{"mapping": `["0"]`, "preview": "maybe"}, fileName: "a.csv", content: itemsCSV, want: http.StatusBadRequest},
		{name: "bad import id", repo: "1", fields: map[string]string{"mapping": `["0"]`, "import_id": "a b"}, fileName: "a.csv", content: itemsCSV, want: http.StatusBadRequest},
		{name: "unsupported file", repo: "1", fields: map[string]string{"mapping": `["0"]`}, fileName: "a.pdf", content: itemsCSV, want: http.StatusBadRequest, wantCode: "FILE002"},
		{name: "blank file", repo: "1", fields: map[string]string{"mapping": `["0"]`}, fileName: "a.csv", content: "\n,,\n", want: http.StatusBadRequest, wantCode: "FILE004"},
		{name: "unknown repository", repo: "9", fields: map[string]string{"mapping": `["0"]`}, fileName: "a.csv", content: itemsCSV, want: http.StatusNotFound, wantCode: "IMP002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newTestServer(t, testConfig())
			req := importRequest(t, tt.repo, tt.fields, tt.fileName, tt.content)
			if tt.noActor {
				req.Header.Del(actorHeader)
			}

			rec := serve(srv, req)

			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				require.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			}
			require.Zero(t, store.recordCount())
		})
	}
}

func TestHandleImport_MaxRows(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxRows = 1
	srv, store := newTestServer(t, cfg)

	rec := serve(srv, importRequest(t, "1", map[string]string{"mapping": `["0","-1"]`}, "items.csv", itemsCSV))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "2 data rows")
	require.Zero(t, store.recordCount())
}

func TestHandleColumns(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/repositories/1/columns", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RepositoryID int64                   `json:"repository_id"`
		Columns      []core.ColumnDefinition `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(1), body.RepositoryID)
	require.Len(t, body.Columns, 2)
	require.Equal(t, core.ColumnNumber, body.Columns[1].Type)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/repositories/9/columns", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "IMP002", decodeError(t, rec).Code)
}

func TestHandleCancelImport_NotRunning(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodDelete, "/api/imports/abc", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "IMP007", decodeError(t, rec).Code)
}

func TestHandleActiveImports(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Imports []string                 `json:"imports"`
		Limiter core.ImportLimiterStatus `json:"limiter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Imports)
	require.Equal(t, 2, body.Limiter.MaxConcurrent)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "repoimport_active_batches")
}

func TestAPIKeyProtectsAPIRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	srv, _ := newTestServer(t, cfg)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/repositories/1/columns", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/repositories/1/columns", nil)
	req.Header.Set("X-API-Key", "secret")
	require.Equal(t, http.StatusOK, serve(srv, req).Code)

	require.Equal(t, http.StatusOK, serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := serve(srv, req)

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rl := srv.newRateLimiter(2, time.Minute)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.True(t, rl.allow("1.1.1.1"))
	require.True(t, rl.allow("1.1.1.1"))
	require.False(t, rl.allow("1.1.1.1"))
	require.True(t, rl.allow("2.2.2.2"), "limits are per client")

	now = now.Add(61 * time.Second)
	require.True(t, rl.allow("1.1.1.1"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, ImportLimit: 1}
	srv, _ := newTestServer(t, cfg)

	require.Equal(t, http.StatusOK, serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestParseMappingField(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    core.Mapping
		wantErr bool
	}{
		{
			name: "array of strings",
			raw:  `["0","-1","","12","do_not_import"]`,
			want: core.Mapping{
				{Kind: core.IdentifierColumn},
				{Kind: core.NameColumn},
				{Kind: core.Unmapped},
				{Kind: core.TargetColumn, ColumnID: 12},
				{Kind: core.Unmapped},
			},
		},
		{
			name: "array of numbers",
			raw:  `[0, -1, 12, null]`,
			want: core.Mapping{
				{Kind: core.IdentifierColumn},
				{Kind: core.NameColumn},
				{Kind: core.TargetColumn, ColumnID: 12},
				{Kind: core.Unmapped},
			},
		},
		{
			name: "sparse index object",
			raw:  ` {"2": "12", "0": 0} `,
			want: core.Mapping{
				{Kind: core.IdentifierColumn},
				{Kind: core.Unmapped},
				{Kind: core.TargetColumn, ColumnID: 12},
			},
		},
		{name: "non-numeric index", raw: `{"a":"0"}`, wantErr: true},
		{name: "negative index", raw: `{"-2":"0"}`, wantErr: true},
		{name: "index past column limit", raw: `{"16384":"12"}`, wantErr: true},
		{name: "huge index", raw: `{"1099511627776":"12"}`, wantErr: true},
		{name: "object marker", raw: `[{"id":1}]`, wantErr: true},
		{name: "not json", raw: `0,-1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMappingField(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.MappingError{Reason: "x"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", core.ErrRepositoryNotFound), http.StatusNotFound},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusConflict},
		{fmt.Errorf("%w: nightly", core.ErrImportRunning), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4431"
	if got := clientIP(req); got != "198.51.100.7" {
		t.Errorf("clientIP() = %q", got)
	}
	req.RemoteAddr = "198.51.100.7"
	if got := clientIP(req); !strings.HasPrefix(got, "198.51.100.7") {
		t.Errorf("clientIP() = %q", got)
	}
}
