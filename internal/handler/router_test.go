package handler_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/handler"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/cache"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/service"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// --- Stubs ---

type stubScanner struct{}

func (stubScanner) ScanBill(context.Context, string) (*domain.ExpenseReport, error) {
	return &domain.ExpenseReport{
		Expenses: []domain.Expense{
			{ExpenseID: 1, Date: "2024-05-01", Description: "Coffee", Amount: 4.5},
			{ExpenseID: 2, Date: "2024-05-01", Description: "Bagel", Amount: 3},
		},
		TotalSpent: 7.5,
	}, nil
}

type stubCategorizer struct{}

func (stubCategorizer) CategorizeExpenses(_ context.Context, expenses []domain.Expense) (*domain.CategorizedExpenseReport, error) {
	out := &domain.CategorizedExpenseReport{}
	for _, e := range expenses {
		out.CategorizedExpenses = append(out.CategorizedExpenses, domain.CategorizedExpense{
			ExpenseID: e.ExpenseID, Description: e.Description, Category: "Food", Amount: e.Amount, Date: e.Date,
		})
	}
	return out, nil
}

type stubAnswerer struct{}

func (stubAnswerer) AnswerQuery(context.Context, string, *domain.QueryContext) (string, error) {
	return "", nil
}

type stubBreaker struct{ state gobreaker.State }

func (s stubBreaker) BreakerState() gobreaker.State { return s.state }

func newTestRouter(t *testing.T, llm handler.BreakerReporter) http.Handler {
	t.Helper()
	metrics := observability.NewMetrics()
	sessions := cache.New[*service.Orchestrator](time.Hour)
	t.Cleanup(sessions.Close)

	factory := func(id string) *service.Orchestrator {
		return service.NewOrchestrator(stubScanner{}, stubCategorizer{}, stubAnswerer{}, nil,
			service.Options{SessionID: id}, metrics, zap.NewNop())
	}
	sm := service.NewSessionManager(sessions, factory, "router-test-secret", time.Hour, metrics, zap.NewNop())
	return handler.NewRouter(sm, llm, metrics, zap.NewNop(), 0)
}

func createSession(t *testing.T, router http.Handler) domain.SessionResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess domain.SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func authed(method, target, token string, body *bytes.Buffer, contentType string) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func multipartImages(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// pngHeaderOnly returns a PNG signature and IHDR chunk claiming the given
// dimensions, with no pixel data behind them.
func pngHeaderOnly(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // RGB

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

// --- Operational endpoints ---

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, stubBreaker{state: gobreaker.StateClosed})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var health domain.HealthStatus
	json.NewDecoder(rec.Body).Decode(&health)
	if health.Status != "healthy" || len(health.Services) != 2 {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestHealthz_OpenCircuit(t *testing.T) {
	router := newTestRouter(t, stubBreaker{state: gobreaker.StateOpen})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(t, nil)
	createSession(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bills_active_sessions") {
		t.Errorf("expected active sessions gauge in exposition")
	}
}

func TestLLMMetrics(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metrics/llm", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap domain.LLMMetrics
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// --- Session auth ---

func TestSessionRoutes_RequireToken(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, tc := range []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestEndSession(t *testing.T) {
	router := newTestRouter(t, nil)
	sess := createSession(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodDelete, "/v1/session", sess.Token, nil, ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodGet, "/v1/state", sess.Token, nil, ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for ended session, got %d", rec.Code)
	}
}

func TestRefreshSession(t *testing.T) {
	router := newTestRouter(t, nil)
	sess := createSession(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodPost, "/v1/session/refresh", sess.Token, nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var refreshed domain.SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&refreshed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if refreshed.SessionID != sess.SessionID {
		t.Errorf("expected session %s, got %s", sess.SessionID, refreshed.SessionID)
	}
	if refreshed.Token == "" || refreshed.Token == sess.Token {
		t.Errorf("expected a new token, got %q", refreshed.Token)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodGet, "/v1/state", refreshed.Token, nil, ""))
	if rec.Code != http.StatusOK {
		t.Errorf("state with refreshed token: expected 200, got %d", rec.Code)
	}
}

// --- Pipeline ---

func TestQueryAndReport_BeforeBills(t *testing.T) {
	router := newTestRouter(t, nil)
	sess := createSession(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodPost, "/v1/query", sess.Token,
		bytes.NewBufferString(`{"query":"How much on food?"}`), "application/json"))
	if rec.Code != http.StatusConflict {
		t.Errorf("query: expected 409, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodGet, "/v1/report", sess.Token, nil, ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("report: expected 409, got %d", rec.Code)
	}
}

func TestQuery_BodyLimits(t *testing.T) {
	router := newTestRouter(t, nil)
	sess := createSession(t, router)

	t.Run("oversized", func(t *testing.T) {
		big := `{"query":"` + strings.Repeat("a", 128<<10) + `"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authed(http.MethodPost, "/v1/query", sess.Token,
			bytes.NewBufferString(big), "application/json"))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("malformed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authed(http.MethodPost, "/v1/query", sess.Token,
			bytes.NewBufferString(`{"query":`), "application/json"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestProcessBills_Validation(t *testing.T) {
	router := newTestRouter(t, nil)
	sess := createSession(t, router)

	t.Run("not multipart", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authed(http.MethodPost, "/v1/bills", sess.Token, bytes.NewBufferString("{}"), "application/json"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("no images", func(t *testing.T) {
		body, ct := multipartImages(t, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authed(http.MethodPost, "/v1/bills", sess.Token, body, ct))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("oversized image", func(t *testing.T) {
		body, ct := multipartImages(t, map[string][]byte{"poster.png": pngHeaderOnly(20000, 20000)})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authed(http.MethodPost, "/v1/bills", sess.Token, body, ct))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("undecodable image", func(t *testing.T) {
		body, ct := multipartImages(t, map[string][]byte{"notes.txt": []byte("not an image")})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authed(http.MethodPost, "/v1/bills", sess.Token, body, ct))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestProcessBills_QueryAndExport(t *testing.T) {
	router := newTestRouter(t, nil)
	sess := createSession(t, router)

	body, ct := multipartImages(t, map[string][]byte{"cafe.png": pngBytes(t)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodPost, "/v1/bills", sess.Token, body, ct))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.ProcessBillsResponse
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Images != 1 || len(result.CategorizedExpenses) != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.CategoryTotals["Food"] != 7.5 {
		t.Errorf("expected Food=7.5, got %v", result.CategoryTotals)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodGet, "/v1/state", sess.Token, nil, ""))
	var state domain.StateResponse
	json.NewDecoder(rec.Body).Decode(&state)
	if state.State != domain.StateReady {
		t.Errorf("expected ready, got %s", state.State)
	}

	// The stub answerer returns an empty answer.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodPost, "/v1/query", sess.Token,
		bytes.NewBufferString(`{"query":"What did I buy on Mars?"}`), "application/json"))
	var answer domain.QueryResponse
	json.NewDecoder(rec.Body).Decode(&answer)
	if rec.Code != http.StatusOK || answer.Answer != domain.InsufficientInformation {
		t.Errorf("expected sentinel answer, got %d %q", rec.Code, answer.Answer)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodPost, "/v1/query", sess.Token,
		bytes.NewBufferString(`{"query":"   "}`), "application/json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank query: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(http.MethodGet, "/v1/report/export.csv", sess.Token, nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %s", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "Expense ID,") {
		t.Errorf("unexpected csv: %q", rec.Body.String())
	}
}
