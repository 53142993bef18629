package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/client"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/resilience"

	"go.uber.org/zap"
)

// --- Fake chat completions server ---

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type       string `json:"type"`
		JSONSchema struct {
			Name   string `json:"name"`
			Strict bool   `json:"strict"`
		} `json:"json_schema"`
	} `json:"response_format"`
	Tools []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

type fakeUpstream struct {
	status   int
	content  string
	toolCall string
	delay    time.Duration
	calls    atomic.Int32
	last     chatRequest
	lastRaw  string
	lastAuth string
	lastOrg  string
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.lastRaw = string(body)
	_ = json.Unmarshal(body, &f.last)
	f.lastAuth = r.Header.Get("Authorization")
	f.lastOrg = r.Header.Get("OpenAI-Organization")

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key","type":"invalid_request_error","code":"invalid_api_key"}}`)
		return
	}

	msg := map[string]any{"role": "assistant", "content": f.content}
	if f.toolCall != "" {
		msg["content"] = nil
		msg["tool_calls"] = []map[string]any{{
			"id":       "call_1",
			"type":     "function",
			"function": map[string]any{"name": f.toolCall, "arguments": "{}"},
		}}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   client.DefaultModel,
		"choices": []map[string]any{{"index": 0, "message": msg, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150},
	})
}

func newTestClient(t *testing.T, upstream *fakeUpstream, timeout time.Duration) (*client.LLMClient, *observability.Metrics) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	metrics := observability.NewMetrics()
	c, err := client.NewLLMClient(
		srv.Client(),
		client.Config{
			APIKey:       "sk-test",
			Organization: "org-test",
			BaseURL:      srv.URL + "/v1",
			CallTimeout:  timeout,
		},
		resilience.NewCircuitBreaker("openai-test", zap.NewNop()),
		resilience.Config{},
		resilience.NewBulkhead(4),
		metrics,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewLLMClient: %v", err)
	}
	return c, metrics
}

// --- Tests ---

func TestNewLLMClient_RequiresKey(t *testing.T) {
	_, err := client.NewLLMClient(nil, client.Config{}, nil, resilience.Config{}, resilience.NewBulkhead(1), observability.NewMetrics(), zap.NewNop())

	var cfgErr *domain.ErrConfiguration
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestScanBill_Success(t *testing.T) {
	upstream := &fakeUpstream{
		content: `{"expenses":[{"expense_id":1,"date":"2024-05-01","description":"Milk","amount":2.5},` +
			`{"expense_id":2,"date":"2024-05-01","description":"Bread","amount":3}],"total_spent":5.5}`,
	}
	c, metrics := newTestClient(t, upstream, 5*time.Second)

	report, err := c.ScanBill(context.Background(), "data:image/jpeg;base64,AAAA")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(report.Expenses) != 2 || report.TotalSpent != 5.5 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Expenses[1].Description != "Bread" || report.Expenses[1].Amount != 3 {
		t.Errorf("unexpected second expense: %+v", report.Expenses[1])
	}

	if upstream.last.ResponseFormat == nil || upstream.last.ResponseFormat.JSONSchema.Name != "ExpenseReport" {
		t.Errorf("expected ExpenseReport response format, got %+v", upstream.last.ResponseFormat)
	}
	if !upstream.last.ResponseFormat.JSONSchema.Strict {
		t.Error("expected strict schema")
	}
	if !strings.Contains(upstream.lastRaw, "data:image/jpeg;base64,AAAA") {
		t.Error("expected image data URL in request")
	}
	if upstream.lastAuth != "Bearer sk-test" || upstream.lastOrg != "org-test" {
		t.Errorf("unexpected credentials headers: %q %q", upstream.lastAuth, upstream.lastOrg)
	}
	if upstream.last.Model != client.DefaultModel {
		t.Errorf("expected default model, got %q", upstream.last.Model)
	}

	snap := metrics.GetLLMSnapshot()
	if snap.PromptTokens != 120 || snap.CompletionTokens != 30 {
		t.Errorf("expected token usage recorded, got %+v", snap)
	}
}

func TestScanBill_MalformedResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I could not read this bill, sorry."},
		{"missing total", `{"expenses":[]}`},
		{"wrong type", `{"expenses":[{"expense_id":"one","date":"x","description":"y","amount":1}],"total_spent":1}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, &fakeUpstream{content: tt.content}, 5*time.Second)

			_, err := c.ScanBill(context.Background(), "data:image/jpeg;base64,AAAA")

			var validation *domain.ErrValidation
			if !errors.As(err, &validation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestScanBill_FencedJSON(t *testing.T) {
	upstream := &fakeUpstream{content: "```json\n{\"expenses\":[],\"total_spent\":0}\n```"}
	c, _ := newTestClient(t, upstream, 5*time.Second)

	report, err := c.ScanBill(context.Background(), "data:image/jpeg;base64,AAAA")
	if err != nil {
		t.Fatalf("expected fenced JSON to parse, got %v", err)
	}
	if report.Expenses == nil || len(report.Expenses) != 0 {
		t.Errorf("expected empty non-nil expenses, got %#v", report.Expenses)
	}
}

func TestScanBill_Unauthorized(t *testing.T) {
	upstream := &fakeUpstream{status: http.StatusUnauthorized}
	c, _ := newTestClient(t, upstream, 5*time.Second)

	_, err := c.ScanBill(context.Background(), "data:image/jpeg;base64,AAAA")

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if ext.Service != "openai" {
		t.Errorf("expected service 'openai', got %q", ext.Service)
	}
	if n := upstream.calls.Load(); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestScanBill_Timeout(t *testing.T) {
	upstream := &fakeUpstream{delay: 500 * time.Millisecond, content: `{"expenses":[],"total_spent":0}`}
	c, _ := newTestClient(t, upstream, 50*time.Millisecond)

	_, err := c.ScanBill(context.Background(), "data:image/jpeg;base64,AAAA")

	var timeout *domain.ErrTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCategorizeExpenses_Success(t *testing.T) {
	upstream := &fakeUpstream{
		content: `{"categorized_expenses":[{"expense_id":1,"description":"Milk","category":"Groceries","amount":2.5,"date":"2024-05-01"}]}`,
	}
	c, _ := newTestClient(t, upstream, 5*time.Second)

	report, err := c.CategorizeExpenses(context.Background(), []domain.Expense{
		{ExpenseID: 1, Date: "2024-05-01", Description: "Milk", Amount: 2.5},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(report.CategorizedExpenses) != 1 || report.CategorizedExpenses[0].Category != "Groceries" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if upstream.last.ResponseFormat == nil || upstream.last.ResponseFormat.JSONSchema.Name != "CategorizedExpenseReport" {
		t.Errorf("expected CategorizedExpenseReport response format")
	}
	if !strings.Contains(upstream.lastRaw, "Categorize the following expenses") || !strings.Contains(upstream.lastRaw, "Milk") {
		t.Error("expected expense list in categorization prompt")
	}
}

func TestAnswerQuery_SendsContextAndForbidsTools(t *testing.T) {
	upstream := &fakeUpstream{content: "You spent 15.00 on Food."}
	c, _ := newTestClient(t, upstream, 5*time.Second)

	qc := &domain.QueryContext{
		Expenses: domain.CategorizedExpenseReport{CategorizedExpenses: []domain.CategorizedExpense{
			{ExpenseID: 1, Description: "Lunch", Category: "Food", Amount: 15},
		}},
		CategoryExpenseReport: domain.CategoryTotals{"Food": 15},
	}

	answer, err := c.AnswerQuery(context.Background(), "How much on food?", qc)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if answer != "You spent 15.00 on Food." {
		t.Errorf("unexpected answer %q", answer)
	}

	if len(upstream.last.Tools) != 2 {
		t.Fatalf("expected 2 declared tools, got %d", len(upstream.last.Tools))
	}
	for _, want := range []string{
		"Do not invoke any tools",
		domain.InsufficientInformation,
		"category_expense_report",
		"How much on food?",
	} {
		if !strings.Contains(upstream.lastRaw, want) {
			t.Errorf("expected request to contain %q", want)
		}
	}
	if upstream.last.ResponseFormat != nil {
		t.Error("query answers are free text and must not request a schema")
	}
}

func TestAnswerQuery_ToolCallIgnored(t *testing.T) {
	upstream := &fakeUpstream{toolCall: "calculate_category_expenses"}
	c, _ := newTestClient(t, upstream, 5*time.Second)

	answer, err := c.AnswerQuery(context.Background(), "Travel spend?", &domain.QueryContext{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if answer != "" {
		t.Errorf("expected empty answer for a tool call, got %q", answer)
	}
}
