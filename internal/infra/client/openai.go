package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/resilience"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client/openai")

const serviceName = "openai"

// Operation labels used in metrics, spans and timeout errors.
const (
	opScanBill    = "scan_bill"
	opCategorize  = "categorize"
	opAnswerQuery = "answer_query"
)

// DefaultModel is the vision-capable model used when none is configured.
const DefaultModel = "gpt-4o-mini-2024-07-18"

// Config holds the connection settings for an OpenAI-compatible API.
type Config struct {
	APIKey       string
	Organization string
	BaseURL      string // empty = api.openai.com
	Model        string
	CallTimeout  time.Duration
}

// LLMClient talks to the chat completions API. It implements
// port.BillScanner, port.ExpenseCategorizer and port.QueryAnswerer.
type LLMClient struct {
	api      *openai.Client
	model    string
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
	cfg      resilience.Config
	metrics  *observability.Metrics
	logger   *zap.Logger

	expenseReportSchema     *jsonschema.Definition
	categorizedReportSchema *jsonschema.Definition
	tools                   []openai.Tool
}

// NewLLMClient creates a new LLMClient. Response schemas are generated once
// from the domain types so requests and validation share one definition.
func NewLLMClient(
	httpClient *http.Client,
	cfg Config,
	cb *gobreaker.CircuitBreaker,
	rcfg resilience.Config,
	bulkhead *resilience.Bulkhead,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, &domain.ErrConfiguration{Key: "OPENAI_API_KEY", Message: "missing API key"}
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.OrgID = cfg.Organization
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient != nil {
		apiCfg.HTTPClient = httpClient
	}

	expenseSchema, err := jsonschema.GenerateSchemaForType(domain.ExpenseReport{})
	if err != nil {
		return nil, fmt.Errorf("generate ExpenseReport schema: %w", err)
	}
	categorizedSchema, err := jsonschema.GenerateSchemaForType(domain.CategorizedExpenseReport{})
	if err != nil {
		return nil, fmt.Errorf("generate CategorizedExpenseReport schema: %w", err)
	}
	tools, err := auxiliaryTools()
	if err != nil {
		return nil, err
	}

	if rcfg.RetryIf == nil {
		rcfg.RetryIf = isRetryable
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &LLMClient{
		api:                     openai.NewClientWithConfig(apiCfg),
		model:                   model,
		timeout:                 timeout,
		cb:                      cb,
		bulkhead:                bulkhead,
		cfg:                     rcfg,
		metrics:                 metrics,
		logger:                  logger,
		expenseReportSchema:     expenseSchema,
		categorizedReportSchema: categorizedSchema,
		tools:                   tools,
	}, nil
}

// BreakerState reports the circuit breaker state for health checks.
func (c *LLMClient) BreakerState() gobreaker.State {
	return c.cb.State()
}

// complete sends one chat completion through the bulkhead, the circuit
// breaker and the retry policy, bounded by the per-call timeout.
func (c *LLMClient) complete(ctx context.Context, op string, req openai.ChatCompletionRequest) (*openai.ChatCompletionMessage, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, c.classify(op, err)
	}
	defer c.bulkhead.Release()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.Model = c.model

	var resp openai.ChatCompletionResponse
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(callCtx, c.cfg, func() error {
			r, err := c.api.CreateChatCompletion(callCtx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = context.DeadlineExceeded
		}
		return nil, c.classify(op, err)
	}

	c.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: errors.New("response has no choices")}
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("model refused: %s", msg.Refusal)}
	}
	return &msg, nil
}

// classify maps transport-level failures onto domain errors.
func (c *LLMClient) classify(op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ErrCircuitOpen{Service: serviceName}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: serviceName + "." + op}
	default:
		return &domain.ErrExternalService{Service: serviceName, Err: err}
	}
}

// observe records the outcome of a public call.
func (c *LLMClient) observe(op string, start time.Time, err error) {
	c.metrics.RecordStepDuration("llm_"+op, time.Since(start))
	if err != nil {
		c.metrics.IncrLLMCall(op, "error")
		c.metrics.IncrExternalError(serviceName)
		return
	}
	c.metrics.IncrLLMCall(op, "success")
}

// isRetryable reports whether another attempt could succeed: rate limits,
// upstream 5xx and network errors are retried; auth and 4xx are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func jsonSchemaFormat(name string, schema *jsonschema.Definition) *openai.ChatCompletionResponseFormat {
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   name,
			Schema: schema,
			Strict: true,
		},
	}
}

// decodeStructured validates content against schema before unmarshalling
// it into v. Anything that does not validate is rejected, never coerced.
func decodeStructured(schema *jsonschema.Definition, name, content string, v any) error {
	content = stripCodeFence(content)
	if content == "" {
		return &domain.ErrValidation{Field: name, Message: "empty response content"}
	}
	if err := schema.Unmarshal(content, v); err != nil {
		return &domain.ErrValidation{Field: name, Message: err.Error()}
	}
	return nil
}

// stripCodeFence removes a ```json fence some compatible servers add
// around structured output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
