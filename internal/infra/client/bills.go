package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ScanBill extracts an ExpenseReport from one bill image given as a data URL.
func (c *LLMClient) ScanBill(ctx context.Context, imageURL string) (_ *domain.ExpenseReport, err error) {
	ctx, span := tracer.Start(ctx, "LLMClient.ScanBill")
	defer span.End()

	start := time.Now()
	defer func() { c.observe(opScanBill, start, err) }()

	req := openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scanBillSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: scanBillUserPrompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL, Detail: openai.ImageURLDetailAuto},
					},
				},
			},
		},
		ResponseFormat: jsonSchemaFormat("ExpenseReport", c.expenseReportSchema),
	}

	msg, err := c.complete(ctx, opScanBill, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var report domain.ExpenseReport
	if err := decodeStructured(c.expenseReportSchema, "ExpenseReport", msg.Content, &report); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if report.Expenses == nil {
		report.Expenses = []domain.Expense{}
	}

	span.SetAttributes(
		attribute.Int("bill.expenses", len(report.Expenses)),
		attribute.Float64("bill.total_spent", report.TotalSpent),
	)
	return &report, nil
}

// CategorizeExpenses asks the model to label every expense with a category.
func (c *LLMClient) CategorizeExpenses(ctx context.Context, expenses []domain.Expense) (_ *domain.CategorizedExpenseReport, err error) {
	ctx, span := tracer.Start(ctx, "LLMClient.CategorizeExpenses")
	defer span.End()
	span.SetAttributes(attribute.Int("expenses.count", len(expenses)))

	start := time.Now()
	defer func() { c.observe(opCategorize, start, err) }()

	list, err := json.Marshal(expenses)
	if err != nil {
		return nil, fmt.Errorf("marshal expenses: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: categorizeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(categorizeUserPrompt, list)},
		},
		ResponseFormat: jsonSchemaFormat("CategorizedExpenseReport", c.categorizedReportSchema),
	}

	msg, err := c.complete(ctx, opCategorize, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var report domain.CategorizedExpenseReport
	if err := decodeStructured(c.categorizedReportSchema, "CategorizedExpenseReport", msg.Content, &report); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if report.CategorizedExpenses == nil {
		report.CategorizedExpenses = []domain.CategorizedExpense{}
	}
	return &report, nil
}

// AnswerQuery answers query from qc only. The auxiliary tools are declared
// on the request but the instruction forbids them; tool calls in the reply
// are never executed and yield an empty answer.
func (c *LLMClient) AnswerQuery(ctx context.Context, query string, qc *domain.QueryContext) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "LLMClient.AnswerQuery")
	defer span.End()

	start := time.Now()
	defer func() { c.observe(opAnswerQuery, start, err) }()

	contextJSON, err := json.Marshal(qc)
	if err != nil {
		return "", fmt.Errorf("marshal query context: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(answerQuerySystemPrompt, domain.InsufficientInformation)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(answerQueryUserPrompt, contextJSON, query)},
		},
		Tools: c.tools,
	}

	msg, err := c.complete(ctx, opAnswerQuery, req)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}

	if len(msg.ToolCalls) > 0 {
		names := make([]string, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			names = append(names, tc.Function.Name)
		}
		c.logger.Warn("model attempted a forbidden tool call while answering a query",
			zap.Strings("tools", names),
		)
		span.SetAttributes(attribute.StringSlice("query.ignored_tool_calls", names))
		return "", nil
	}

	return msg.Content, nil
}

// auxiliaryTools describes the categorization and aggregation capabilities
// the conversational model is configured with.
func auxiliaryTools() ([]openai.Tool, error) {
	expensesParams, err := jsonschema.GenerateSchemaForType(struct {
		Expenses []domain.Expense `json:"expenses" description:"Expenses to categorize"`
	}{})
	if err != nil {
		return nil, fmt.Errorf("generate categorize_expenses parameters: %w", err)
	}
	categorizedParams, err := jsonschema.GenerateSchemaForType(domain.CategorizedExpenseReport{})
	if err != nil {
		return nil, fmt.Errorf("generate calculate_category_expenses parameters: %w", err)
	}

	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "categorize_expenses",
				Description: "Categorizes expenses into predefined categories.",
				Parameters:  expensesParams,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "calculate_category_expenses",
				Description: "Calculates the total amount spent per category.",
				Parameters:  categorizedParams,
			},
		},
	}, nil
}
