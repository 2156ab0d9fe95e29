// Package contractai proxies contract intelligence calls to OpenAI: field
// extraction, scoped Q&A, translation and related-document classification.
// Every call carries a hard client-side timeout so a stuck upstream surfaces
// as a typed error instead of hanging the request.
package contractai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const callTimeout = 60 * time.Second

var (
	ErrTimeout  = errors.New("contract AI call timed out")
	ErrDisabled = errors.New("contract AI is not configured")
)

// ContractFields is the structured extraction persisted on the case.
type ContractFields struct {
	LeaseStart        string `json:"lease_start"`
	LeaseEnd          string `json:"lease_end"`
	NoticePeriodDays  int    `json:"notice_period_days"`
	RentAmountCents   int64  `json:"rent_amount_cents"`
	DepositCents      int64  `json:"deposit_cents"`
	Currency          string `json:"currency"`
	LandlordName      string `json:"landlord_name"`
	TerminationClause string `json:"termination_clause"`
}

// DocumentInfo classifies an arbitrary related-document upload.
type DocumentInfo struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
}

// Analyzer is the AI surface the handlers depend on.
type Analyzer interface {
	ExtractFields(ctx context.Context, contractText string) (*ContractFields, error)
	Ask(ctx context.Context, contractText, question string) (string, error)
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
	ClassifyDocument(ctx context.Context, filename, text string) (*DocumentInfo, error)
}

// OpenAIAnalyzer wraps the OpenAI client. A nil client means the feature is
// disabled and calls return ErrDisabled.
type OpenAIAnalyzer struct {
	client *openai.Client
}

func NewOpenAIAnalyzer(apiKey string) *OpenAIAnalyzer {
	if apiKey == "" {
		return &OpenAIAnalyzer{client: nil}
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIAnalyzer{client: &c}
}

func (a *OpenAIAnalyzer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

func wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("openai: %w", err)
}

func (a *OpenAIAnalyzer) ExtractFields(ctx context.Context, contractText string) (*ContractFields, error) {
	if a.client == nil {
		return nil, ErrDisabled
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lease_start":        map[string]string{"type": "string", "description": "ISO date or empty"},
			"lease_end":          map[string]string{"type": "string", "description": "ISO date or empty"},
			"notice_period_days": map[string]string{"type": "integer"},
			"rent_amount_cents":  map[string]string{"type": "integer"},
			"deposit_cents":      map[string]string{"type": "integer"},
			"currency":           map[string]string{"type": "string"},
			"landlord_name":      map[string]string{"type": "string"},
			"termination_clause": map[string]string{"type": "string"},
		},
		"required": []string{
			"lease_start", "lease_end", "notice_period_days", "rent_amount_cents",
			"deposit_cents", "currency", "landlord_name", "termination_clause",
		},
		"additionalProperties": false,
	}
	fn := shared.FunctionDefinitionParam{
		Name:        "extract_lease_fields",
		Description: openai.String("Extract the key fields of a residential lease contract."),
		Strict:      openai.Bool(true),
		Parameters:  schema,
	}
	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You extract structured data from rental contracts. Use empty strings and zeros for fields that are not present."),
			openai.UserMessage(contractText),
		},
		Tools: []openai.ChatCompletionToolParam{{Function: fn}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: "extract_lease_fields"},
			},
		},
	}
	resp, err := a.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, errors.New("openai: no function call returned")
	}
	var fields ContractFields
	raw := resp.Choices[0].Message.ToolCalls[0].Function.Arguments
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("openai: parse extraction: %w", err)
	}
	return &fields, nil
}

func (a *OpenAIAnalyzer) chat(ctx context.Context, system, user string) (string, error) {
	if a.client == nil {
		return "", ErrDisabled
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", wrapErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAIAnalyzer) Ask(ctx context.Context, contractText, question string) (string, error) {
	system := "You answer tenant questions strictly from the rental contract below. " +
		"If the contract does not cover the question, say so.\n\n" + contractText
	return a.chat(ctx, system, question)
}

func (a *OpenAIAnalyzer) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	system := fmt.Sprintf("Translate the following rental contract text into %s. Keep legal terms precise.", targetLanguage)
	return a.chat(ctx, system, text)
}

func (a *OpenAIAnalyzer) ClassifyDocument(ctx context.Context, filename, text string) (*DocumentInfo, error) {
	if a.client == nil {
		return nil, ErrDisabled
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]string{"type": "string", "description": "one of: utility_bill, correspondence, receipt, insurance, other"},
			"title":    map[string]string{"type": "string"},
			"summary":  map[string]string{"type": "string"},
		},
		"required":             []string{"category", "title", "summary"},
		"additionalProperties": false,
	}
	fn := shared.FunctionDefinitionParam{
		Name:        "classify_document",
		Description: openai.String("Classify a rental-related document and summarize it in one sentence."),
		Strict:      openai.Bool(true),
		Parameters:  schema,
	}
	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(fmt.Sprintf("Filename: %s\n\n%s", filename, text)),
		},
		Tools: []openai.ChatCompletionToolParam{{Function: fn}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: "classify_document"},
			},
		},
	}
	resp, err := a.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, errors.New("openai: no function call returned")
	}
	var info DocumentInfo
	raw := resp.Choices[0].Message.ToolCalls[0].Function.Arguments
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("openai: parse classification: %w", err)
	}
	return &info, nil
}
