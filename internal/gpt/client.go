// Package gpt wraps the OpenAI chat completions API for the two model
// calls the pipeline makes: invoice extraction from an image and SQL
// generation from a natural language request.
package gpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/retry"
)

const extractSystemPrompt = "You are a document analysis assistant. Your task is to analyze the text in images, " +
	"specifically determining if the image contains an invoice, regardless of the document's language. " +
	"You must support multilingual invoices and extract relevant details in English in a structured JSON format. " +
	"If the image is not an invoice, return {\"error\": \"Not an invoice\"}. Strictly follow the requested output format. " +
	"You must download and analyze the image from the provided URL before responding. " +
	"If the image URL is invalid, inaccessible, or the download fails, return {\"error\": \"Invalid or inaccessible URL\"}. " +
	"Do not return null under any circumstances. Always return a JSON object."

const extractUserPrompt = `Analyze the image and extract any text. If the document is an invoice, return the extracted details in JSON format as shown below.

Important Rules:
- Before analyzing, you must first download the image.
- If you cannot access the image, return {"error": "Invalid or inaccessible URL"} immediately.
- If the image is not an invoice, return {"error": "Not an invoice"}.
- Do not guess or generate missing fields. If data is missing, return null for those fields within the JSON object.
- Do not return null as the top-level response. Always return a JSON object.

Correct Output Example (Invoice Found):
` + "```json" + `
{
  "invoice_date": "2024-02-20",
  "expense_amount": 125.50,
  "vat": 25.10,
  "payee_name": "ABC Electronics",
  "payment_method": "Visa Credit Card",
  "phone_number": "+1-555-123-4567"
}
` + "```" + `
Error Example (Not an Invoice):
` + "```json" + `
{"error": "Not an invoice"}
` + "```" + `
`

const schemaDescription = `Schema:
users(whatsapp_number PK, username, created_at),
invoices(invoice_id PK, whatsapp_number FK -> users, invoice_date, expense_amount, vat, payee_name, payment_method, raw_image_url, created_at),
queries(query_id PK, whatsapp_number FK -> users, query_text, row_count, created_at)

All fields are lowercase and must be used exactly as defined. Do not make up columns.`

const querySystemPrompt = "You are an expert Postgres SQL assistant specializing in PostgreSQL query generation. " +
	"Your task is to generate an optimized Postgres SQL query based on a user's request while strictly following the database schema:\n\n" +
	schemaDescription + "\n\n" +
	"Ensure that whatsapp_number is used as the key for filtering across all relevant tables. " +
	"Return your response only in valid JSON format with a single key 'query' for success, " +
	"or 'error' with a reason for failure. " +
	"Example (Success): {\"query\": \"SELECT * FROM invoices WHERE whatsapp_number = '+15551234567' ORDER BY created_at DESC LIMIT 1;\"}\n" +
	"Example (Failure): {\"error\": \"Unclear request\"}\n" +
	"Do not return null under any circumstances. Always return a JSON object."

const queryUserPromptFmt = `Task: Generate a valid PostgreSQL SELECT query based on the user request.
- The query must only retrieve data relevant to the user's request.
- If the request is unclear or too vague, return {"error": "Unclear request"}.
- Return only a JSON object with either a 'query' key or an 'error' key. Do not include any explanations.

Rules for Query Generation:
- Use whatsapp_number = '%s' to filter data.
- Optimize joins between users, invoices, and queries where relevant.
- Ensure all field names match the schema exactly.
- Generate a single SELECT statement. Never generate INSERT, UPDATE, DELETE, or DDL.
- Use "created_at" to sort the most recent occurrence of stored information.

User Request: %s
User WhatsApp Number (Primary Key): %s`

// Status codes the API will keep returning no matter how often we ask.
var permanentStatusCodes = map[int]bool{
	400: true,
	401: true,
	403: true,
	404: true,
	422: true,
}

// Client calls the chat completions API with a fixed model.
type Client struct {
	api    openai.Client
	model  openai.ChatModel
	logger *slog.Logger
}

// NewClient builds a Client. model may be empty, in which case gpt-4o is used.
func NewClient(apiKey, model string, logger *slog.Logger) *Client {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &Client{
		api:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

// ExtractInvoice sends the image URL to the model and parses the structured
// invoice fields out of the response. A non-invoice image or an unreadable
// URL comes back as a permanent TaskFailedError.
func (c *Client) ExtractInvoice(ctx context.Context, imageURL string) (*domain.InvoiceData, error) {
	raw, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractSystemPrompt),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(extractUserPrompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    imageURL,
				Detail: "high",
			}),
		}),
	})
	if err != nil {
		return nil, err
	}
	return parseInvoiceResponse(raw)
}

// GenerateQuery asks the model for a single SELECT statement answering the
// user's request, scoped to their WhatsApp number. An unclear request comes
// back as a permanent TaskFailedError.
func (c *Client) GenerateQuery(ctx context.Context, request, userKey string) (string, error) {
	raw, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(querySystemPrompt),
		openai.UserMessage(fmt.Sprintf(queryUserPromptFmt, userKey, request, userKey)),
	})
	if err != nil {
		return "", err
	}
	return parseQueryResponse(raw)
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && permanentStatusCodes[apiErr.StatusCode] {
			c.logger.Error("model call rejected, not retrying", "status", apiErr.StatusCode, "error", err)
			return "", retry.Permanent(fmt.Errorf("model call rejected: %w", err))
		}
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New("model returned empty content")
	}
	return content, nil
}

// stripFences removes markdown code fences the model sometimes wraps JSON in.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func parseInvoiceResponse(raw string) (*domain.InvoiceData, error) {
	clean := stripFences(raw)
	if !gjson.Valid(clean) {
		return nil, fmt.Errorf("model response is not valid JSON: %q", clean)
	}
	if msg := gjson.Get(clean, "error"); msg.Exists() {
		return nil, retry.Permanent(&domain.TaskFailedError{Detail: msg.String()})
	}
	var data domain.InvoiceData
	if err := json.Unmarshal([]byte(clean), &data); err != nil {
		return nil, fmt.Errorf("decode invoice fields: %w", err)
	}
	return &data, nil
}

func parseQueryResponse(raw string) (string, error) {
	clean := stripFences(raw)
	if !gjson.Valid(clean) {
		return "", fmt.Errorf("model response is not valid JSON: %q", clean)
	}
	if msg := gjson.Get(clean, "error"); msg.Exists() {
		return "", retry.Permanent(&domain.TaskFailedError{Detail: msg.String()})
	}
	query := strings.TrimSpace(gjson.Get(clean, "query").String())
	if query == "" {
		return "", fmt.Errorf("model response has neither query nor error: %q", clean)
	}
	return query, nil
}
