package domain

import (
	"encoding/json"
	"time"
)

// TaskKind selects which worker queue a task is routed to.
type TaskKind string

const (
	KindImageInvoice TaskKind = "IMAGE_INVOICE"
	KindNLQuery      TaskKind = "NL_QUERY"
)

// Valid reports whether k names a known task kind.
func (k TaskKind) Valid() bool {
	return k == KindImageInvoice || k == KindNLQuery
}

// Task is a unit of work handed to exactly one queue, chosen by Kind.
type Task struct {
	ID         string          `json:"id"`
	Kind       TaskKind        `json:"kind"`
	UserKey    string          `json:"user_key"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ImagePayload is the payload for KindImageInvoice tasks.
type ImagePayload struct {
	MediaURL    string `json:"media_url"`
	ContentType string `json:"content_type"`
}

// QueryPayload is the payload for KindNLQuery tasks.
type QueryPayload struct {
	Text string `json:"text"`
}

// Outcome is the terminal disposition of a task.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Result is the single terminal outcome of a task, correlated by TaskID.
// Data is set for SUCCESS, ErrorDetail for FAILURE; never both.
type Result struct {
	TaskID      string          `json:"task_id"`
	Kind        TaskKind        `json:"kind"`
	UserKey     string          `json:"user_key"`
	Outcome     Outcome         `json:"outcome"`
	Data        json.RawMessage `json:"data,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// InvoiceData is the Data payload of a successful IMAGE_INVOICE result.
// Pointer fields stay nil when the extractor could not read them.
type InvoiceData struct {
	InvoiceDate   *string  `json:"invoice_date"`
	ExpenseAmount *float64 `json:"expense_amount"`
	VAT           *float64 `json:"vat"`
	PayeeName     *string  `json:"payee_name"`
	PaymentMethod *string  `json:"payment_method"`
	PhoneNumber   *string  `json:"phone_number"`
}

// ReportData is the Data payload of a successful NL_QUERY result.
type ReportData struct {
	ReportURL string `json:"report_url"`
	RowCount  int    `json:"row_count"`
}
