package gpt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/retry"
)

func TestParseInvoiceResponse_FencedJSON(t *testing.T) {
	raw := "```json\n{\n  \"invoice_date\": \"2024-02-20\",\n  \"expense_amount\": 125.50,\n  \"vat\": 25.10,\n  \"payee_name\": \"ABC Electronics\",\n  \"payment_method\": \"Visa Credit Card\",\n  \"phone_number\": null\n}\n```"

	data, err := parseInvoiceResponse(raw)
	require.NoError(t, err)
	require.NotNil(t, data.InvoiceDate)
	assert.Equal(t, "2024-02-20", *data.InvoiceDate)
	require.NotNil(t, data.ExpenseAmount)
	assert.InDelta(t, 125.50, *data.ExpenseAmount, 0.001)
	require.NotNil(t, data.VAT)
	assert.InDelta(t, 25.10, *data.VAT, 0.001)
	require.NotNil(t, data.PayeeName)
	assert.Equal(t, "ABC Electronics", *data.PayeeName)
	assert.Nil(t, data.PhoneNumber, "null fields stay nil")
}

func TestParseInvoiceResponse_BareJSON(t *testing.T) {
	data, err := parseInvoiceResponse(`{"payee_name": "Corner Cafe"}`)
	require.NoError(t, err)
	require.NotNil(t, data.PayeeName)
	assert.Equal(t, "Corner Cafe", *data.PayeeName)
	assert.Nil(t, data.InvoiceDate)
	assert.Nil(t, data.ExpenseAmount)
}

func TestParseInvoiceResponse_NotAnInvoice(t *testing.T) {
	_, err := parseInvoiceResponse("```json\n{\"error\": \"Not an invoice\"}\n```")
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err), "model-level rejections must not be retried")

	var failed *domain.TaskFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "Not an invoice", failed.Detail)
}

func TestParseInvoiceResponse_Garbage(t *testing.T) {
	_, err := parseInvoiceResponse("here is your invoice, enjoy")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err), "malformed output is worth retrying")
}

func TestParseQueryResponse_Success(t *testing.T) {
	raw := "```json\n{\"query\": \"SELECT * FROM invoices WHERE whatsapp_number = '+15551234567';\"}\n```"

	query, err := parseQueryResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM invoices WHERE whatsapp_number = '+15551234567';", query)
}

func TestParseQueryResponse_UnclearRequest(t *testing.T) {
	_, err := parseQueryResponse(`{"error": "Unclear request"}`)
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))

	var failed *domain.TaskFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "Unclear request", failed.Detail)
}

func TestParseQueryResponse_MissingBothKeys(t *testing.T) {
	_, err := parseQueryResponse(`{"sql": "SELECT 1"}`)
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
