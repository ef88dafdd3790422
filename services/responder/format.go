package responder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

const menuHint = "Send any message to return to the menu."

// formatMessage renders a result as the WhatsApp message body plus an
// optional media attachment URL. WhatsApp renders *bold* markup.
func formatMessage(res *domain.Result) (body, mediaURL string) {
	if res.Outcome == domain.OutcomeFailure {
		return "⚠️ " + res.ErrorDetail + "\n\n" + menuHint, ""
	}

	switch res.Kind {
	case domain.KindImageInvoice:
		var data domain.InvoiceData
		if err := json.Unmarshal(res.Data, &data); err != nil {
			return "✅ Your invoice was processed and saved.\n\n" + menuHint, ""
		}
		return invoiceSummary(data), ""

	case domain.KindNLQuery:
		var data domain.ReportData
		if err := json.Unmarshal(res.Data, &data); err != nil {
			return "✅ Your report is ready.\n\n" + menuHint, ""
		}
		noun := "rows"
		if data.RowCount == 1 {
			noun = "row"
		}
		body = fmt.Sprintf("✅ *Your Excel report is ready!* (%d %s)\n\n"+
			"The download link is attached and stays valid for 24 hours.\n\n%s",
			data.RowCount, noun, menuHint)
		return body, data.ReportURL
	}

	return "✅ Your request was processed.\n\n" + menuHint, ""
}

// invoiceSummary echoes the extracted fields back so the user can spot a
// misread before querying the data later.
func invoiceSummary(data domain.InvoiceData) string {
	var b strings.Builder
	b.WriteString("✅ *Invoice processed successfully!*\n\n")
	b.WriteString("Date: " + orDash(data.InvoiceDate) + "\n")
	b.WriteString("Amount: " + amountOrDash(data.ExpenseAmount) + "\n")
	b.WriteString("VAT: " + amountOrDash(data.VAT) + "\n")
	b.WriteString("Payee: " + orDash(data.PayeeName) + "\n")
	b.WriteString("Payment method: " + orDash(data.PaymentMethod) + "\n")
	b.WriteString("Phone: " + orDash(data.PhoneNumber) + "\n\n")
	b.WriteString(menuHint)
	return b.String()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func amountOrDash(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *f)
}
