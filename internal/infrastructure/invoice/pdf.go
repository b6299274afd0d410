package invoice

import (
	"bytes"
	"context"
	"fmt"
	"time"
	"unlock-orders/internal/domain"

	"github.com/go-pdf/fpdf"
)

// Renderer draws the customer invoice as an A4 PDF.
type Renderer struct {
	company string
	email   string
	website string
}

func NewRenderer(company, email, website string) *Renderer {
	return &Renderer{company: company, email: email, website: website}
}

// Render is deterministic for a given summary and issue time.
func (r *Renderer) Render(ctx context.Context, s domain.Summary, issued time.Time) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(issued)
	pdf.SetModificationDate(issued)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(18, 15, 18)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(51, 51, 51)
	pdf.CellFormat(0, 12, "INVOICE", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	top := pdf.GetY()
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(85, 85, 85)
	pdf.Text(18, top+4, tr(r.company))
	pdf.Text(18, top+9, tr("Email: "+r.email))
	pdf.Text(18, top+14, tr("Website: "+r.website))

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(125, top+4, "Bill To:")
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(125, top+9, tr("IMEI-"+s.IMEI))
	pdf.Text(125, top+14, tr(s.Email))
	pdf.Text(125, top+19, tr(s.MobileNumber))
	pdf.SetY(top + 28)

	rows := [][2]string{
		{"Invoice ID", s.InvoiceID},
		{"Order ID", s.OrderRef},
		{"Brand", s.Brand},
		{"Model", s.Model},
		{"Country", s.Country},
		{"Network", s.Network},
		{"IMEI", s.IMEI},
		{"Serial Number", s.SerialNumber},
		{"Payment Method", s.PaymentMethod},
		{"Payment Date & Time", s.PaymentTime},
		{"Expected Delivery", s.DeliveryTime},
	}

	const labelW, valueW, rowH = 60.0, 114.0, 8.0
	pdf.SetFillColor(31, 78, 120)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(labelW, rowH, "Field", "", 0, "L", true, 0, "")
	pdf.CellFormat(valueW, rowH, "Details", "", 1, "L", true, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	for i, row := range rows {
		if i%2 == 0 {
			pdf.SetFillColor(249, 249, 249)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.CellFormat(labelW, rowH, tr(row[0]), "", 0, "L", true, 0, "")
		pdf.CellFormat(valueW, rowH, tr(row[1]), "", 1, "L", true, 0, "")
	}

	pdf.SetFillColor(31, 78, 120)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(labelW, rowH, "Total Amount Paid", "", 0, "L", true, 0, "")
	pdf.CellFormat(valueW, rowH, s.Currency+" "+s.Amount, "", 1, "L", true, 0, "")

	pdf.Ln(10)
	pdf.SetTextColor(102, 102, 102)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, tr("Thank you for choosing "+r.company+". This is a digital service; no physical item is shipped."), "", "C", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDocument, err)
	}
	return buf.Bytes(), nil
}
