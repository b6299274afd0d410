package domain

import "time"

const paymentTimeLayout = "January 2, 2006 at 3:04 PM"

// FormatPaymentTime renders a payment time for customers, or "" when unset.
func FormatPaymentTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format(paymentTimeLayout)
}

// Summary is the fixed field set printed on invoices and notifications.
type Summary struct {
	OrderRef      string
	InvoiceID     string
	Brand         string
	Model         string
	Country       string
	Network       string
	IMEI          string
	SerialNumber  string
	MobileNumber  string
	Email         string
	Amount        string
	Currency      string
	PaymentID     string
	PaymentTime   string
	PaymentMethod string
	DeliveryTime  string
}

func Summarize(o *Order, loc *time.Location) Summary {
	return Summary{
		OrderRef:      orNA(o.OrderRef),
		InvoiceID:     orNA(o.InvoiceID),
		Brand:         orNA(o.Brand),
		Model:         orNA(o.Model),
		Country:       orNA(o.Country),
		Network:       orNA(string(o.Network)),
		IMEI:          orNA(o.IMEI),
		SerialNumber:  orNA(o.SerialNumber),
		MobileNumber:  orNA(o.MobileNumber),
		Email:         orNA(o.Email),
		Amount:        o.Amount.StringFixed(2),
		Currency:      Currency,
		PaymentID:     orNA(o.PaymentID),
		PaymentTime:   orNA(FormatPaymentTime(o.PaymentTime, loc)),
		PaymentMethod: orNA(o.PaymentMethod),
		DeliveryTime:  orNA(o.DeliveryTime),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
