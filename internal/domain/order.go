package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentState string

const (
	PaymentPending PaymentState = "Pending"
	PaymentSuccess PaymentState = "Success"
	PaymentFailed  PaymentState = "Failed"
)

// Currency is fixed for every order.
const Currency = "USD"

const DefaultPaymentMethod = "PayPal"

type Carrier string

const (
	CarrierSTC       Carrier = "STC"
	CarrierZain      Carrier = "ZAIN"
	CarrierMobily    Carrier = "MOBILY"
	CarrierGoTelecom Carrier = "GO Telecom"
	CarrierOther     Carrier = "Other"
)

var knownCarriers = []Carrier{CarrierSTC, CarrierZain, CarrierMobily, CarrierGoTelecom, CarrierOther}

// ParseCarrier maps a free-form network name onto the carrier set.
// Anything unrecognised lands on CarrierOther.
func ParseCarrier(network string) Carrier {
	n := strings.TrimSpace(network)
	for _, c := range knownCarriers {
		if strings.EqualFold(n, string(c)) {
			return c
		}
	}
	if strings.EqualFold(n, "GO") {
		return CarrierGoTelecom
	}
	return CarrierOther
}

var deliveryWindows = map[Carrier]string{
	CarrierSTC:       "1–9 Days",
	CarrierZain:      "1–10 Hours",
	CarrierMobily:    "1–9 Days",
	CarrierGoTelecom: "1-9 Days",
	CarrierOther:     "1-9 Days",
}

// DeliveryWindow returns the estimated unlock delivery time for a carrier.
func DeliveryWindow(c Carrier) string {
	if w, ok := deliveryWindows[c]; ok {
		return w
	}
	return deliveryWindows[CarrierOther]
}

type Order struct {
	OrderRef      string // provider order id
	InvoiceID     string
	Country       string
	Brand         string
	Model         string
	Network       Carrier
	IMEI          string
	SerialNumber  string
	MobileNumber  string
	Email         string
	TermsAccepted bool
	Amount        decimal.Decimal
	Currency      string
	PaymentID     string // provider capture id
	PaymentState  PaymentState
	PaymentTime   *time.Time
	PaymentMethod string
	DeliveryTime  string
	CreatedAt     time.Time
}

// TAC returns the type-allocation prefix of the device identifier.
func (o *Order) TAC() string {
	if len(o.IMEI) < 8 {
		return o.IMEI
	}
	return o.IMEI[:8]
}

// CanTransition reports whether a settlement reporting next may change an
// order currently in from. Success is terminal; Failed can only be
// corrected by a completed capture; a repeated state is a no-op.
func CanTransition(from, next PaymentState) bool {
	switch from {
	case PaymentPending:
		return next == PaymentSuccess || next == PaymentFailed
	case PaymentFailed:
		return next == PaymentSuccess
	default:
		return false
	}
}

// SourceStates lists every state from which next is reachable.
func SourceStates(next PaymentState) []PaymentState {
	var states []PaymentState
	for _, s := range []PaymentState{PaymentPending, PaymentSuccess, PaymentFailed} {
		if CanTransition(s, next) {
			states = append(states, s)
		}
	}
	return states
}
