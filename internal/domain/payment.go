package domain

import (
	"time"

	"github.com/google/uuid"
)

// CaptureStatus is the provider-side status of a capture.
type CaptureStatus string

const (
	CaptureCompleted CaptureStatus = "COMPLETED"
	CapturePending   CaptureStatus = "PENDING"
	CaptureDenied    CaptureStatus = "DENIED"
)

// State maps a provider capture status onto the order payment state.
func (s CaptureStatus) State() PaymentState {
	switch s {
	case CaptureCompleted:
		return PaymentSuccess
	case CapturePending:
		return PaymentPending
	default:
		return PaymentFailed
	}
}

type SettlementSource string

const (
	SourceVerification SettlementSource = "verification"
	SourceWebhook      SettlementSource = "webhook"
	SourceReconciler   SettlementSource = "reconciler"
)

// Settlement is a provider confirmation applied (or ignored) against an order.
type Settlement struct {
	ID        uuid.UUID
	OrderRef  string
	CaptureID string
	State     PaymentState
	Method    string
	Source    SettlementSource
	EventID   string
	Applied   bool
	CreatedAt time.Time
}

// Outcome describes what applying a settlement did to the order record.
type Outcome int

const (
	// OutcomeUnchanged: state already final or repeated; nothing written.
	OutcomeUnchanged Outcome = iota
	// OutcomeTransitioned: state changed, payment fields written.
	OutcomeTransitioned
	// OutcomeCaptureAttached: first pending capture recorded, state still Pending.
	OutcomeCaptureAttached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTransitioned:
		return "transitioned"
	case OutcomeCaptureAttached:
		return "capture_attached"
	default:
		return "unchanged"
	}
}
