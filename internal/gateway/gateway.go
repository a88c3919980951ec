package gateway

import (
	"context"
	"fmt"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// Adapter is the processor-agnostic charging contract. Each processor
// translates its own error taxonomy into the shared Result/RefundError
// kinds so callers never branch on processor-specific strings.
type Adapter interface {
	Processor() enums.Processor
	AuthorizeOrCapture(ctx context.Context, params ChargeParams) (Result, error)
	Confirm(ctx context.Context, clientSecret string) (Result, error)
	// Refund reverses a capture. A nil amount refunds in full; a partial
	// amount is in the charge's settlement currency minor units.
	Refund(ctx context.Context, transactionID string, amountCents *int64, currency enums.Currency) (RefundResult, error)
}

// ChargeParams carries one seller group's aggregate charge.
type ChargeParams struct {
	AmountCents      int64
	PlatformFeeCents int64
	Currency         enums.Currency

	PaymentMethodID     string
	CustomerID          string
	ProcessorMerchantID string

	// Checked by the caller before the call is issued; passed through so
	// the processor also dedupes on its side.
	IdempotencyKey string

	Description string
	BuyerEmail  string

	Mandate *MandateOptions
}

// MandateOptions bound future off-session charges for recurring purchases.
// IntervalCount is nil for the sporadic interval.
type MandateOptions struct {
	Interval      MandateInterval
	IntervalCount *int64
	AmountCents   int64
	AmountType    MandateAmountType
}

type MandateInterval string

const (
	MandateIntervalDay      MandateInterval = "day"
	MandateIntervalWeek     MandateInterval = "week"
	MandateIntervalMonth    MandateInterval = "month"
	MandateIntervalYear     MandateInterval = "year"
	MandateIntervalSporadic MandateInterval = "sporadic"
)

type MandateAmountType string

const (
	MandateAmountMaximum MandateAmountType = "maximum"
	MandateAmountFixed   MandateAmountType = "fixed"
)

// ResultKind tags the outcome of a charge or confirm call.
type ResultKind string

const (
	// ResultCaptured means money moved; transaction details are populated.
	ResultCaptured ResultKind = "captured"
	// ResultRequiresAction suspends the charge pending client-side
	// authentication. Not an error.
	ResultRequiresAction ResultKind = "requires_action"
	// ResultDeclined is a clean processor decline. Not retryable.
	ResultDeclined ResultKind = "declined"
	// ResultUnavailable covers network failures and processor 5xx.
	// Retryable, and surfaced to buyers as a generic try-again message.
	ResultUnavailable ResultKind = "unavailable"
)

// Result is the tagged outcome of AuthorizeOrCapture or Confirm. Fields
// beyond Kind are populated per kind.
type Result struct {
	Kind ResultKind

	// Captured
	TransactionID            string
	FeeCents                 *int64
	FeeCurrency              *enums.Currency
	PaymentMethodFingerprint string
	SetupIntentID            string

	// RequiresAction
	ClientSecret string

	// Declined: human-readable reason safe to show the buyer.
	DeclineReason string

	// Unavailable
	Cause error
}

// RefundErrorKind is the closed set of refund failure categories.
type RefundErrorKind string

const (
	RefundAlreadyRefunded        RefundErrorKind = "already_refunded"
	RefundInvalidRequest         RefundErrorKind = "invalid_request"
	RefundInsufficientFunds      RefundErrorKind = "insufficient_funds"
	RefundPayeeAccountRestricted RefundErrorKind = "payee_account_restricted"
	RefundPayerCancelledMandate  RefundErrorKind = "payer_cancelled_mandate"
	RefundUnavailable            RefundErrorKind = "unavailable"
)

// RefundError maps a processor refund failure into the shared kind set.
type RefundError struct {
	Kind    RefundErrorKind
	Message string
	cause   error
}

func (e *RefundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("refund %s: %s", e.Kind, e.Message)
}

func (e *RefundError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewRefundError builds a classified refund failure.
func NewRefundError(kind RefundErrorKind, message string, cause error) *RefundError {
	return &RefundError{Kind: kind, Message: message, cause: cause}
}

// RefundResult reports a completed refund.
type RefundResult struct {
	RefundID    string
	AmountCents int64
}
