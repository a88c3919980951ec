package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgstripe "github.com/zandy2test/gumroad-sub034/pkg/stripe"
)

// StripePaymentClient exposes the subset of Stripe operations the adapter
// needs, so tests can stub the wire.
type StripePaymentClient interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripePaymentClientWrapper struct{}

// NewStripePaymentClient wraps the initialized Stripe client.
func NewStripePaymentClient(api *pkgstripe.Client) StripePaymentClient {
	if api == nil {
		return nil
	}
	return &stripePaymentClientWrapper{}
}

func (w *stripePaymentClientWrapper) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.New(params)
}

func (w *stripePaymentClientWrapper) GetPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	params.Context = ctx
	return paymentintent.Get(id, params)
}

func (w *stripePaymentClientWrapper) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	if params != nil {
		params.Context = ctx
	}
	return refund.New(params)
}

// StripeAdapter charges through Stripe Connect destination charges.
type StripeAdapter struct {
	client StripePaymentClient
}

// NewStripeAdapter builds the Stripe variant of the gateway contract.
func NewStripeAdapter(client StripePaymentClient) (*StripeAdapter, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe payment client is required")
	}
	return &StripeAdapter{client: client}, nil
}

func (a *StripeAdapter) Processor() enums.Processor {
	return enums.ProcessorStripe
}

func (a *StripeAdapter) AuthorizeOrCapture(ctx context.Context, params ChargeParams) (Result, error) {
	if params.AmountCents <= 0 {
		return Result{}, fmt.Errorf("amount must be positive, got %d", params.AmountCents)
	}
	if params.PaymentMethodID == "" {
		return Result{}, fmt.Errorf("payment method is required")
	}

	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(params.Currency.String()),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	if params.CustomerID != "" {
		piParams.Customer = stripe.String(params.CustomerID)
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	if params.BuyerEmail != "" {
		piParams.ReceiptEmail = stripe.String(params.BuyerEmail)
	}
	if params.ProcessorMerchantID != "" {
		piParams.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(params.ProcessorMerchantID),
		}
		if params.PlatformFeeCents > 0 {
			piParams.ApplicationFeeAmount = stripe.Int64(params.PlatformFeeCents)
		}
	}
	if params.Mandate != nil {
		piParams.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
		piParams.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				MandateOptions: cardMandateOptions(params),
			},
		}
	}
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	intent, err := a.client.CreatePaymentIntent(ctx, piParams)
	if err != nil {
		return classifyStripeError(err), nil
	}
	return resultFromIntent(intent), nil
}

func (a *StripeAdapter) Confirm(ctx context.Context, clientSecret string) (Result, error) {
	intentID, err := intentIDFromClientSecret(clientSecret)
	if err != nil {
		return Result{}, err
	}

	intent, err := a.client.GetPaymentIntent(ctx, intentID, nil)
	if err != nil {
		return classifyStripeError(err), nil
	}
	return resultFromIntent(intent), nil
}

// Refund issues a Stripe refund. Stripe infers the currency from the
// original charge, so the declared currency only scopes the amount.
func (a *StripeAdapter) Refund(ctx context.Context, transactionID string, amountCents *int64, currency enums.Currency) (RefundResult, error) {
	if transactionID == "" {
		return RefundResult{}, fmt.Errorf("transaction id is required")
	}

	params := &stripe.RefundParams{}
	if strings.HasPrefix(transactionID, "pi_") {
		params.PaymentIntent = stripe.String(transactionID)
	} else {
		params.Charge = stripe.String(transactionID)
	}
	if amountCents != nil {
		params.Amount = stripe.Int64(*amountCents)
	}

	created, err := a.client.CreateRefund(ctx, params)
	if err != nil {
		return RefundResult{}, classifyStripeRefundError(err)
	}
	return RefundResult{
		RefundID:    created.ID,
		AmountCents: created.Amount,
	}, nil
}

func cardMandateOptions(params ChargeParams) *stripe.PaymentIntentPaymentMethodOptionsCardMandateOptionsParams {
	mandate := params.Mandate
	// The mandate amount is implicitly in the intent's currency.
	opts := &stripe.PaymentIntentPaymentMethodOptionsCardMandateOptionsParams{
		Amount:     stripe.Int64(mandate.AmountCents),
		AmountType: stripe.String(string(mandate.AmountType)),
		Interval:   stripe.String(string(mandate.Interval)),
		Reference:  stripe.String(params.IdempotencyKey),
		StartDate:  stripe.Int64(time.Now().Unix()),
	}
	if mandate.IntervalCount != nil {
		opts.IntervalCount = stripe.Int64(*mandate.IntervalCount)
	}
	return opts
}

func resultFromIntent(intent *stripe.PaymentIntent) Result {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		result := Result{
			Kind:          ResultCaptured,
			TransactionID: intent.ID,
		}
		if charge := intent.LatestCharge; charge != nil {
			if details := charge.PaymentMethodDetails; details != nil && details.Card != nil {
				result.PaymentMethodFingerprint = details.Card.Fingerprint
			}
			if txn := charge.BalanceTransaction; txn != nil {
				result.FeeCents = &txn.Fee
				if currency, err := enums.ParseCurrency(string(txn.Currency)); err == nil {
					result.FeeCurrency = &currency
				}
			}
		}
		return result
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return Result{
			Kind:          ResultRequiresAction,
			TransactionID: intent.ID,
			ClientSecret:  intent.ClientSecret,
		}
	default:
		reason := "Your card was declined."
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		return Result{Kind: ResultDeclined, DeclineReason: reason}
	}
}

func classifyStripeError(err error) Result {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return Result{Kind: ResultUnavailable, Cause: err}
		}
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			reason := stripeErr.Msg
			if reason == "" {
				reason = "Your card was declined."
			}
			return Result{Kind: ResultDeclined, DeclineReason: reason}
		case stripe.ErrorTypeAPI:
			return Result{Kind: ResultUnavailable, Cause: err}
		default:
			return Result{Kind: ResultDeclined, DeclineReason: stripeErr.Msg}
		}
	}
	// Transport-level failure with no processor response.
	return Result{Kind: ResultUnavailable, Cause: err}
}

func classifyStripeRefundError(err error) *RefundError {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeChargeAlreadyRefunded:
			return NewRefundError(RefundAlreadyRefunded, stripeErr.Msg, err)
		case stripe.ErrorCodeBalanceInsufficient:
			return NewRefundError(RefundInsufficientFunds, stripeErr.Msg, err)
		}
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI {
			return NewRefundError(RefundUnavailable, stripeErr.Msg, err)
		}
		return NewRefundError(RefundInvalidRequest, stripeErr.Msg, err)
	}
	return NewRefundError(RefundUnavailable, err.Error(), err)
}

func intentIDFromClientSecret(clientSecret string) (string, error) {
	idx := strings.Index(clientSecret, "_secret")
	if !strings.HasPrefix(clientSecret, "pi_") || idx <= 0 {
		return "", fmt.Errorf("malformed client secret")
	}
	return clientSecret[:idx], nil
}
