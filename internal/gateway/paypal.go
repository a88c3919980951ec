package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// PaypalAdapter charges through PayPal's v2 Orders API. Orders are
// created with immediate capture intent; an order that comes back in
// PAYER_ACTION_REQUIRED suspends the charge the same way a Stripe SCA
// step-up does, with the PayPal order id serving as the continuation
// token.
type PaypalAdapter struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPaypalAdapter builds the PayPal variant of the gateway contract.
func NewPaypalAdapter(cfg config.PaypalConfig) (*PaypalAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("paypal base url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("paypal credentials are required")
	}
	return &PaypalAdapter{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}, nil
}

func (a *PaypalAdapter) Processor() enums.Processor {
	return enums.ProcessorPaypal
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	Amount             paypalAmount              `json:"amount"`
	Payee              *paypalPayee              `json:"payee,omitempty"`
	PaymentInstruction *paypalPaymentInstruction `json:"payment_instruction,omitempty"`
	Payments           *paypalPayments           `json:"payments,omitempty"`
}

type paypalPaymentInstruction struct {
	PlatformFees []paypalPlatformFee `json:"platform_fees,omitempty"`
}

type paypalPayee struct {
	MerchantID string `json:"merchant_id"`
}

type paypalPlatformFee struct {
	Amount paypalAmount `json:"amount"`
}

type paypalPayments struct {
	Captures []paypalCapture `json:"captures"`
}

type paypalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
}

type paypalOrderResponse struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e paypalErrorResponse) issue() string {
	if len(e.Details) > 0 {
		return e.Details[0].Issue
	}
	return e.Name
}

func (e paypalErrorResponse) message() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Name
}

func (a *PaypalAdapter) AuthorizeOrCapture(ctx context.Context, params ChargeParams) (Result, error) {
	if params.AmountCents <= 0 {
		return Result{}, fmt.Errorf("amount must be positive, got %d", params.AmountCents)
	}
	if params.PaymentMethodID == "" {
		return Result{}, fmt.Errorf("payment method is required")
	}

	unit := paypalPurchaseUnit{
		Amount: paypalAmount{
			CurrencyCode: strings.ToUpper(params.Currency.String()),
			Value:        formatPaypalAmount(params.AmountCents, params.Currency),
		},
	}
	if params.ProcessorMerchantID != "" {
		unit.Payee = &paypalPayee{MerchantID: params.ProcessorMerchantID}
		if params.PlatformFeeCents > 0 {
			unit.PaymentInstruction = &paypalPaymentInstruction{
				PlatformFees: []paypalPlatformFee{{
					Amount: paypalAmount{
						CurrencyCode: strings.ToUpper(params.Currency.String()),
						Value:        formatPaypalAmount(params.PlatformFeeCents, params.Currency),
					},
				}},
			}
		}
	}

	body := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []paypalPurchaseUnit{unit},
		"payment_source": map[string]any{
			"token": map[string]string{
				"id":   params.PaymentMethodID,
				"type": "PAYMENT_METHOD_TOKEN",
			},
		},
	}

	headers := map[string]string{}
	if params.IdempotencyKey != "" {
		headers["PayPal-Request-Id"] = params.IdempotencyKey
	}

	var order paypalOrderResponse
	status, apiErr, err := a.post(ctx, "/v2/checkout/orders", body, headers, &order)
	if err != nil {
		return Result{Kind: ResultUnavailable, Cause: err}, nil
	}
	if status >= 500 {
		return Result{Kind: ResultUnavailable, Cause: fmt.Errorf("paypal returned %d", status)}, nil
	}
	if status >= 400 {
		return Result{Kind: ResultDeclined, DeclineReason: apiErr.message()}, nil
	}
	return resultFromPaypalOrder(order), nil
}

// Confirm re-reads the PayPal order after the payer completed the
// approval flow and captures it if approved.
func (a *PaypalAdapter) Confirm(ctx context.Context, clientSecret string) (Result, error) {
	if clientSecret == "" {
		return Result{}, fmt.Errorf("order id is required")
	}

	var order paypalOrderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", clientSecret)
	status, apiErr, err := a.post(ctx, path, map[string]any{}, nil, &order)
	if err != nil {
		return Result{Kind: ResultUnavailable, Cause: err}, nil
	}
	if status >= 500 {
		return Result{Kind: ResultUnavailable, Cause: fmt.Errorf("paypal returned %d", status)}, nil
	}
	if status >= 400 {
		if apiErr.issue() == "ORDER_ALREADY_CAPTURED" {
			return Result{Kind: ResultCaptured, TransactionID: clientSecret}, nil
		}
		return Result{Kind: ResultDeclined, DeclineReason: apiErr.message()}, nil
	}
	return resultFromPaypalOrder(order), nil
}

func (a *PaypalAdapter) Refund(ctx context.Context, transactionID string, amountCents *int64, currency enums.Currency) (RefundResult, error) {
	if transactionID == "" {
		return RefundResult{}, fmt.Errorf("transaction id is required")
	}

	body := map[string]any{}
	// Refund currency rides on the capture when omitted; a partial refund
	// must restate it in the capture's own currency.
	if amountCents != nil {
		body["amount"] = paypalAmount{
			CurrencyCode: strings.ToUpper(currency.String()),
			Value:        formatPaypalAmount(*amountCents, currency),
		}
	}

	var refunded struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Amount paypalAmount `json:"amount"`
	}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", transactionID)
	status, apiErr, err := a.post(ctx, path, body, nil, &refunded)
	if err != nil {
		return RefundResult{}, NewRefundError(RefundUnavailable, err.Error(), err)
	}
	if status >= 500 {
		return RefundResult{}, NewRefundError(RefundUnavailable, fmt.Sprintf("paypal returned %d", status), nil)
	}
	if status >= 400 {
		return RefundResult{}, classifyPaypalRefundIssue(apiErr)
	}

	amount := int64(0)
	if amountCents != nil {
		amount = *amountCents
	}
	return RefundResult{RefundID: refunded.ID, AmountCents: amount}, nil
}

func resultFromPaypalOrder(order paypalOrderResponse) Result {
	switch order.Status {
	case "COMPLETED":
		result := Result{Kind: ResultCaptured, TransactionID: order.ID}
		for _, unit := range order.PurchaseUnits {
			if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
				result.TransactionID = unit.Payments.Captures[0].ID
				break
			}
		}
		return result
	case "PAYER_ACTION_REQUIRED", "CREATED", "APPROVED":
		return Result{
			Kind:          ResultRequiresAction,
			TransactionID: order.ID,
			ClientSecret:  order.ID,
		}
	default:
		return Result{Kind: ResultDeclined, DeclineReason: "Your payment could not be completed."}
	}
}

func classifyPaypalRefundIssue(apiErr paypalErrorResponse) *RefundError {
	issue := apiErr.issue()
	message := apiErr.message()
	switch issue {
	case "CAPTURE_FULLY_REFUNDED", "ORDER_ALREADY_REFUNDED":
		return NewRefundError(RefundAlreadyRefunded, message, nil)
	case "INSUFFICIENT_FUNDS", "CANNOT_PAY_SELF":
		return NewRefundError(RefundInsufficientFunds, message, nil)
	case "PAYEE_ACCOUNT_RESTRICTED", "PAYEE_ACCOUNT_LOCKED_OR_CLOSED":
		return NewRefundError(RefundPayeeAccountRestricted, message, nil)
	case "AGREEMENT_CANCELED", "MANDATE_REVOKED":
		return NewRefundError(RefundPayerCancelledMandate, message, nil)
	default:
		return NewRefundError(RefundInvalidRequest, message, nil)
	}
}

func (a *PaypalAdapter) post(ctx context.Context, path string, body any, headers map[string]string, out any) (int, paypalErrorResponse, error) {
	token, err := a.token(ctx)
	if err != nil {
		return 0, paypalErrorResponse{}, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, paypalErrorResponse{}, fmt.Errorf("encoding paypal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, paypalErrorResponse{}, fmt.Errorf("building paypal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, paypalErrorResponse{}, fmt.Errorf("calling paypal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr paypalErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, apiErr, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, paypalErrorResponse{}, fmt.Errorf("decoding paypal response: %w", err)
		}
	}
	return resp.StatusCode, paypalErrorResponse{}, nil
}

func (a *PaypalAdapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting paypal token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding paypal token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}

	a.accessToken = payload.AccessToken
	// Refresh one minute early to avoid racing the expiry.
	a.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)
	return a.accessToken, nil
}

// formatPaypalAmount renders minor units as the decimal string PayPal
// expects. JPY is stored in whole units already; TWD and HUF carry ISO
// minor units in storage but PayPal rejects decimals for them, so they
// round to whole units at the wire.
func formatPaypalAmount(amountCents int64, currency enums.Currency) string {
	value := decimal.NewFromInt(amountCents)
	if currency.IsZeroDecimal() {
		return value.StringFixed(0)
	}
	if currency.IsZeroDecimalFor(enums.ProcessorPaypal) {
		return value.Div(decimal.NewFromInt(100)).Round(0).StringFixed(0)
	}
	return value.Div(decimal.NewFromInt(100)).StringFixed(2)
}
