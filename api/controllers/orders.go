package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/api/responses"
	"github.com/zandy2test/gumroad-sub034/api/validators"
	"github.com/zandy2test/gumroad-sub034/internal/orders"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

type orderLineItemRequest struct {
	UID                 string  `json:"uid" validate:"required"`
	Permalink           string  `json:"permalink" validate:"required"`
	Quantity            int     `json:"quantity" validate:"required,min=1"`
	PerceivedPriceCents int64   `json:"perceived_price_cents" validate:"min=0"`
	TaxCents            int64   `json:"tax_cents" validate:"min=0"`
	IsFreeTrial         bool    `json:"is_free_trial"`
	IsUpgrade           bool    `json:"is_upgrade"`
	Recurrence          *string `json:"recurrence,omitempty"`
	OfferCode           *string `json:"offer_code,omitempty"`
	Referrer            *string `json:"referrer,omitempty"`
}

type createOrderRequest struct {
	BuyerEmail  string                 `json:"buyer_email" validate:"required,email"`
	BuyerUserID *uuid.UUID             `json:"buyer_user_id,omitempty"`
	BrowserGUID string                 `json:"browser_guid,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	LineItems   []orderLineItemRequest `json:"line_items" validate:"required,min=1,dive"`
}

// OrderCreate opens a checkout session from the cart payload.
func OrderCreate(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lineItems := make([]orders.LineItemParams, 0, len(payload.LineItems))
		for _, item := range payload.LineItems {
			var recurrence *enums.Recurrence
			if item.Recurrence != nil {
				parsed, err := enums.ParseRecurrence(*item.Recurrence)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid recurrence").WithDetails(map[string]any{"uid": item.UID}))
					return
				}
				recurrence = &parsed
			}
			lineItems = append(lineItems, orders.LineItemParams{
				UID:                 item.UID,
				Permalink:           item.Permalink,
				Quantity:            item.Quantity,
				PerceivedPriceCents: item.PerceivedPriceCents,
				TaxCents:            item.TaxCents,
				IsFreeTrial:         item.IsFreeTrial,
				IsUpgrade:           item.IsUpgrade,
				Recurrence:          recurrence,
				OfferCode:           item.OfferCode,
				Referrer:            item.Referrer,
			})
		}

		result, err := svc.Create(r.Context(), orders.CreateParams{
			BuyerEmail:  payload.BuyerEmail,
			BuyerUserID: payload.BuyerUserID,
			BrowserGUID: payload.BrowserGUID,
			IPAddress:   payload.IPAddress,
			LineItems:   lineItems,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// OrderDetail fetches an order by its external id.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		externalID := chi.URLParam(r, "orderExternalId")
		order, err := svc.Get(r.Context(), externalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type chargeOrderRequest struct {
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	CustomerID      string `json:"customer_id,omitempty"`
	BrowserGUID     string `json:"browser_guid,omitempty"`
}

// OrderCharge runs the charge pass over every seller group of the order.
func OrderCharge(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload chargeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Charge(r.Context(), orders.ChargeOrderParams{
			OrderID:         orderID,
			PaymentMethodID: payload.PaymentMethodID,
			CustomerID:      payload.CustomerID,
			BrowserGUID:     payload.BrowserGUID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"line_items": result})
	}
}

type confirmOrderRequest struct {
	ClientSecret string  `json:"client_secret" validate:"required"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// OrderConfirm resolves purchases suspended on a step-up authentication.
func OrderConfirm(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, offerCodes, err := svc.Confirm(r.Context(), orderID, orders.ConfirmParams{
			ClientSecret: payload.ClientSecret,
			ErrorMessage: payload.ErrorMessage,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body := map[string]any{"line_items": result}
		if len(offerCodes) > 0 {
			body["offer_codes"] = offerCodes
		}
		responses.WriteSuccess(w, body)
	}
}

type refundRequest struct {
	AmountCents *int64 `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
}

// PurchaseRefund reverses a settled purchase, fully or partially.
func PurchaseRefund(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		purchaseID, err := validators.ParseUUIDParam(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Refund(r.Context(), orders.RefundParams{
			PurchaseID:  purchaseID,
			AmountCents: payload.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
