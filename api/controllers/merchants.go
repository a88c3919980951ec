package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/api/responses"
	"github.com/zandy2test/gumroad-sub034/api/validators"
	"github.com/zandy2test/gumroad-sub034/internal/merchants"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

type registerMerchantRequest struct {
	SellerID            uuid.UUID `json:"seller_id" validate:"required"`
	Processor           string    `json:"processor" validate:"required"`
	ProcessorMerchantID string    `json:"processor_merchant_id" validate:"required"`
	SettlementCurrency  string    `json:"settlement_currency,omitempty"`
	Country             string    `json:"country,omitempty"`
}

// MerchantAccountRegister binds a seller to a processor merchant account.
func MerchantAccountRegister(svc merchants.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "merchant service unavailable"))
			return
		}

		var payload registerMerchantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		processor, err := enums.ParseProcessor(payload.Processor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid processor"))
			return
		}
		var currency enums.Currency
		if payload.SettlementCurrency != "" {
			currency, err = enums.ParseCurrency(payload.SettlementCurrency)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid settlement currency"))
				return
			}
		}

		account, err := svc.Register(r.Context(), merchants.RegisterParams{
			SellerID:            payload.SellerID,
			Processor:           processor,
			ProcessorMerchantID: payload.ProcessorMerchantID,
			SettlementCurrency:  currency,
			Country:             payload.Country,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}
