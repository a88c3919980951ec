package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zandy2test/gumroad-sub034/api/responses"
	"github.com/zandy2test/gumroad-sub034/internal/currency"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

// RateDetail exposes the units-per-USD rate the charge pass would use.
func RateDetail(converter currency.Converter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if converter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "currency converter unavailable"))
			return
		}

		code, err := enums.ParseCurrency(strings.ToLower(chi.URLParam(r, "currency")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown currency"))
			return
		}

		rate, err := converter.Rate(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"currency": code,
			"rate":     rate.String(),
		})
	}
}
