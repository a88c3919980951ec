package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

// Converter translates amounts between settlement currencies and USD cents.
// Rates are quoted as units of the target currency per one USD.
type Converter interface {
	ToUSDCents(ctx context.Context, amountCents int64, from enums.Currency) (int64, error)
	FromUSDCents(ctx context.Context, usdCents int64, to enums.Currency) (int64, error)
	Rate(ctx context.Context, currency enums.Currency) (decimal.Decimal, error)
}

type rateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	RateKey(currency string) string
}

type rateSource interface {
	Fetch(ctx context.Context) (map[string]decimal.Decimal, error)
}

type converter struct {
	cache  rateCache
	source rateSource
	ttl    time.Duration
	logg   *logger.Logger
}

// NewConverter wires the redis-backed rate cache in front of the HTTP source.
func NewConverter(cache rateCache, source rateSource, cfg config.RatesConfig, logg *logger.Logger) (Converter, error) {
	if cache == nil {
		return nil, fmt.Errorf("rate cache is required")
	}
	if source == nil {
		return nil, fmt.Errorf("rate source is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &converter{
		cache:  cache,
		source: source,
		ttl:    cfg.CacheTTL,
		logg:   logg,
	}, nil
}

func (c *converter) ToUSDCents(ctx context.Context, amountCents int64, from enums.Currency) (int64, error) {
	if from == enums.CurrencyUSD {
		return amountCents, nil
	}
	rate, err := c.Rate(ctx, from)
	if err != nil {
		return 0, err
	}

	units := minorToUnits(amountCents, from)
	usdCents := units.Div(rate).Mul(decimal.NewFromInt(100)).Round(0)
	return usdCents.IntPart(), nil
}

func (c *converter) FromUSDCents(ctx context.Context, usdCents int64, to enums.Currency) (int64, error) {
	if to == enums.CurrencyUSD {
		return usdCents, nil
	}
	rate, err := c.Rate(ctx, to)
	if err != nil {
		return 0, err
	}

	units := decimal.NewFromInt(usdCents).Div(decimal.NewFromInt(100)).Mul(rate)
	return unitsToMinor(units, to), nil
}

func (c *converter) Rate(ctx context.Context, currency enums.Currency) (decimal.Decimal, error) {
	if !currency.IsValid() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}
	if currency == enums.CurrencyUSD {
		return decimal.NewFromInt(1), nil
	}

	key := c.cache.RateKey(currency.String())
	if cached, err := c.cache.Get(ctx, key); err == nil && cached != "" {
		rate, parseErr := decimal.NewFromString(cached)
		if parseErr == nil && rate.IsPositive() {
			return rate, nil
		}
		c.logg.Warn(ctx, fmt.Sprintf("discarding malformed cached rate for %s", currency))
	}

	rates, err := c.source.Fetch(ctx)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching exchange rates")
	}

	rate, ok := rates[strings.ToUpper(currency.String())]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no exchange rate published for %s", currency))
	}

	if err := c.cache.Set(ctx, key, rate.String(), c.ttl); err != nil {
		c.logg.Warn(ctx, fmt.Sprintf("caching rate for %s failed: %v", currency, err))
	}
	return rate, nil
}

// minorToUnits converts stored integer amounts into currency units.
// Zero-decimal currencies store whole units directly.
func minorToUnits(amount int64, currency enums.Currency) decimal.Decimal {
	value := decimal.NewFromInt(amount)
	if currency.IsZeroDecimal() {
		return value
	}
	return value.Div(decimal.NewFromInt(100))
}

// unitsToMinor rounds currency units back into the stored integer form,
// half away from zero.
func unitsToMinor(units decimal.Decimal, currency enums.Currency) int64 {
	if currency.IsZeroDecimal() {
		return units.Round(0).IntPart()
	}
	return units.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// HTTPRateSource pulls a USD-based rate table from a JSON endpoint.
type HTTPRateSource struct {
	client    *http.Client
	sourceURL string
}

// NewHTTPRateSource builds the default rate source from config.
func NewHTTPRateSource(cfg config.RatesConfig) *HTTPRateSource {
	return &HTTPRateSource{
		client:    &http.Client{Timeout: cfg.Timeout},
		sourceURL: cfg.SourceURL,
	}
}

type ratesPayload struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Fetch retrieves the current rate table. Codes are upper case in the payload.
func (s *HTTPRateSource) Fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building rates request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rates endpoint returned %d", resp.StatusCode)
	}

	var payload ratesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding rates payload: %w", err)
	}
	if len(payload.Rates) == 0 {
		return nil, fmt.Errorf("rates payload is empty")
	}
	return payload.Rates, nil
}
