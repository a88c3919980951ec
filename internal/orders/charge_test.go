package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/internal/currency"
	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/internal/merchants"
	"github.com/zandy2test/gumroad-sub034/internal/purchases"
	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

// ---- stubs ----

type stubOrderRepo struct {
	order   *models.Order
	recent  *models.Order
	charges []*models.Charge
}

func (s *stubOrderRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrderRepo) Create(ctx context.Context, order *models.Order) error {
	order.ID = uuid.New()
	s.order = order
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order != nil && s.order.ID == id {
		return s.order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) FindByExternalID(ctx context.Context, externalID string) (*models.Order, error) {
	if s.order != nil && s.order.ExternalID == externalID {
		return s.order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) FindRecentByBrowserGUID(ctx context.Context, guid string, exclude uuid.UUID, window time.Duration) (*models.Order, error) {
	if s.recent != nil && s.recent.BrowserGUID == guid && s.recent.ID != exclude {
		return s.recent, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) CreateCharge(ctx context.Context, charge *models.Charge) error {
	charge.ID = uuid.New()
	s.charges = append(s.charges, charge)
	return nil
}

func (s *stubOrderRepo) UpdateCharge(ctx context.Context, charge *models.Charge) error {
	for i, existing := range s.charges {
		if existing.ID == charge.ID {
			s.charges[i] = charge
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) FindChargeByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Charge, error) {
	for _, charge := range s.charges {
		if charge.OrderID == orderID && charge.SellerID == sellerID {
			return charge, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) FindChargeBySetupIntent(ctx context.Context, orderID uuid.UUID, setupIntentID string) (*models.Charge, error) {
	for _, charge := range s.charges {
		if charge.OrderID == orderID && charge.SetupIntentID != nil && *charge.SetupIntentID == setupIntentID {
			return charge, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) FindChargeByID(ctx context.Context, id uuid.UUID) (*models.Charge, error) {
	for _, charge := range s.charges {
		if charge.ID == id {
			return charge, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderRepo) ListChargesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Charge, error) {
	var out []models.Charge
	for _, charge := range s.charges {
		if charge.OrderID == orderID {
			out = append(out, *charge)
		}
	}
	return out, nil
}

type stubPurchaseRepo struct {
	updated  map[uuid.UUID]models.Purchase
	balances map[uuid.UUID]int64
	byID     map[uuid.UUID]*models.Purchase
}

func newStubPurchaseRepo() *stubPurchaseRepo {
	return &stubPurchaseRepo{
		updated:  map[uuid.UUID]models.Purchase{},
		balances: map[uuid.UUID]int64{},
		byID:     map[uuid.UUID]*models.Purchase{},
	}
}

func (s *stubPurchaseRepo) WithTx(tx *gorm.DB) purchases.Repository { return s }

func (s *stubPurchaseRepo) Create(ctx context.Context, purchase *models.Purchase) error {
	return nil
}

func (s *stubPurchaseRepo) Update(ctx context.Context, purchase *models.Purchase) error {
	s.updated[purchase.ID] = *purchase
	return nil
}

func (s *stubPurchaseRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	if purchase, ok := s.byID[id]; ok {
		return purchase, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPurchaseRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	return s.FindByID(ctx, id)
}

func (s *stubPurchaseRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Purchase, error) {
	var out []models.Purchase
	for _, purchase := range s.byID {
		if purchase.OrderID == orderID {
			out = append(out, *purchase)
		}
	}
	return out, nil
}

func (s *stubPurchaseRepo) ListInProgressByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Purchase, error) {
	var out []models.Purchase
	for _, purchase := range s.byID {
		if purchase.OrderID == orderID && purchase.State == enums.PurchaseStateInProgress {
			out = append(out, *purchase)
		}
	}
	return out, nil
}

func (s *stubPurchaseRepo) FindProductByPermalink(ctx context.Context, permalink string) (*models.Product, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPurchaseRepo) DecrementInventory(ctx context.Context, productID uuid.UUID, quantity int) error {
	return nil
}

func (s *stubPurchaseRepo) FindOfferCode(ctx context.Context, code string) (*models.OfferCode, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPurchaseRepo) IncrementSellerBalance(ctx context.Context, sellerID uuid.UUID, amountCents int64) error {
	s.balances[sellerID] += amountCents
	return nil
}

type stubPurchaseSvc struct{}

func (stubPurchaseSvc) Create(ctx context.Context, params purchases.CreateParams) (*models.Purchase, error) {
	return nil, fmt.Errorf("not used")
}

type stubMerchantsSvc struct {
	accounts   map[uuid.UUID]*models.MerchantAccount
	resolveErr error
}

func (s *stubMerchantsSvc) Register(ctx context.Context, params merchants.RegisterParams) (*models.MerchantAccount, error) {
	return nil, fmt.Errorf("not used")
}

func (s *stubMerchantsSvc) Resolve(ctx context.Context, sellerID uuid.UUID) (*models.MerchantAccount, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	if account, ok := s.accounts[sellerID]; ok {
		return account, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller has no merchant account")
}

func (s *stubMerchantsSvc) ResolveForProcessor(ctx context.Context, sellerID uuid.UUID, processor enums.Processor) (*models.MerchantAccount, error) {
	return s.Resolve(ctx, sellerID)
}

type stubAdapter struct {
	processor enums.Processor
	calls     int
	chargeFn  func(params gateway.ChargeParams) gateway.Result
	confirmFn func(clientSecret string) gateway.Result

	refundErr      error
	refundCurrency enums.Currency
}

func (s *stubAdapter) Processor() enums.Processor { return s.processor }

func (s *stubAdapter) AuthorizeOrCapture(ctx context.Context, params gateway.ChargeParams) (gateway.Result, error) {
	s.calls++
	if s.chargeFn != nil {
		return s.chargeFn(params), nil
	}
	return gateway.Result{Kind: gateway.ResultCaptured, TransactionID: fmt.Sprintf("txn-%d", s.calls)}, nil
}

func (s *stubAdapter) Confirm(ctx context.Context, clientSecret string) (gateway.Result, error) {
	if s.confirmFn != nil {
		return s.confirmFn(clientSecret), nil
	}
	return gateway.Result{Kind: gateway.ResultCaptured, TransactionID: "txn-confirmed"}, nil
}

func (s *stubAdapter) Refund(ctx context.Context, transactionID string, amountCents *int64, currency enums.Currency) (gateway.RefundResult, error) {
	s.refundCurrency = currency
	if s.refundErr != nil {
		return gateway.RefundResult{}, s.refundErr
	}
	return gateway.RefundResult{RefundID: "re-1"}, nil
}

type stubRegistry struct {
	adapter *stubAdapter
}

func (s *stubRegistry) For(processor enums.Processor) (gateway.Adapter, error) {
	return s.adapter, nil
}

type identityConverter struct{}

func (identityConverter) ToUSDCents(ctx context.Context, amountCents int64, from enums.Currency) (int64, error) {
	return amountCents, nil
}

func (identityConverter) FromUSDCents(ctx context.Context, usdCents int64, to enums.Currency) (int64, error) {
	return usdCents, nil
}

func (identityConverter) Rate(ctx context.Context, c enums.Currency) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

// fixedRateConverter converts at one fixed rate for every non-USD currency.
type fixedRateConverter struct {
	rate decimal.Decimal
}

func (c fixedRateConverter) ToUSDCents(ctx context.Context, amountCents int64, from enums.Currency) (int64, error) {
	if from == enums.CurrencyUSD {
		return amountCents, nil
	}
	return decimal.NewFromInt(amountCents).Div(c.rate).Round(0).IntPart(), nil
}

func (c fixedRateConverter) FromUSDCents(ctx context.Context, usdCents int64, to enums.Currency) (int64, error) {
	if to == enums.CurrencyUSD {
		return usdCents, nil
	}
	return decimal.NewFromInt(usdCents).Mul(c.rate).Round(0).IntPart(), nil
}

func (c fixedRateConverter) Rate(ctx context.Context, cur enums.Currency) (decimal.Decimal, error) {
	return c.rate, nil
}

type stubAttempts struct {
	values map[string]string
}

func newStubAttempts() *stubAttempts {
	return &stubAttempts{values: map[string]string{}}
}

func (s *stubAttempts) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("missing key")
}

func (s *stubAttempts) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.values[key] = fmt.Sprint(value)
	return nil
}

func (s *stubAttempts) ChargeAttemptKey(orderID, sellerID, fingerprint string) string {
	return fmt.Sprintf("gr:charge_attempt:%s:%s:%s", orderID, sellerID, fingerprint)
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// ---- fixtures ----

type fixture struct {
	svc          Service
	orderRepo    *stubOrderRepo
	purchaseRepo *stubPurchaseRepo
	adapter      *stubAdapter
	attempts     *stubAttempts
	merchantsSvc *stubMerchantsSvc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConverter(t, identityConverter{})
}

func newFixtureWithConverter(t *testing.T, converter currency.Converter) *fixture {
	t.Helper()
	f := &fixture{
		orderRepo:    &stubOrderRepo{},
		purchaseRepo: newStubPurchaseRepo(),
		adapter:      &stubAdapter{processor: enums.ProcessorStripe},
		attempts:     newStubAttempts(),
		merchantsSvc: &stubMerchantsSvc{accounts: map[uuid.UUID]*models.MerchantAccount{}},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:         f.orderRepo,
		PurchaseRepo: f.purchaseRepo,
		PurchaseSvc:  stubPurchaseSvc{},
		Merchants:    f.merchantsSvc,
		Gateways:     &stubRegistry{adapter: f.adapter},
		Converter:    converter,
		Attempts:     f.attempts,
		Tx:           stubTxRunner{},
		Checkout: config.CheckoutConfig{
			DoubleChargeWindow:  5 * time.Minute,
			PriceToleranceCents: 1,
			AttemptTTL:          24 * time.Hour,
		},
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) addSeller(t *testing.T, country string) uuid.UUID {
	return f.addSellerSettling(t, country, enums.CurrencyUSD)
}

func (f *fixture) addSellerSettling(t *testing.T, country string, settlement enums.Currency) uuid.UUID {
	t.Helper()
	sellerID := uuid.New()
	f.merchantsSvc.accounts[sellerID] = &models.MerchantAccount{
		ID:                  uuid.New(),
		SellerID:            sellerID,
		Processor:           enums.ProcessorStripe,
		ProcessorMerchantID: "acct_" + sellerID.String()[:8],
		SettlementCurrency:  settlement,
		Country:             country,
	}
	return sellerID
}

func (f *fixture) addOrder(purchaseSpecs ...models.Purchase) *models.Order {
	order := &models.Order{
		ID:          uuid.New(),
		ExternalID:  uuid.NewString(),
		BuyerEmail:  "buyer@example.com",
		BrowserGUID: "guid-1",
	}
	for i := range purchaseSpecs {
		purchaseSpecs[i].ID = uuid.New()
		purchaseSpecs[i].OrderID = order.ID
		purchaseSpecs[i].Position = i
		if purchaseSpecs[i].State == "" {
			purchaseSpecs[i].State = enums.PurchaseStateInProgress
		}
	}
	order.Purchases = purchaseSpecs
	f.orderRepo.order = order
	for i := range order.Purchases {
		p := order.Purchases[i]
		f.purchaseRepo.byID[p.ID] = &p
	}
	return order
}

func chargeParams(order *models.Order) ChargeOrderParams {
	return ChargeOrderParams{
		OrderID:         order.ID,
		PaymentMethodID: "pm_test",
	}
}

// ---- tests ----

func TestChargeOneChargePerSellerAndReconciliation(t *testing.T) {
	f := newFixture(t)
	sellerA := f.addSeller(t, "US")
	sellerB := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: sellerA, LineItemUID: "a1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
		models.Purchase{SellerID: sellerA, LineItemUID: "a2", TotalTransactionCents: 500, GumroadAmountCents: 100},
		models.Purchase{SellerID: sellerB, LineItemUID: "b1", TotalTransactionCents: 2000, GumroadAmountCents: 250},
	)

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
	for _, response := range responses {
		if !response.Success {
			t.Fatalf("expected success for %s: %+v", response.LineItemUID, response)
		}
	}

	if len(f.orderRepo.charges) != 2 {
		t.Fatalf("expected exactly 2 charges, got %d", len(f.orderRepo.charges))
	}
	for _, charge := range f.orderRepo.charges {
		var wantAmount, wantPlatform int64
		for _, purchase := range order.Purchases {
			if purchase.SellerID == charge.SellerID {
				wantAmount += purchase.TotalTransactionCents
				wantPlatform += purchase.GumroadAmountCents
			}
		}
		if charge.AmountCents == nil || *charge.AmountCents != wantAmount {
			t.Fatalf("charge amount does not reconcile: got %v want %d", charge.AmountCents, wantAmount)
		}
		if charge.GumroadAmountCents == nil || *charge.GumroadAmountCents != wantPlatform {
			t.Fatalf("platform amount does not reconcile: got %v want %d", charge.GumroadAmountCents, wantPlatform)
		}
	}

	// seller balances received amount minus the platform's cut
	if f.purchaseRepo.balances[sellerA] != 1250 {
		t.Fatalf("seller A balance: got %d want 1250", f.purchaseRepo.balances[sellerA])
	}
	if f.purchaseRepo.balances[sellerB] != 1750 {
		t.Fatalf("seller B balance: got %d want 1750", f.purchaseRepo.balances[sellerB])
	}

	// all purchases terminal successful
	for _, purchase := range f.purchaseRepo.updated {
		if purchase.State != enums.PurchaseStateSuccessful {
			t.Fatalf("purchase %s not successful: %s", purchase.LineItemUID, purchase.State)
		}
		if purchase.ChargeID == nil {
			t.Fatalf("purchase %s has no charge", purchase.LineItemUID)
		}
	}
}

func TestChargeAllFreeGroup(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New() // deliberately no merchant account: none is needed
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "free1", TotalTransactionCents: 0},
		models.Purchase{SellerID: seller, LineItemUID: "free2", TotalTransactionCents: 0},
	)

	responses, err := f.svc.Charge(context.Background(), ChargeOrderParams{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if f.adapter.calls != 0 {
		t.Fatal("no gateway call expected for an all-free group")
	}
	if len(f.orderRepo.charges) != 1 {
		t.Fatalf("expected 1 anchor charge, got %d", len(f.orderRepo.charges))
	}
	charge := f.orderRepo.charges[0]
	if charge.AmountCents != nil || charge.ProcessorTransactionID != nil {
		t.Fatal("all-free charge must have nil amount and transaction id")
	}
	for _, purchase := range f.purchaseRepo.updated {
		if purchase.State != enums.PurchaseStateSuccessful {
			t.Fatalf("free purchase should be successful, got %s", purchase.State)
		}
	}
}

func TestChargeDeferredFreeTrialNotCharged(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	order := f.addOrder(
		models.Purchase{
			SellerID:              seller,
			LineItemUID:           "trial",
			TotalTransactionCents: 900,
			IsFreeTrial:           true,
			Recurrence:            monthly(),
		},
	)

	responses, err := f.svc.Charge(context.Background(), ChargeOrderParams{OrderID: order.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 1 || !responses[0].Success {
		t.Fatalf("unexpected responses %+v", responses)
	}
	updated := f.purchaseRepo.updated[order.Purchases[0].ID]
	if updated.State != enums.PurchaseStateNotCharged {
		t.Fatalf("deferred trial should be not_charged, got %s", updated.State)
	}
}

func TestChargeIdempotentRetryReplaysAttempt(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "a1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)

	record, _ := json.Marshal(attemptRecord{Kind: "captured", TransactionID: "txn-original"})
	key := f.attempts.ChargeAttemptKey(order.ID.String(), seller.String(), attemptFingerprint("pm_test", 1000))
	f.attempts.values[key] = string(record)

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatalf("replay must not reach the gateway, got %d calls", f.adapter.calls)
	}
	if len(responses) != 1 || !responses[0].Success {
		t.Fatalf("unexpected responses %+v", responses)
	}
	updated := f.purchaseRepo.updated[order.Purchases[0].ID]
	if updated.ProcessorTransactionID == nil || *updated.ProcessorTransactionID != "txn-original" {
		t.Fatal("replayed transaction id not applied")
	}
}

func TestChargeRecordsAttemptAfterGatewayCall(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "a1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)

	if _, err := f.svc.Charge(context.Background(), chargeParams(order)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.adapter.calls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", f.adapter.calls)
	}
	if len(f.attempts.values) != 1 {
		t.Fatalf("expected attempt record, got %d", len(f.attempts.values))
	}
}

func TestChargeStepUpRoundTrip(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "a1", TotalTransactionCents: 1500, GumroadAmountCents: 200},
		models.Purchase{SellerID: seller, LineItemUID: "a2", TotalTransactionCents: 500, GumroadAmountCents: 100},
	)
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		return gateway.Result{
			Kind:          gateway.ResultRequiresAction,
			TransactionID: "pi_sca",
			ClientSecret:  "pi_sca_secret_1",
		}
	}

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	account := f.merchantsSvc.accounts[seller]
	for _, response := range responses {
		if !response.Success || !response.RequiresCardAction {
			t.Fatalf("expected step-up response, got %+v", response)
		}
		if response.ClientSecret != "pi_sca_secret_1" {
			t.Fatalf("client secret missing, got %q", response.ClientSecret)
		}
		if response.Order == nil || response.Order.StripeConnectAccountID != account.ProcessorMerchantID {
			t.Fatal("order ref with connect account missing")
		}
	}
	// purchases remain in_progress awaiting confirmation
	for _, purchase := range f.purchaseRepo.updated {
		if purchase.State != enums.PurchaseStateInProgress {
			t.Fatalf("expected in_progress, got %s", purchase.State)
		}
	}

	// keep the repo's view of purchases in sync for the confirm pass
	for id, purchase := range f.purchaseRepo.updated {
		p := purchase
		f.purchaseRepo.byID[id] = &p
	}

	confirmResponses, summaries, err := f.svc.Confirm(context.Background(), order.ID, ConfirmParams{
		ClientSecret: "pi_sca_secret_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("no offer summaries expected, got %+v", summaries)
	}
	if len(confirmResponses) != 2 {
		t.Fatalf("expected 2 confirm responses, got %d", len(confirmResponses))
	}
	for _, response := range confirmResponses {
		if !response.Success || response.RequiresCardAction {
			t.Fatalf("expected settled success, got %+v", response)
		}
	}
	for _, purchase := range f.purchaseRepo.updated {
		if purchase.State != enums.PurchaseStateSuccessful {
			t.Fatalf("expected successful after confirm, got %s", purchase.State)
		}
	}
	if f.purchaseRepo.balances[seller] != 1700 {
		t.Fatalf("seller balance after confirm: got %d want 1700", f.purchaseRepo.balances[seller])
	}
}

func TestConfirmWithErrorPayloadFailsPurchases(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	code := "LAUNCH"
	order := f.addOrder(
		models.Purchase{
			SellerID:              seller,
			LineItemUID:           "a1",
			TotalTransactionCents: 1500,
			GumroadAmountCents:    200,
			ProductPermalink:      "beats-vol-1",
			OfferCode:             &code,
			OfferDiscountCents:    300,
		},
	)
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		return gateway.Result{Kind: gateway.ResultRequiresAction, ClientSecret: "pi_x_secret_y"}
	}
	if _, err := f.svc.Charge(context.Background(), chargeParams(order)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, purchase := range f.purchaseRepo.updated {
		p := purchase
		f.purchaseRepo.byID[id] = &p
	}

	errorMessage := "authentication_failure"
	responses, summaries, err := f.svc.Confirm(context.Background(), order.ID, ConfirmParams{
		ClientSecret: "pi_x_secret_y",
		ErrorMessage: &errorMessage,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 1 || responses[0].Success {
		t.Fatalf("expected failure response, got %+v", responses)
	}
	if responses[0].ErrorMessage != authenticationFailed {
		t.Fatalf("expected translated message, got %q", responses[0].ErrorMessage)
	}
	updated := f.purchaseRepo.updated[order.Purchases[0].ID]
	if updated.State != enums.PurchaseStateFailed {
		t.Fatalf("expected failed, got %s", updated.State)
	}
	if len(summaries) != 1 || summaries[0].Code != "LAUNCH" {
		t.Fatalf("expected offer summary for LAUNCH, got %+v", summaries)
	}
	if len(summaries[0].Products) != 1 || summaries[0].Products[0] != "beats-vol-1" {
		t.Fatalf("unexpected summary products %+v", summaries[0].Products)
	}
}

func TestChargeFailureIsolationAcrossSellers(t *testing.T) {
	f := newFixture(t)
	sellerOK := f.addSeller(t, "US")
	sellerBad := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: sellerOK, LineItemUID: "ok", TotalTransactionCents: 1000, GumroadAmountCents: 150},
		models.Purchase{SellerID: sellerBad, LineItemUID: "bad", TotalTransactionCents: 2000, GumroadAmountCents: 250},
	)
	badAccount := f.merchantsSvc.accounts[sellerBad].ProcessorMerchantID
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		if params.ProcessorMerchantID == badAccount {
			return gateway.Result{Kind: gateway.ResultDeclined, DeclineReason: "Your card was declined."}
		}
		return gateway.Result{Kind: gateway.ResultCaptured, TransactionID: "txn-ok"}
	}

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if !responses[0].Success {
		t.Fatalf("seller OK group should succeed: %+v", responses[0])
	}
	if responses[1].Success || responses[1].ErrorMessage != "Your card was declined." {
		t.Fatalf("seller Bad group should fail with decline reason: %+v", responses[1])
	}

	okPurchase := f.purchaseRepo.updated[order.Purchases[0].ID]
	badPurchase := f.purchaseRepo.updated[order.Purchases[1].ID]
	if okPurchase.State != enums.PurchaseStateSuccessful {
		t.Fatalf("expected successful, got %s", okPurchase.State)
	}
	if badPurchase.State != enums.PurchaseStateFailed {
		t.Fatalf("expected failed, got %s", badPurchase.State)
	}

	// only the successful seller got a charge with money on it
	for _, charge := range f.orderRepo.charges {
		if charge.SellerID == sellerBad && charge.AmountCents != nil {
			t.Fatal("declined group must not carry a charged amount")
		}
	}
	if f.purchaseRepo.balances[sellerBad] != 0 {
		t.Fatal("declined seller must not be credited")
	}
}

func TestChargeBrazilAccountWaivesPlatformFee(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "BR")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "br1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)
	var captured gateway.ChargeParams
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		captured = params
		return gateway.Result{Kind: gateway.ResultCaptured, TransactionID: "txn-br"}
	}

	if _, err := f.svc.Charge(context.Background(), chargeParams(order)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.AmountCents != 1000 {
		t.Fatalf("gross amount should be charged in full, got %d", captured.AmountCents)
	}
	if captured.PlatformFeeCents != 0 {
		t.Fatalf("platform fee should be waived, got %d", captured.PlatformFeeCents)
	}
	charge := f.orderRepo.charges[0]
	if charge.GumroadAmountCents == nil || *charge.GumroadAmountCents != 0 {
		t.Fatalf("gumroad amount should be zero, got %v", charge.GumroadAmountCents)
	}
	if f.purchaseRepo.balances[seller] != 1000 {
		t.Fatalf("seller keeps the gross amount, got %d", f.purchaseRepo.balances[seller])
	}
}

func TestChargeResponsesPreserveSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	sellerA := f.addSeller(t, "US")
	sellerB := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: sellerA, LineItemUID: "A", TotalTransactionCents: 100, GumroadAmountCents: 60},
		models.Purchase{SellerID: sellerB, LineItemUID: "B", TotalTransactionCents: 200, GumroadAmountCents: 70},
		models.Purchase{SellerID: sellerA, LineItemUID: "C", TotalTransactionCents: 300, GumroadAmountCents: 80},
	)

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{}
	for _, response := range responses {
		got = append(got, response.LineItemUID)
	}
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("response order %v does not match submission order %v", got, want)
		}
	}
}

func TestChargeUnavailableGatewayFailsGroupWithGenericMessage(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "a1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		return gateway.Result{Kind: gateway.ResultUnavailable, Cause: fmt.Errorf("connection reset")}
	}

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if responses[0].Success || responses[0].ErrorMessage != unavailableMessage {
		t.Fatalf("expected generic unavailable message, got %+v", responses[0])
	}
	// outages are not recorded, so an infra-level retry reaches the gateway
	if len(f.attempts.values) != 0 {
		t.Fatal("unavailable outcomes must not be recorded as attempts")
	}
}

func TestChargeDoubleSubmitGuard(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "a1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)
	f.orderRepo.recent = &models.Order{ID: uuid.New(), BrowserGUID: "guid-1", CreatedAt: time.Now()}

	_, err := f.svc.Charge(context.Background(), ChargeOrderParams{
		OrderID:         order.ID,
		PaymentMethodID: "pm_test",
		BrowserGUID:     "guid-1",
	})
	if err == nil {
		t.Fatal("expected double-submit rejection")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatal("guard must run before any gateway call")
	}
}

func TestChargeDoubleSubmitAllowsUpgrades(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "up1", TotalTransactionCents: 1000, GumroadAmountCents: 150, IsUpgrade: true},
	)
	f.orderRepo.recent = &models.Order{ID: uuid.New(), BrowserGUID: "guid-1", CreatedAt: time.Now()}

	responses, err := f.svc.Charge(context.Background(), ChargeOrderParams{
		OrderID:         order.ID,
		PaymentMethodID: "pm_test",
		BrowserGUID:     "guid-1",
	})
	if err != nil {
		t.Fatalf("upgrade purchases should pass the guard: %v", err)
	}
	if len(responses) != 1 || !responses[0].Success {
		t.Fatalf("unexpected responses %+v", responses)
	}
}

func TestChargeRevalidatesStateUnderRowLock(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "raced", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)

	// Another worker terminalized the row after the order was loaded but
	// before the settlement transaction ran.
	message := "card declined elsewhere"
	raced := f.purchaseRepo.byID[order.Purchases[0].ID]
	raced.State = enums.PurchaseStateFailed
	raced.ErrorMessage = &message

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 0 {
		t.Fatalf("raced group must not produce a success response, got %+v", responses)
	}
	if f.purchaseRepo.balances[seller] != 0 {
		t.Fatalf("raced purchase must not credit the seller, got %d", f.purchaseRepo.balances[seller])
	}
	if updated, ok := f.purchaseRepo.updated[order.Purchases[0].ID]; ok && updated.State == enums.PurchaseStateSuccessful {
		t.Fatal("failed purchase must not be flipped to successful")
	}
}

func TestConfirmMerchantLookupFailureLeavesPurchasesSuspended(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "BR")
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "br1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		return gateway.Result{Kind: gateway.ResultRequiresAction, ClientSecret: "pi_br_secret_1"}
	}
	if _, err := f.svc.Charge(context.Background(), chargeParams(order)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, purchase := range f.purchaseRepo.updated {
		p := purchase
		f.purchaseRepo.byID[id] = &p
	}

	// A transient lookup failure must not settle with a fee this account
	// waives; the confirmation has to stay retryable.
	f.merchantsSvc.resolveErr = fmt.Errorf("merchant lookup timed out")
	_, _, err := f.svc.Confirm(context.Background(), order.ID, ConfirmParams{ClientSecret: "pi_br_secret_1"})
	if pkgerrors.As(err).Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if f.purchaseRepo.byID[order.Purchases[0].ID].State != enums.PurchaseStateInProgress {
		t.Fatal("purchases must stay suspended after a failed merchant lookup")
	}
	if f.purchaseRepo.balances[seller] != 0 {
		t.Fatal("no balance may move before the confirmation settles")
	}

	f.merchantsSvc.resolveErr = nil
	responses, _, err := f.svc.Confirm(context.Background(), order.ID, ConfirmParams{ClientSecret: "pi_br_secret_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responses) != 1 || !responses[0].Success {
		t.Fatalf("unexpected responses %+v", responses)
	}
	if f.purchaseRepo.balances[seller] != 1000 {
		t.Fatalf("retry should settle with the fee waived, got %d", f.purchaseRepo.balances[seller])
	}
}

func TestChargeNonUSDSettlementReconciliation(t *testing.T) {
	f := newFixtureWithConverter(t, fixedRateConverter{rate: decimal.NewFromFloat(0.9)})
	seller := f.addSellerSettling(t, "US", enums.CurrencyEUR)
	order := f.addOrder(
		models.Purchase{SellerID: seller, LineItemUID: "eu1", TotalTransactionCents: 1000, GumroadAmountCents: 150},
	)
	var captured gateway.ChargeParams
	f.adapter.chargeFn = func(params gateway.ChargeParams) gateway.Result {
		captured = params
		return gateway.Result{Kind: gateway.ResultCaptured, TransactionID: "txn-eur"}
	}

	if _, err := f.svc.Charge(context.Background(), chargeParams(order)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the gateway is asked for settlement-currency minor units
	if captured.AmountCents != 900 || captured.PlatformFeeCents != 135 {
		t.Fatalf("expected converted 900/135, got %d/%d", captured.AmountCents, captured.PlatformFeeCents)
	}
	if captured.Currency != enums.CurrencyEUR {
		t.Fatalf("expected EUR charge, got %s", captured.Currency)
	}

	charge := f.orderRepo.charges[0]
	if charge.AmountCents == nil || *charge.AmountCents != 900 {
		t.Fatalf("charge amount in settlement currency: got %v want 900", charge.AmountCents)
	}
	if charge.GumroadAmountCents == nil || *charge.GumroadAmountCents != 135 {
		t.Fatalf("platform amount in settlement currency: got %v want 135", charge.GumroadAmountCents)
	}
	if charge.SettlementCurrency != enums.CurrencyEUR {
		t.Fatalf("settlement currency not recorded, got %s", charge.SettlementCurrency)
	}

	// purchase totals and seller balances stay in USD cents
	if f.purchaseRepo.balances[seller] != 850 {
		t.Fatalf("seller balance is kept in USD cents: got %d want 850", f.purchaseRepo.balances[seller])
	}
}

func TestChargeAlreadyTerminalShortCircuits(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	txn := "txn-done"
	order := f.addOrder(
		models.Purchase{
			SellerID:               seller,
			LineItemUID:            "done",
			TotalTransactionCents:  1000,
			GumroadAmountCents:     150,
			State:                  enums.PurchaseStateSuccessful,
			ProcessorTransactionID: &txn,
		},
	)

	responses, err := f.svc.Charge(context.Background(), chargeParams(order))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatal("terminal purchases must not be recharged")
	}
	if len(responses) != 1 || !responses[0].Success {
		t.Fatalf("unexpected responses %+v", responses)
	}
}
