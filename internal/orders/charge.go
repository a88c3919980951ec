package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/internal/purchases"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
)

const (
	unavailableMessage   = "Something went wrong, please try again."
	noMerchantMessage    = "This seller cannot accept payments right now."
	authenticationFailed = "We are unable to authenticate your payment method."
)

// attemptRecord is the redis-persisted outcome of one gateway attempt,
// replayed on retry so the second call answers like the first.
type attemptRecord struct {
	Kind          string `json:"kind"`
	TransactionID string `json:"transaction_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

// Charge drives every seller group of the order to an outcome. Groups are
// independent: one group's decline never aborts another group's capture.
func (s *service) Charge(ctx context.Context, params ChargeOrderParams) ([]ChargeResponse, error) {
	if params.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	order, err := s.repo.FindByID(ctx, params.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if len(order.Purchases) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no purchases")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if err := s.guardDoubleSubmit(ctx, order, params); err != nil {
		return nil, err
	}

	if params.PaymentMethodID == "" && anyRequiresPayment(order.Purchases) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}

	byPurchase := make(map[uuid.UUID]ChargeResponse, len(order.Purchases))
	var groupErrs error
	for _, group := range GroupBySeller(order.Purchases) {
		responses, err := s.chargeGroup(ctx, order, group, params)
		if err != nil {
			// Propagation stops at the group boundary; the group's
			// purchases were already terminalized as failed.
			groupErrs = multierr.Append(groupErrs, err)
		}
		for _, response := range responses {
			byPurchase[response.PurchaseID] = response
		}
	}
	if groupErrs != nil {
		s.logg.Error(ctx, "one or more charge groups hit internal errors", groupErrs)
	}

	ordered := make([]ChargeResponse, 0, len(order.Purchases))
	for _, purchase := range order.Purchases {
		if response, ok := byPurchase[purchase.ID]; ok {
			ordered = append(ordered, response)
		}
	}
	return ordered, nil
}

// guardDoubleSubmit rejects a near-duplicate browser submission inside
// the double-charge window. Upgrade purchases are let through: a plan
// upgrade legitimately re-charges within minutes of the original buy.
func (s *service) guardDoubleSubmit(ctx context.Context, order *models.Order, params ChargeOrderParams) error {
	guid := params.BrowserGUID
	if guid == "" {
		guid = order.BrowserGUID
	}
	if guid == "" || s.cfg.DoubleChargeWindow <= 0 {
		return nil
	}
	if allUpgrades(order.Purchases) {
		return nil
	}

	recent, err := s.repo.FindRecentByBrowserGUID(ctx, guid, order.ID, s.cfg.DoubleChargeWindow)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking for duplicate submission")
	}
	if recent != nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "a checkout from this browser was just submitted, please wait a moment")
	}
	return nil
}

func (s *service) chargeGroup(ctx context.Context, order *models.Order, group ChargeGroup, params ChargeOrderParams) ([]ChargeResponse, error) {
	ctx = s.logg.WithSellerID(ctx, group.SellerID.String())

	var responses []ChargeResponse
	var open []models.Purchase
	for _, purchase := range group.Purchases {
		if purchase.State.IsTerminal() {
			responses = append(responses, s.stateResponse(purchase))
			continue
		}
		open = append(open, purchase)
	}
	if len(open) == 0 {
		return responses, nil
	}

	immediate, freeOrDeferred := partitionByPayment(open)

	if len(immediate) == 0 {
		finalized, err := s.finalizeFreeGroup(ctx, order, group.SellerID, freeOrDeferred)
		if err != nil {
			failed, _ := s.failGroup(ctx, open, unavailableMessage)
			return append(responses, failed...), err
		}
		return append(responses, finalized...), nil
	}

	account, err := s.merchants.Resolve(ctx, group.SellerID)
	if err != nil {
		if pkgerrors.As(err).Code() == pkgerrors.CodeNotFound {
			failed, failErr := s.failGroup(ctx, open, noMerchantMessage)
			return append(responses, failed...), failErr
		}
		failed, _ := s.failGroup(ctx, open, unavailableMessage)
		return append(responses, failed...), err
	}

	totalUSD := int64(0)
	platformUSD := int64(0)
	for _, purchase := range immediate {
		totalUSD += purchase.TotalTransactionCents
		platformUSD += purchase.GumroadAmountCents
	}
	if account.WaivesPlatformFee() {
		platformUSD = 0
	}

	amount, err := s.converter.FromUSDCents(ctx, totalUSD, account.SettlementCurrency)
	if err != nil {
		failed, _ := s.failGroup(ctx, open, unavailableMessage)
		return append(responses, failed...), err
	}
	platformAmount, err := s.converter.FromUSDCents(ctx, platformUSD, account.SettlementCurrency)
	if err != nil {
		failed, _ := s.failGroup(ctx, open, unavailableMessage)
		return append(responses, failed...), err
	}

	fingerprint := attemptFingerprint(params.PaymentMethodID, amount)
	attemptKey := s.attempts.ChargeAttemptKey(order.ID.String(), group.SellerID.String(), fingerprint)

	result, replayed := s.loadPriorAttempt(ctx, attemptKey)
	if !replayed {
		adapter, adapterErr := s.gateways.For(account.Processor)
		if adapterErr != nil {
			failed, _ := s.failGroup(ctx, open, unavailableMessage)
			return append(responses, failed...), adapterErr
		}

		started := time.Now()
		result, err = adapter.AuthorizeOrCapture(ctx, gateway.ChargeParams{
			AmountCents:         amount,
			PlatformFeeCents:    platformAmount,
			Currency:            account.SettlementCurrency,
			PaymentMethodID:     params.PaymentMethodID,
			CustomerID:          params.CustomerID,
			ProcessorMerchantID: account.ProcessorMerchantID,
			IdempotencyKey:      attemptKey,
			Description:         fmt.Sprintf("Order %s", order.ExternalID),
			BuyerEmail:          order.BuyerEmail,
			Mandate:             MandateOptionsFor(open),
		})
		s.metrics.ObserveGatewayLatency(account.Processor.String(), time.Since(started))
		if err != nil {
			failed, _ := s.failGroup(ctx, open, unavailableMessage)
			return append(responses, failed...), err
		}
		s.metrics.IncOutcome(account.Processor.String(), string(result.Kind))
		s.storeAttempt(ctx, attemptKey, result)
	}

	switch result.Kind {
	case gateway.ResultCaptured:
		finalized, err := s.finalizeCaptured(ctx, order, account, immediate, freeOrDeferred, amount, platformAmount, totalUSD, platformUSD, result)
		if err != nil {
			return responses, err
		}
		return append(responses, finalized...), nil

	case gateway.ResultRequiresAction:
		suspended, err := s.suspendForAction(ctx, order, account, open, result)
		if err != nil {
			return responses, err
		}
		return append(responses, suspended...), nil

	case gateway.ResultDeclined:
		failed, err := s.failGroup(ctx, open, result.DeclineReason)
		return append(responses, failed...), err

	default: // gateway.ResultUnavailable
		s.logg.Error(ctx, "gateway unavailable for charge group", result.Cause)
		failed, err := s.failGroup(ctx, open, unavailableMessage)
		return append(responses, failed...), err
	}
}

// loadPriorAttempt replays an already-recorded gateway outcome so a
// retried request cannot produce a second transaction.
func (s *service) loadPriorAttempt(ctx context.Context, key string) (gateway.Result, bool) {
	raw, err := s.attempts.Get(ctx, key)
	if err != nil || raw == "" {
		return gateway.Result{}, false
	}
	var record attemptRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.logg.Warn(ctx, "discarding malformed attempt record")
		return gateway.Result{}, false
	}
	return gateway.Result{
		Kind:          gateway.ResultKind(record.Kind),
		TransactionID: record.TransactionID,
		ClientSecret:  record.ClientSecret,
		DeclineReason: record.DeclineReason,
	}, true
}

// storeAttempt records a definitive outcome. Unavailable outcomes are not
// recorded: those retries should reach the gateway again.
func (s *service) storeAttempt(ctx context.Context, key string, result gateway.Result) {
	if result.Kind == gateway.ResultUnavailable {
		return
	}
	record := attemptRecord{
		Kind:          string(result.Kind),
		TransactionID: result.TransactionID,
		ClientSecret:  result.ClientSecret,
		DeclineReason: result.DeclineReason,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.attempts.Set(ctx, key, string(payload), s.cfg.AttemptTTL); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("recording charge attempt failed: %v", err))
	}
}

// lockForTransition re-reads the purchase under a row lock so the
// transition below validates against the current state, not the copy
// loaded before the transaction began.
func lockForTransition(ctx context.Context, repo purchases.Repository, purchase *models.Purchase) error {
	locked, err := repo.FindByIDForUpdate(ctx, purchase.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking purchase")
	}
	*purchase = *locked
	return nil
}

func (s *service) finalizeCaptured(ctx context.Context, order *models.Order, account *models.MerchantAccount, immediate, freeOrDeferred []models.Purchase, amount, platformAmount, totalUSD, platformUSD int64, result gateway.Result) ([]ChargeResponse, error) {
	var responses []ChargeResponse
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		purchaseRepo := s.purchaseRepo.WithTx(tx)

		charge, err := repo.FindChargeByOrderAndSeller(ctx, order.ID, account.SellerID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading charge anchor")
			}
			charge = &models.Charge{
				OrderID:  order.ID,
				SellerID: account.SellerID,
			}
		}
		charge.MerchantAccountID = &account.ID
		charge.Processor = account.Processor
		charge.AmountCents = &amount
		charge.GumroadAmountCents = &platformAmount
		charge.SettlementCurrency = account.SettlementCurrency
		charge.ProcessorTransactionID = &result.TransactionID
		charge.ProcessorFeeCents = result.FeeCents
		charge.ProcessorFeeCurrency = result.FeeCurrency
		if result.PaymentMethodFingerprint != "" {
			charge.PaymentMethodFingerprint = &result.PaymentMethodFingerprint
		}
		if charge.ID == uuid.Nil {
			if err := repo.CreateCharge(ctx, charge); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating charge")
			}
		} else if err := repo.UpdateCharge(ctx, charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating charge")
		}

		for i := range immediate {
			purchase := &immediate[i]
			if err := lockForTransition(ctx, purchaseRepo, purchase); err != nil {
				return err
			}
			if err := purchases.ApplyTransition(purchase, enums.PurchaseStateSuccessful, nil); err != nil {
				return err
			}
			purchase.ChargeID = &charge.ID
			purchase.MerchantAccountID = &account.ID
			purchase.ProcessorTransactionID = &result.TransactionID
			if result.PaymentMethodFingerprint != "" {
				purchase.PaymentMethodFingerprint = &result.PaymentMethodFingerprint
			}
			if err := purchaseRepo.Update(ctx, purchase); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating purchase")
			}
			responses = append(responses, successResponse(*purchase))
		}

		folded, err := s.foldInFreeOrDeferred(ctx, purchaseRepo, charge.ID, freeOrDeferred)
		if err != nil {
			return err
		}
		responses = append(responses, folded...)

		sellerShare := totalUSD - platformUSD
		if sellerShare > 0 {
			if err := purchaseRepo.IncrementSellerBalance(ctx, account.SellerID, sellerShare); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "crediting seller balance")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

func (s *service) finalizeFreeGroup(ctx context.Context, order *models.Order, sellerID uuid.UUID, freeOrDeferred []models.Purchase) ([]ChargeResponse, error) {
	var responses []ChargeResponse
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		purchaseRepo := s.purchaseRepo.WithTx(tx)

		// One Charge per seller per order even when no money moves, so
		// downstream reporting always finds the anchor row.
		charge := &models.Charge{
			OrderID:  order.ID,
			SellerID: sellerID,
		}
		if err := repo.CreateCharge(ctx, charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating charge anchor")
		}

		folded, err := s.foldInFreeOrDeferred(ctx, purchaseRepo, charge.ID, freeOrDeferred)
		if err != nil {
			return err
		}
		responses = folded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

func (s *service) foldInFreeOrDeferred(ctx context.Context, purchaseRepo purchases.Repository, chargeID uuid.UUID, freeOrDeferred []models.Purchase) ([]ChargeResponse, error) {
	var responses []ChargeResponse
	for i := range freeOrDeferred {
		purchase := &freeOrDeferred[i]
		if err := lockForTransition(ctx, purchaseRepo, purchase); err != nil {
			return nil, err
		}
		next := enums.PurchaseStateSuccessful
		if purchase.DefersFirstCharge() {
			next = enums.PurchaseStateNotCharged
		}
		if err := purchases.ApplyTransition(purchase, next, nil); err != nil {
			return nil, err
		}
		purchase.ChargeID = &chargeID
		if err := purchaseRepo.Update(ctx, purchase); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating purchase")
		}
		responses = append(responses, successResponse(*purchase))
	}
	return responses, nil
}

func (s *service) suspendForAction(ctx context.Context, order *models.Order, account *models.MerchantAccount, open []models.Purchase, result gateway.Result) ([]ChargeResponse, error) {
	var responses []ChargeResponse
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		purchaseRepo := s.purchaseRepo.WithTx(tx)

		charge, err := repo.FindChargeByOrderAndSeller(ctx, order.ID, account.SellerID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading charge anchor")
			}
			charge = &models.Charge{
				OrderID:  order.ID,
				SellerID: account.SellerID,
			}
		}
		charge.MerchantAccountID = &account.ID
		charge.Processor = account.Processor
		charge.SettlementCurrency = account.SettlementCurrency
		charge.SetupIntentID = &result.ClientSecret
		if charge.ID == uuid.Nil {
			if err := repo.CreateCharge(ctx, charge); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating charge anchor")
			}
		} else if err := repo.UpdateCharge(ctx, charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating charge anchor")
		}

		for i := range open {
			purchase := &open[i]
			if err := lockForTransition(ctx, purchaseRepo, purchase); err != nil {
				return err
			}
			purchase.ChargeID = &charge.ID
			purchase.MerchantAccountID = &account.ID
			if err := purchaseRepo.Update(ctx, purchase); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating purchase")
			}
			responses = append(responses, ChargeResponse{
				LineItemUID:        purchase.LineItemUID,
				PurchaseID:         purchase.ID,
				Success:            true,
				RequiresCardAction: true,
				ClientSecret:       result.ClientSecret,
				Order: &OrderRef{
					ID:                     order.ID,
					ExternalID:             order.ExternalID,
					StripeConnectAccountID: account.ProcessorMerchantID,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

func (s *service) failGroup(ctx context.Context, open []models.Purchase, message string) ([]ChargeResponse, error) {
	var responses []ChargeResponse
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		purchaseRepo := s.purchaseRepo.WithTx(tx)
		for i := range open {
			purchase := &open[i]
			if err := lockForTransition(ctx, purchaseRepo, purchase); err != nil {
				return err
			}
			if err := purchases.ApplyTransition(purchase, enums.PurchaseStateFailed, &message); err != nil {
				return err
			}
			if err := purchaseRepo.Update(ctx, purchase); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating purchase")
			}
			responses = append(responses, ChargeResponse{
				LineItemUID:  purchase.LineItemUID,
				PurchaseID:   purchase.ID,
				Success:      false,
				ErrorMessage: message,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

func (s *service) stateResponse(purchase models.Purchase) ChargeResponse {
	switch purchase.State {
	case enums.PurchaseStateFailed:
		message := unavailableMessage
		if purchase.ErrorMessage != nil {
			message = *purchase.ErrorMessage
		}
		return ChargeResponse{
			LineItemUID:  purchase.LineItemUID,
			PurchaseID:   purchase.ID,
			Success:      false,
			ErrorMessage: message,
		}
	default:
		return successResponse(purchase)
	}
}

func successResponse(purchase models.Purchase) ChargeResponse {
	return ChargeResponse{
		LineItemUID: purchase.LineItemUID,
		PurchaseID:  purchase.ID,
		Success:     true,
		Purchase:    projectionOf(&purchase),
	}
}

func anyRequiresPayment(list []models.Purchase) bool {
	for _, purchase := range list {
		if !purchase.State.IsTerminal() && purchase.RequiresImmediatePayment() {
			return true
		}
	}
	return false
}

func allUpgrades(list []models.Purchase) bool {
	any := false
	for _, purchase := range list {
		if purchase.State.IsTerminal() {
			continue
		}
		any = true
		if !purchase.IsUpgrade {
			return false
		}
	}
	return any
}

func attemptFingerprint(paymentMethodID string, amountCents int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", paymentMethodID, amountCents)))
	return hex.EncodeToString(sum[:8])
}
