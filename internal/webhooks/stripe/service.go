package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/db"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the dispute event handler.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service translates Stripe dispute webhooks into charge event rows.
type Service struct {
	repo     Repository
	txRunner txRunner
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge event repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:     params.Repo,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// HandleEvent records dispute lifecycle events. Unrelated event types are
// acknowledged without side effects so Stripe stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeChargeDisputeCreated,
		stripe.EventTypeChargeDisputeClosed,
		stripe.EventTypeChargeDisputeFundsWithdrawn,
		stripe.EventTypeChargeDisputeFundsReinstated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode dispute event")
		}
		return s.recordDispute(ctx, event, &dispute)
	default:
		return nil
	}
}

func (s *Service) recordDispute(ctx context.Context, event *stripe.Event, dispute *stripe.Dispute) error {
	transactionID := transactionIDOf(dispute)
	if transactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute has no transaction reference")
	}

	record := &models.ChargeEvent{
		Kind:                   kindOf(event.Type, dispute.Status),
		ProcessorTransactionID: transactionID,
		ProcessorEventID:       event.ID,
		FlowOfFunds:            json.RawMessage(event.Data.Raw),
		OccurredAt:             time.Unix(event.Created, 0).UTC(),
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, record); err != nil {
			// Stripe redelivers; a replayed event id is a no-op.
			if db.IsUniqueViolation(err, "") {
				s.logg.Info(ctx, fmt.Sprintf("stripe event %s already recorded", event.ID))
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording charge event")
		}
		return nil
	})
}

// kindOf maps the dispute lifecycle onto the closed event kind set. Fund
// movement notifications stay informational; only a closed dispute settles
// into won or lost.
func kindOf(eventType stripe.EventType, status stripe.DisputeStatus) enums.ChargeEventKind {
	switch eventType {
	case stripe.EventTypeChargeDisputeCreated:
		return enums.ChargeEventKindDisputeFormalized
	case stripe.EventTypeChargeDisputeClosed:
		switch status {
		case stripe.DisputeStatusWon:
			return enums.ChargeEventKindDisputeWon
		case stripe.DisputeStatusLost:
			return enums.ChargeEventKindDisputeLost
		default:
			return enums.ChargeEventKindInformational
		}
	default:
		return enums.ChargeEventKindInformational
	}
}

func transactionIDOf(dispute *stripe.Dispute) string {
	if dispute == nil {
		return ""
	}
	if dispute.PaymentIntent != nil && dispute.PaymentIntent.ID != "" {
		return dispute.PaymentIntent.ID
	}
	if dispute.Charge != nil {
		return dispute.Charge.ID
	}
	return ""
}
