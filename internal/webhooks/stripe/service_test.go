package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

type stubRepo struct {
	created  []*models.ChargeEvent
	createFn func(event *models.ChargeEvent) error
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, event *models.ChargeEvent) error {
	if s.createFn != nil {
		if err := s.createFn(event); err != nil {
			return err
		}
	}
	s.created = append(s.created, event)
	return nil
}

func (s *stubRepo) ListByTransaction(ctx context.Context, processorTransactionID string) ([]models.ChargeEvent, error) {
	return nil, nil
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestService(t *testing.T, repo *stubRepo) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		TransactionRunner: stubTx{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func disputeEvent(t *testing.T, eventType stripe.EventType, status stripe.DisputeStatus) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":             "dp_1",
		"status":         string(status),
		"payment_intent": map[string]any{"id": "pi_disputed"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &stripe.Event{
		ID:      "evt_1",
		Type:    eventType,
		Created: 1700000000,
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventDisputeCreated(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, repo)

	err := svc.HandleEvent(context.Background(), disputeEvent(t, stripe.EventTypeChargeDisputeCreated, stripe.DisputeStatusNeedsResponse))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.created))
	}
	event := repo.created[0]
	if event.Kind != enums.ChargeEventKindDisputeFormalized {
		t.Fatalf("expected dispute_formalized, got %s", event.Kind)
	}
	if event.ProcessorTransactionID != "pi_disputed" {
		t.Fatalf("unexpected transaction id %q", event.ProcessorTransactionID)
	}
	if event.ProcessorEventID != "evt_1" {
		t.Fatalf("unexpected event id %q", event.ProcessorEventID)
	}
	if len(event.FlowOfFunds) == 0 {
		t.Fatal("expected raw payload to be retained")
	}
}

func TestHandleEventDisputeClosedOutcomes(t *testing.T) {
	cases := []struct {
		status stripe.DisputeStatus
		want   enums.ChargeEventKind
	}{
		{stripe.DisputeStatusWon, enums.ChargeEventKindDisputeWon},
		{stripe.DisputeStatusLost, enums.ChargeEventKindDisputeLost},
		{stripe.DisputeStatusUnderReview, enums.ChargeEventKindInformational},
	}
	for _, tc := range cases {
		repo := &stubRepo{}
		svc := newTestService(t, repo)
		if err := svc.HandleEvent(context.Background(), disputeEvent(t, stripe.EventTypeChargeDisputeClosed, tc.status)); err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.status, err)
		}
		if repo.created[0].Kind != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.status, tc.want, repo.created[0].Kind)
		}
	}
}

func TestHandleEventFundsWithdrawnIsInformational(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, repo)

	err := svc.HandleEvent(context.Background(), disputeEvent(t, stripe.EventTypeChargeDisputeFundsWithdrawn, stripe.DisputeStatusLost))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.created[0].Kind != enums.ChargeEventKindInformational {
		t.Fatalf("expected informational, got %s", repo.created[0].Kind)
	}
}

func TestHandleEventReplayedEventIDIsNoOp(t *testing.T) {
	repo := &stubRepo{
		createFn: func(event *models.ChargeEvent) error {
			return fmt.Errorf(`duplicate key value violates unique constraint "charge_events_processor_event_id_key"`)
		},
	}
	svc := newTestService(t, repo)

	err := svc.HandleEvent(context.Background(), disputeEvent(t, stripe.EventTypeChargeDisputeCreated, stripe.DisputeStatusNeedsResponse))
	if err != nil {
		t.Fatalf("replayed event must be acknowledged, got %v", err)
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, repo)

	event := &stripe.Event{
		ID:   "evt_2",
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatal("unrelated events must not be recorded")
	}
}

func TestHandleEventRequiresData(t *testing.T) {
	svc := newTestService(t, &stubRepo{})
	if err := svc.HandleEvent(context.Background(), nil); err == nil {
		t.Fatal("expected validation error")
	}
}
