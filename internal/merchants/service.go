package merchants

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
)

// Service resolves the merchant account that settles a seller's charges,
// plus the fee policy that account carries.
type Service interface {
	Register(ctx context.Context, params RegisterParams) (*models.MerchantAccount, error)
	Resolve(ctx context.Context, sellerID uuid.UUID) (*models.MerchantAccount, error)
	ResolveForProcessor(ctx context.Context, sellerID uuid.UUID, processor enums.Processor) (*models.MerchantAccount, error)
}

// RegisterParams creates a processor account binding for a seller.
type RegisterParams struct {
	SellerID            uuid.UUID
	Processor           enums.Processor
	ProcessorMerchantID string
	SettlementCurrency  enums.Currency
	Country             string
}

type service struct {
	repo Repository
}

// NewService builds the merchant account registry.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Register(ctx context.Context, params RegisterParams) (*models.MerchantAccount, error) {
	if params.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if !params.Processor.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid processor %q", params.Processor))
	}
	if params.ProcessorMerchantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor merchant id is required")
	}
	currency := params.SettlementCurrency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid settlement currency %q", currency))
	}
	country := params.Country
	if country == "" {
		country = "US"
	}

	account := &models.MerchantAccount{
		SellerID:            params.SellerID,
		Processor:           params.Processor,
		ProcessorMerchantID: params.ProcessorMerchantID,
		SettlementCurrency:  currency,
		Country:             country,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating merchant account")
	}
	return account, nil
}

func (s *service) Resolve(ctx context.Context, sellerID uuid.UUID) (*models.MerchantAccount, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	account, err := s.repo.FindBySeller(ctx, sellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller has no merchant account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up merchant account")
	}
	return account, nil
}

func (s *service) ResolveForProcessor(ctx context.Context, sellerID uuid.UUID, processor enums.Processor) (*models.MerchantAccount, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if !processor.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid processor %q", processor))
	}
	account, err := s.repo.FindBySellerAndProcessor(ctx, sellerID, processor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller has no merchant account for processor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up merchant account")
	}
	return account, nil
}
