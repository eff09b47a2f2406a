package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
)

// Balance is the seller-facing view of a wallet.
type Balance struct {
	SellerID     uuid.UUID `json:"seller_id"`
	BalanceCents int64     `json:"balance_cents"`
}

// Service exposes seller-scoped wallet reads.
type Service interface {
	Balance(ctx context.Context, actorSellerID, sellerID uuid.UUID) (*Balance, error)
	Entries(ctx context.Context, actorSellerID, sellerID uuid.UUID, params pagination.Params) (*pagination.Page[models.WalletLedgerEntry], error)
}

type service struct {
	repo Repository
}

// NewService wires the wallet read service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Balance(ctx context.Context, actorSellerID, sellerID uuid.UUID) (*Balance, error) {
	if err := authorize(actorSellerID, sellerID); err != nil {
		return nil, err
	}
	seller, err := s.repo.FindSeller(ctx, sellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	return &Balance{SellerID: seller.ID, BalanceCents: seller.WalletBalanceCents}, nil
}

func (s *service) Entries(ctx context.Context, actorSellerID, sellerID uuid.UUID, params pagination.Params) (*pagination.Page[models.WalletLedgerEntry], error) {
	if err := authorize(actorSellerID, sellerID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListEntries(ctx, sellerID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet entries")
	}
	page := pagination.Trim(rows, params.Limit, entryCursor)
	return &page, nil
}

func entryCursor(e models.WalletLedgerEntry) pagination.Cursor {
	return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

func authorize(actorSellerID, sellerID uuid.UUID) error {
	if actorSellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "seller identity missing")
	}
	if sellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if actorSellerID != sellerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "wallet belongs to another seller")
	}
	return nil
}
