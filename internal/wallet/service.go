package wallet

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	WalletRepo        Repository
	TransactionRunner txRunner
	Currency          string
}

// Service owns wallet balances. All movements go through the ledger;
// the cached balance and the entry's balance_after are written in the
// same transaction as the entry itself.
type Service struct {
	repo     Repository
	txRunner txRunner
	currency string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.WalletRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		repo:     params.WalletRepo,
		txRunner: params.TransactionRunner,
		currency: currency,
	}, nil
}

// MovementParams describes a single wallet credit or debit.
type MovementParams struct {
	UserID        uuid.UUID
	AmountCents   int64
	OrderID       *uuid.UUID
	TransactionID *uuid.UUID
	Description   string
	Metadata      json.RawMessage
}

func (p MovementParams) validate() error {
	if p.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if p.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if p.Description == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "description required")
	}
	return nil
}

// Credit adds funds in its own transaction.
func (s *Service) Credit(ctx context.Context, params MovementParams) (*models.WalletLedgerEntry, error) {
	var entry *models.WalletLedgerEntry
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var applyErr error
		entry, applyErr = s.CreditTx(ctx, tx, params)
		return applyErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit removes funds in its own transaction.
func (s *Service) Debit(ctx context.Context, params MovementParams) (*models.WalletLedgerEntry, error) {
	var entry *models.WalletLedgerEntry
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var applyErr error
		entry, applyErr = s.DebitTx(ctx, tx, params)
		return applyErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx applies a credit inside the caller's transaction, creating
// the wallet on first use.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, params MovementParams) (*models.WalletLedgerEntry, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	wallet, err := s.lockOrCreateWallet(ctx, repo, params.UserID)
	if err != nil {
		return nil, err
	}

	wallet.BalanceCents += params.AmountCents
	if err := repo.Update(ctx, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update wallet balance")
	}

	entry := buildEntry(wallet, enums.LedgerEntryTypeCredit, params)
	if err := repo.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create ledger entry")
	}
	return entry, nil
}

// DebitTx applies a debit inside the caller's transaction. Debits
// never create a wallet and never drive the balance negative.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, params MovementParams) (*models.WalletLedgerEntry, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindByUserIDForUpdate(ctx, params.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find wallet")
	}
	if wallet == nil || wallet.BalanceCents < params.AmountCents {
		balance := int64(0)
		if wallet != nil {
			balance = wallet.BalanceCents
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
			WithDetails(map[string]int64{
				"balance_cents":  balance,
				"required_cents": params.AmountCents,
			})
	}

	wallet.BalanceCents -= params.AmountCents
	if err := repo.Update(ctx, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update wallet balance")
	}

	entry := buildEntry(wallet, enums.LedgerEntryTypeDebit, params)
	if err := repo.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create ledger entry")
	}
	return entry, nil
}

// Balance returns the wallet for a user, zero-valued when none exists yet.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	wallet, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find wallet")
	}
	if wallet == nil {
		return &models.Wallet{UserID: userID, Currency: s.currency}, nil
	}
	return wallet, nil
}

// Statement returns the most recent ledger entries for a user.
func (s *Service) Statement(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletLedgerEntry, error) {
	wallet, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.ID == uuid.Nil {
		return []models.WalletLedgerEntry{}, nil
	}
	entries, err := s.repo.ListLedgerEntries(ctx, wallet.ID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	return entries, nil
}

func (s *Service) lockOrCreateWallet(ctx context.Context, repo Repository, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.FindByUserIDForUpdate(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find wallet")
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = &models.Wallet{UserID: userID, Currency: s.currency}
	if err := repo.Create(ctx, wallet); err != nil {
		// A concurrent first credit may have won the insert; lock the
		// winner's row instead.
		existing, findErr := repo.FindByUserIDForUpdate(ctx, userID)
		if findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
	}
	return wallet, nil
}

func buildEntry(wallet *models.Wallet, entryType enums.LedgerEntryType, params MovementParams) *models.WalletLedgerEntry {
	return &models.WalletLedgerEntry{
		WalletID:      wallet.ID,
		Type:          entryType,
		AmountCents:   params.AmountCents,
		BalanceAfter:  wallet.BalanceCents,
		OrderID:       params.OrderID,
		TransactionID: params.TransactionID,
		Description:   params.Description,
		Metadata:      params.Metadata,
	}
}
