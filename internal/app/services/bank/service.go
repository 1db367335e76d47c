// Package bank implements the internal value ledger. Every unit of value in
// the game lives in a ledger account; transfers are atomic and journaled,
// and they either succeed completely or fail with no effect.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	domain "github.com/liqingnz/time-ticket/internal/app/domain/bank"
	"github.com/liqingnz/time-ticket/internal/app/storage"
	"github.com/liqingnz/time-ticket/pkg/logger"
)

// Errors
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnknownAccount      = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountFrozen       = errors.New("receiving account is frozen")
	ErrNotAuthorized       = errors.New("caller not authorized to pull treasury funds")
	ErrUnknownTransaction  = errors.New("transaction not found")
)

// Service manages ledger accounts and the treasury vault. The vault is an
// ordinary account with a pull-funding operation gated by an authorization
// list.
type Service struct {
	store storage.BankStore
	log   *logger.Logger

	mu         sync.Mutex
	vault      string
	authorized map[string]bool
}

// New constructs a bank service. vaultAddress names the treasury account;
// it is created lazily on first use.
func New(store storage.BankStore, vaultAddress string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("bank")
	}
	return &Service{
		store:      store,
		log:        log,
		vault:      vaultAddress,
		authorized: make(map[string]bool),
	}
}

// VaultAddress returns the treasury account address.
func (s *Service) VaultAddress() string { return s.vault }

// Authorize allows an address to pull funds from the vault.
func (s *Service) Authorize(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[address] = true
}

// Revoke removes an address from the vault authorization list.
func (s *Service) Revoke(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authorized, address)
}

// EnsureAccount returns the account for the address, creating it empty if it
// does not exist yet.
func (s *Service) EnsureAccount(ctx context.Context, address string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAccountLocked(ctx, address)
}

func (s *Service) ensureAccountLocked(ctx context.Context, address string) (domain.Account, error) {
	acct, err := s.store.GetBankAccount(ctx, address)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}
	return s.store.CreateBankAccount(ctx, domain.Account{Address: address})
}

// Deposit credits an account. Used to seed balances (the equivalent of value
// arriving from outside the system).
func (s *Service) Deposit(ctx context.Context, address string, amount int64) (domain.Account, error) {
	if amount <= 0 {
		return domain.Account{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.ensureAccountLocked(ctx, address)
	if err != nil {
		return domain.Account{}, err
	}
	acct.Balance += amount
	updated, err := s.store.UpdateBankAccount(ctx, acct)
	if err != nil {
		return domain.Account{}, fmt.Errorf("update account: %w", err)
	}

	_, err = s.store.CreateBankTransaction(ctx, domain.Transaction{
		ID:        uuid.NewString(),
		TxType:    domain.TxTypeDeposit,
		ToAddress: address,
		Amount:    amount,
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to journal deposit")
	}
	return updated, nil
}

// Balance returns the current balance of an address. Unknown addresses have
// a zero balance.
func (s *Service) Balance(ctx context.Context, address string) (int64, error) {
	acct, err := s.store.GetBankAccount(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// SetFrozen toggles whether an account refuses incoming transfers.
func (s *Service) SetFrozen(ctx context.Context, address string, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.ensureAccountLocked(ctx, address)
	if err != nil {
		return err
	}
	acct.Frozen = frozen
	_, err = s.store.UpdateBankAccount(ctx, acct)
	return err
}

// Transfer moves amount from one account to another. It fails with no effect
// when the source has insufficient balance or the destination is frozen. The
// returned transaction can be reversed with Reverse.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(ctx, domain.TxTypeTransfer, from, to, amount, "")
}

func (s *Service) transferLocked(ctx context.Context, txType, from, to string, amount int64, reference string) (domain.Transaction, error) {
	src, err := s.store.GetBankAccount(ctx, from)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get source account: %w", err)
	}
	if src.Balance < amount {
		return domain.Transaction{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, src.Balance, amount)
	}

	dst, err := s.ensureAccountLocked(ctx, to)
	if err != nil {
		return domain.Transaction{}, err
	}
	if dst.Frozen {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrAccountFrozen, to)
	}

	src.Balance -= amount
	dst.Balance += amount
	if _, err := s.store.UpdateBankAccount(ctx, src); err != nil {
		return domain.Transaction{}, fmt.Errorf("debit %s: %w", from, err)
	}
	if _, err := s.store.UpdateBankAccount(ctx, dst); err != nil {
		// Restore the debit so the ledger stays balanced.
		src.Balance += amount
		if _, restoreErr := s.store.UpdateBankAccount(ctx, src); restoreErr != nil {
			s.log.WithError(restoreErr).Error("failed to restore debit after credit failure")
		}
		return domain.Transaction{}, fmt.Errorf("credit %s: %w", to, err)
	}

	tx, err := s.store.CreateBankTransaction(ctx, domain.Transaction{
		ID:          uuid.NewString(),
		TxType:      txType,
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
		ReferenceID: reference,
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to journal transfer")
	}
	return tx, nil
}

// Reverse undoes a prior transfer as a ledger correction. Unlike Transfer it
// ignores the frozen flag on the receiving side: restoring our own
// bookkeeping must always succeed.
func (s *Service) Reverse(ctx context.Context, txID string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig, err := s.store.GetBankTransaction(ctx, txID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Transaction{}, ErrUnknownTransaction
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	src, err := s.store.GetBankAccount(ctx, orig.ToAddress)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get account %s: %w", orig.ToAddress, err)
	}
	if src.Balance < orig.Amount {
		return domain.Transaction{}, fmt.Errorf("%w: cannot reverse %s", ErrInsufficientBalance, txID)
	}
	dst, err := s.ensureAccountLocked(ctx, orig.FromAddress)
	if err != nil {
		return domain.Transaction{}, err
	}

	src.Balance -= orig.Amount
	dst.Balance += orig.Amount
	if _, err := s.store.UpdateBankAccount(ctx, src); err != nil {
		return domain.Transaction{}, fmt.Errorf("debit %s: %w", orig.ToAddress, err)
	}
	if _, err := s.store.UpdateBankAccount(ctx, dst); err != nil {
		return domain.Transaction{}, fmt.Errorf("credit %s: %w", orig.FromAddress, err)
	}

	return s.store.CreateBankTransaction(ctx, domain.Transaction{
		ID:          uuid.NewString(),
		TxType:      domain.TxTypeReversal,
		FromAddress: orig.ToAddress,
		ToAddress:   orig.FromAddress,
		Amount:      orig.Amount,
		ReferenceID: orig.ID,
	})
}

// Fund pulls up to amount from the vault into the caller's account and
// returns the amount actually moved. A refusal or shortfall is expressed in
// the return value; only protocol violations surface as errors.
func (s *Service) Fund(ctx context.Context, caller string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized[caller] {
		return 0, fmt.Errorf("%w: %s", ErrNotAuthorized, caller)
	}

	vault, err := s.ensureAccountLocked(ctx, s.vault)
	if err != nil {
		return 0, err
	}
	moved := amount
	if vault.Balance < moved {
		moved = vault.Balance
	}
	if moved == 0 {
		return 0, nil
	}

	if _, err := s.transferLocked(ctx, domain.TxTypeFunding, s.vault, caller, moved, caller); err != nil {
		return 0, err
	}
	s.log.WithField("requested", amount).WithField("moved", moved).Debug("treasury funding pulled")
	return moved, nil
}

// Transactions returns recent journal entries touching an address.
func (s *Service) Transactions(ctx context.Context, address string, limit int) ([]domain.Transaction, error) {
	return s.store.ListBankTransactions(ctx, address, limit)
}
