package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/liqingnz/time-ticket/internal/app/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(memory.New(), "vault", nil)
}

func TestDepositAndBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	bal, err := svc.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 500 {
		t.Fatalf("balance = %d, want 500", bal)
	}

	// Unknown addresses read as zero, not as errors.
	bal, err = svc.Balance(ctx, "nobody")
	if err != nil || bal != 0 {
		t.Fatalf("unknown balance = %d, %v; want 0, nil", bal, err)
	}

	if _, err := svc.Deposit(ctx, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit err = %v, want ErrInvalidAmount", err)
	}
}

func TestTransfer(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 300); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Transfer(ctx, "alice", "bob", 120); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBal, _ := svc.Balance(ctx, "alice")
	bobBal, _ := svc.Balance(ctx, "bob")
	if aliceBal != 180 || bobBal != 120 {
		t.Fatalf("balances = %d/%d, want 180/120", aliceBal, bobBal)
	}

	if _, err := svc.Transfer(ctx, "alice", "bob", 10_000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraft err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := svc.Transfer(ctx, "ghost", "bob", 1); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("unknown source err = %v, want ErrUnknownAccount", err)
	}
}

func TestTransferToFrozenAccountFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := svc.SetFrozen(ctx, "bob", true); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if _, err := svc.Transfer(ctx, "alice", "bob", 50); !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("transfer to frozen err = %v, want ErrAccountFrozen", err)
	}
	bal, _ := svc.Balance(ctx, "alice")
	if bal != 100 {
		t.Fatalf("failed transfer moved funds: alice = %d, want 100", bal)
	}
}

func TestReverse(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tx, err := svc.Transfer(ctx, "alice", "bob", 75)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// Freezing bob must not block a reversal of the payment we pulled.
	if err := svc.SetFrozen(ctx, "bob", true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	rev, err := svc.Reverse(ctx, tx.ID)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rev.ReferenceID != tx.ID {
		t.Fatalf("reversal reference = %q, want %q", rev.ReferenceID, tx.ID)
	}
	aliceBal, _ := svc.Balance(ctx, "alice")
	if aliceBal != 100 {
		t.Fatalf("alice = %d after reversal, want 100", aliceBal)
	}

	if _, err := svc.Reverse(ctx, "no-such-tx"); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("reverse unknown err = %v, want ErrUnknownTransaction", err)
	}
}

func TestFund(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, svc.VaultAddress(), 1_000); err != nil {
		t.Fatalf("seed vault: %v", err)
	}

	if _, err := svc.Fund(ctx, "game", 100); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("unauthorized fund err = %v, want ErrNotAuthorized", err)
	}

	svc.Authorize("game")
	moved, err := svc.Fund(ctx, "game", 400)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if moved != 400 {
		t.Fatalf("moved = %d, want 400", moved)
	}

	// A vault shortfall moves what is there and reports it; no error.
	moved, err = svc.Fund(ctx, "game", 5_000)
	if err != nil {
		t.Fatalf("fund with shortfall: %v", err)
	}
	if moved != 600 {
		t.Fatalf("moved = %d, want 600", moved)
	}
	moved, err = svc.Fund(ctx, "game", 100)
	if err != nil || moved != 0 {
		t.Fatalf("empty vault fund = %d, %v; want 0, nil", moved, err)
	}

	svc.Revoke("game")
	if _, err := svc.Fund(ctx, "game", 1); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("revoked fund err = %v, want ErrNotAuthorized", err)
	}
}

func TestJournal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Transfer(ctx, "alice", "bob", 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	txs, err := svc.Transactions(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(txs))
	}
}
