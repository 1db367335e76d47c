package game

import (
	"context"
	"errors"
	"testing"

	"github.com/liqingnz/time-ticket/internal/app/domain/round"
)

func TestSweepBeforeExpiryFails(t *testing.T) {
	f, _ := settledThreeBuyerRound(t)

	// Expiry window is 2 and the current round is 2; round 1 is not yet
	// sweepable.
	if _, err := f.svc.SweepExpired(context.Background(), 1); !errors.Is(err, ErrNotExpired) {
		t.Fatalf("err = %v, want ErrNotExpired", err)
	}
}

func TestSweepRecoversUnclaimed(t *testing.T) {
	f, rnd := settledThreeBuyerRound(t)
	ctx := context.Background()

	// Roll forward two empty rounds so round 1 crosses the window. The
	// vault is frozen for the second settlement so its courtesy sweep
	// bounces and round 1 stays unswept for the manual call.
	f.settleRound(t, zeroSeed) // round 2
	if err := f.ledger.SetFrozen(ctx, "vault", true); err != nil {
		t.Fatalf("freeze vault: %v", err)
	}
	f.settleRound(t, zeroSeed) // round 3, current becomes 4
	if err := f.ledger.SetFrozen(ctx, "vault", false); err != nil {
		t.Fatalf("unfreeze vault: %v", err)
	}

	before, _ := f.svc.Round(ctx, 1)
	if before.Swept {
		t.Fatal("courtesy sweep ran despite the frozen vault")
	}

	vaultBefore := f.balance(t, "vault")
	swept, err := f.svc.SweepExpired(ctx, 1)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != rnd.Unclaimed {
		t.Fatalf("swept %d, want the full unclaimed %d", swept, rnd.Unclaimed)
	}
	if bal := f.balance(t, "vault"); bal != vaultBefore+rnd.Unclaimed {
		t.Fatalf("vault moved by %d, want %d", bal-vaultBefore, rnd.Unclaimed)
	}

	after, _ := f.svc.Round(ctx, 1)
	if after.Unclaimed != 0 || !after.Swept {
		t.Fatalf("round after sweep = %+v", after)
	}

	// Idempotent: a second sweep is a safe no-op.
	swept, err = f.svc.SweepExpired(ctx, 1)
	if err != nil || swept != 0 {
		t.Fatalf("second sweep = %d, %v; want 0, nil", swept, err)
	}
	if bal := f.balance(t, "vault"); bal != vaultBefore+rnd.Unclaimed {
		t.Fatal("second sweep moved value")
	}
}

func TestSweepValidation(t *testing.T) {
	f, _ := settledThreeBuyerRound(t)
	ctx := context.Background()

	if _, err := f.svc.SweepExpired(ctx, 99); !errors.Is(err, ErrUnknownRound) {
		t.Fatalf("unknown round err = %v", err)
	}
	// Round 2 is open and unsettled.
	if _, err := f.svc.SweepExpired(ctx, 2); !errors.Is(err, ErrRoundNotSettled) {
		t.Fatalf("unsettled round err = %v", err)
	}
}

func TestClaimAfterSweepFails(t *testing.T) {
	f, _ := settledThreeBuyerRound(t)
	ctx := context.Background()

	f.settleRound(t, zeroSeed)
	f.settleRound(t, zeroSeed)
	if _, err := f.svc.SweepExpired(ctx, 1); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, err := f.svc.Claim(ctx, "carol", 1, nil); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("empty claim err = %v", err)
	}
	if _, err := f.svc.Claim(ctx, "carol", 1, []round.RewardType{round.RewardWinner}); !errors.Is(err, ErrRoundExpired) {
		t.Fatalf("claim after sweep err = %v, want ErrRoundExpired", err)
	}
}

func TestCourtesySweepAtSettlement(t *testing.T) {
	f, _ := settledThreeBuyerRound(t)
	ctx := context.Background()

	// Settling rounds 2 and 3 makes round 4 current; that settlement's
	// courtesy pass sweeps round 4-2-1 = 1 automatically.
	f.settleRound(t, zeroSeed)
	f.settleRound(t, zeroSeed)

	after, err := f.svc.Round(ctx, 1)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if !after.Swept || after.Unclaimed != 0 {
		t.Fatalf("courtesy sweep did not run: %+v", after)
	}
}
