package game

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

// settleRound drives the fixture's open round to a settled state: ends it,
// seeds randomness, settles.
func (f *fixture) settleRound(t *testing.T, seedHex string) {
	t.Helper()
	ctx := context.Background()
	snap, err := f.svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if wait := snap.Round.EndTime.Sub(f.clock.Now()); wait >= 0 {
		f.clock.Advance(wait + time.Second)
	}
	f.seedRandomness(t, snap.Round.Number, seedHex)
	if _, err := f.svc.Settle(ctx); err != nil {
		t.Fatalf("settle round %d: %v", snap.Round.Number, err)
	}
}

func TestSettleBeforeEndFails(t *testing.T) {
	f := newFixture(t, nil)
	f.buy(t, "alice", 1)
	f.seedRandomness(t, 1, zeroSeed)

	if _, err := f.svc.Settle(context.Background()); !errors.Is(err, ErrRoundNotOver) {
		t.Fatalf("err = %v, want ErrRoundNotOver", err)
	}
	rnd, _ := f.svc.Round(context.Background(), 1)
	if rnd.Settled {
		t.Fatal("failed settle marked the round settled")
	}
}

func TestSettleWithoutRandomnessFails(t *testing.T) {
	f := newFixture(t, nil)
	f.buy(t, "alice", 1)
	f.clock.Advance(time.Hour)

	if _, err := f.svc.Settle(context.Background()); !errors.Is(err, ErrNoRandomness) {
		t.Fatalf("err = %v, want ErrNoRandomness", err)
	}
	rnd, _ := f.svc.Round(context.Background(), 1)
	if rnd.Settled || rnd.FundingRatioBps != 0 {
		t.Fatalf("failed settle mutated round: %+v", rnd)
	}
}

func TestSettleTwiceFails(t *testing.T) {
	f := newFixture(t, nil)
	f.buy(t, "alice", 1)
	f.settleRound(t, zeroSeed)

	// The engine has already moved to round 2; an immediate second settle
	// hits the fresh round's not-over guard, so round 1 stays final.
	if _, err := f.svc.Settle(context.Background()); !errors.Is(err, ErrRoundNotOver) {
		t.Fatalf("err = %v, want ErrRoundNotOver", err)
	}
}

func TestSettleThreeBuyers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.buy(t, "alice", 1) // 100
	f.buy(t, "bob", 1)   // 110
	f.buy(t, "carol", 1) // 120
	f.settleRound(t, zeroSeed)

	rnd, err := f.svc.Round(ctx, 1)
	if err != nil {
		t.Fatalf("round: %v", err)
	}

	// Pool 330, zero seed: ratio = 500 bps, empty vault injects nothing.
	// Split: winner 132, dividend 82, airdrop 33, team 33, carry 49,
	// bps dust 1.
	if rnd.FundingRatioBps != 500 {
		t.Fatalf("ratio = %d, want 500", rnd.FundingRatioBps)
	}
	if rnd.Winner != "carol" || rnd.WinnerAmount != 132 {
		t.Fatalf("winner = %q/%d, want carol/132", rnd.Winner, rnd.WinnerAmount)
	}

	// One airdrop winner among {alice, bob}; the other gets the dividend.
	seed, _ := hex.DecodeString(zeroSeed)
	wantAirdrop := selectAirdropWinners(seed, []string{"alice", "bob"}, 1)
	if len(rnd.AirdropWinners) != 1 || rnd.AirdropWinners[0] != wantAirdrop[0] {
		t.Fatalf("airdrop winners = %v, want %v", rnd.AirdropWinners, wantAirdrop)
	}
	if rnd.AirdropPerUser != 33 {
		t.Fatalf("airdrop per user = %d, want 33", rnd.AirdropPerUser)
	}
	if rnd.DividendEligible != 1 || rnd.DividendPerUser != 82 {
		t.Fatalf("dividend = %d x %d, want 82 x 1", rnd.DividendPerUser, rnd.DividendEligible)
	}

	if rnd.Unclaimed != 132+82+33 {
		t.Fatalf("unclaimed = %d, want 247", rnd.Unclaimed)
	}
	if rnd.TeamAmount != 33 {
		t.Fatalf("team = %d, want 33", rnd.TeamAmount)
	}
	if rnd.CarryOut != 49+1 {
		t.Fatalf("carry = %d, want 50", rnd.CarryOut)
	}

	// Conservation: every unit of the net pool is accounted for.
	total := rnd.WinnerAmount + rnd.DividendPerUser*rnd.DividendEligible +
		rnd.AirdropPerUser*int64(len(rnd.AirdropWinners)) + rnd.TeamAmount + rnd.CarryOut
	if total != 330 {
		t.Fatalf("accounted total = %d, want 330", total)
	}

	// Winner, airdrop winners and dividend-eligible are pairwise disjoint.
	if rnd.AirdropWinners[0] == rnd.Winner {
		t.Fatal("airdrop winner equals round winner")
	}

	// The next round opened with the carry as its pool.
	snap, _ := f.svc.Snapshot(ctx)
	if snap.Round.Number != 2 || snap.Round.Pool != rnd.CarryOut {
		t.Fatalf("next round = %d pool %d, want 2 pool %d", snap.Round.Number, snap.Round.Pool, rnd.CarryOut)
	}
	if snap.TicketPrice != 100 {
		t.Fatalf("price not reset: %d", snap.TicketPrice)
	}
	if bal := f.balance(t, "vault"); bal != 33 {
		t.Fatalf("vault balance = %d, want team share 33", bal)
	}
}

func TestSettleVaultInjection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Vault holds plenty; zero seed gives ratio 500 bps.
	if _, err := f.ledger.Deposit(ctx, "vault", 10_000); err != nil {
		t.Fatalf("seed vault: %v", err)
	}

	f.buy(t, "alice", 1)
	f.buy(t, "bob", 1)
	f.buy(t, "carol", 1) // pool 330
	f.settleRound(t, zeroSeed)

	rnd, _ := f.svc.Round(ctx, 1)
	// desired = 330 * 500 / 10000 = 16, fully available.
	wantPool := int64(330 + 16)
	if rnd.Pool != wantPool {
		t.Fatalf("pool after injection = %d, want %d", rnd.Pool, wantPool)
	}
	if rnd.WinnerAmount != wantPool*4000/BpsDenominator {
		t.Fatalf("winner amount = %d not derived from injected pool", rnd.WinnerAmount)
	}
}

func TestSettleVaultShortfall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Vault has less than desired; settlement takes what exists and
	// carries on.
	if _, err := f.ledger.Deposit(ctx, "vault", 5); err != nil {
		t.Fatalf("seed vault: %v", err)
	}

	f.buy(t, "alice", 1)
	f.buy(t, "bob", 1)
	f.buy(t, "carol", 1)
	f.settleRound(t, zeroSeed)

	rnd, _ := f.svc.Round(ctx, 1)
	if rnd.Pool != 335 {
		t.Fatalf("pool = %d, want 335 (330 + partial 5)", rnd.Pool)
	}
	if !rnd.Settled {
		t.Fatal("shortfall blocked settlement")
	}
}

func TestSettleFundingRatioFromSeed(t *testing.T) {
	// Seed value 624 mod range 501 = 123, so ratio = 500 + 123.
	f := newFixture(t, nil)
	seedHex := "0000000000000000000000000000000000000000000000000000000000000270"

	f.buy(t, "alice", 1)
	f.settleRound(t, seedHex)

	rnd, _ := f.svc.Round(context.Background(), 1)
	if rnd.FundingRatioBps != 623 {
		t.Fatalf("ratio = %d, want 623", rnd.FundingRatioBps)
	}
}

func TestSettleNoBuyers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.clock.Advance(time.Hour)
	f.seedRandomness(t, 1, zeroSeed)
	if _, err := f.svc.Settle(ctx); err != nil {
		t.Fatalf("settle empty round: %v", err)
	}

	rnd, _ := f.svc.Round(ctx, 1)
	if rnd.Winner != "" || rnd.WinnerAmount != 0 {
		t.Fatalf("empty round got a winner: %+v", rnd)
	}
	if rnd.Unclaimed != 0 {
		t.Fatalf("unclaimed = %d, want 0", rnd.Unclaimed)
	}
	if rnd.CarryOut != 0 {
		t.Fatalf("carry = %d, want 0 for an empty pool", rnd.CarryOut)
	}
}

func TestSettleSingleBuyer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.buy(t, "alice", 1) // pool 100
	f.settleRound(t, zeroSeed)

	rnd, _ := f.svc.Round(ctx, 1)
	// winner 40, dividend 25, airdrop 10, team 10, carry 15. No
	// candidates besides the winner, so dividend and airdrop fold.
	if rnd.Winner != "alice" || rnd.WinnerAmount != 40 {
		t.Fatalf("winner = %q/%d, want alice/40", rnd.Winner, rnd.WinnerAmount)
	}
	if len(rnd.AirdropWinners) != 0 || rnd.DividendEligible != 0 {
		t.Fatalf("lone buyer produced airdrop/dividend: %+v", rnd)
	}
	if rnd.Unclaimed != 40 {
		t.Fatalf("unclaimed = %d, want 40", rnd.Unclaimed)
	}
	if rnd.CarryOut != 15+25+10 {
		t.Fatalf("carry = %d, want 50", rnd.CarryOut)
	}
}

func TestSettleTeamPayoutFailureFoldsIntoCarry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// A frozen vault refuses the team share; settlement proceeds anyway.
	if err := f.ledger.SetFrozen(ctx, "vault", true); err != nil {
		t.Fatalf("freeze vault: %v", err)
	}

	f.buy(t, "alice", 1)
	f.buy(t, "bob", 1)
	f.buy(t, "carol", 1)
	f.settleRound(t, zeroSeed)

	rnd, _ := f.svc.Round(ctx, 1)
	if rnd.TeamAmount != 0 {
		t.Fatalf("team amount = %d, want 0 after refused payout", rnd.TeamAmount)
	}
	if rnd.CarryOut != 50+33 {
		t.Fatalf("carry = %d, want 83 (team share folded in)", rnd.CarryOut)
	}
	if bal := f.balance(t, "vault"); bal != 0 {
		t.Fatalf("vault received %d despite refusing", bal)
	}
}

func TestSettleRandomnessArrivesViaPoller(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.buy(t, "alice", 1)
	f.clock.Advance(time.Hour)

	poller := NewSettlePoller(f.svc, f.clock, time.Second, nil)
	poller.Poll(ctx) // no randomness yet: quiet no-op
	rnd, _ := f.svc.Round(ctx, 1)
	if rnd.Settled {
		t.Fatal("poller settled without randomness")
	}

	f.seedRandomness(t, 1, zeroSeed)
	poller.Poll(ctx)
	rnd, _ = f.svc.Round(ctx, 1)
	if !rnd.Settled {
		t.Fatal("poller did not settle once randomness arrived")
	}
}
