package game

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/metrics"
	"github.com/liqingnz/time-ticket/internal/app/storage"
)

// Settle finalizes the current round and opens the next one in a single
// atomic step. Callable by anyone once the round is over and its randomness
// is recorded. The vault injection and the team payout are best-effort;
// everything else failing aborts the settlement with no state change.
func (s *Service) Settle(ctx context.Context) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()

	state, err := s.rounds.GetState(ctx)
	if err != nil {
		return round.Round{}, fmt.Errorf("load state: %w", err)
	}
	rnd, err := s.rounds.GetRound(ctx, state.CurrentRound)
	if err != nil {
		return round.Round{}, fmt.Errorf("load round %d: %w", state.CurrentRound, err)
	}
	if rnd.Settled {
		return round.Round{}, ErrRoundSettled
	}
	now := s.clock.Now().UTC()
	if !now.After(rnd.EndTime) {
		return round.Round{}, ErrRoundNotOver
	}
	orig := rnd

	seedHex, err := s.random.GetRoundRandomness(ctx, rnd.Number)
	if errors.Is(err, storage.ErrNotFound) {
		return round.Round{}, ErrNoRandomness
	}
	if err != nil {
		return round.Round{}, fmt.Errorf("load randomness: %w", err)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return round.Round{}, fmt.Errorf("decode randomness: %w", err)
	}

	// Funding ratio: min + (value mod range), a pure function of the
	// stored randomness.
	ratio := s.params.FundingRatioMinBps + new(big.Int).Mod(
		new(big.Int).SetBytes(seed),
		big.NewInt(s.params.FundingRatioRangeBps),
	).Int64()
	rnd.FundingRatioBps = ratio

	// Vault injection, best-effort: a refusing or empty vault must never
	// block the round from settling.
	desired := rnd.Pool * ratio / BpsDenominator
	injected, err := s.ledger.Fund(ctx, s.params.PotAddress, desired)
	if err != nil {
		s.log.WithError(err).WithField("desired", desired).Warn("vault funding failed, settling without injection")
		injected = 0
	}
	rnd.Pool += injected
	s.log.WithFields(map[string]interface{}{
		"round":     rnd.Number,
		"ratio_bps": ratio,
		"desired":   desired,
		"injected":  injected,
	}).Info("vault injection")

	netPool := rnd.Pool
	winnerShare := netPool * s.params.WinnerShareBps / BpsDenominator
	dividendShare := netPool * s.params.DividendShareBps / BpsDenominator
	airdropShare := netPool * s.params.AirdropShareBps / BpsDenominator
	teamShare := netPool * s.params.TeamShareBps / BpsDenominator
	carryShare := netPool * s.params.CarryShareBps / BpsDenominator
	// Bps floor division leaves dust; it rolls into the next round.
	undistributed := netPool - winnerShare - dividendShare - airdropShare - teamShare - carryShare

	participants, err := s.participants.ListParticipants(ctx, rnd.Number)
	if err != nil {
		return round.Round{}, fmt.Errorf("list participants: %w", err)
	}
	n := int64(len(participants))

	// Winner accounting. Recorded, not paid; payouts happen on claim.
	if rnd.LastBuyer != "" && winnerShare > 0 {
		rnd.Winner = rnd.LastBuyer
		rnd.WinnerAmount = winnerShare
	} else {
		undistributed += winnerShare
	}

	// The purchase path keeps the most recent buyer in the last slot, so
	// the airdrop/dividend candidate pool is everyone but the tail. That
	// placement is verified, not assumed; a mismatch means corrupt state
	// and settlement must not guess.
	candidates := make([]string, 0, n)
	if rnd.Winner != "" {
		if n == 0 || participants[n-1].Address != rnd.Winner {
			return round.Round{}, ErrParticipantOrder
		}
		for _, p := range participants[:n-1] {
			candidates = append(candidates, p.Address)
		}
	} else {
		for _, p := range participants {
			candidates = append(candidates, p.Address)
		}
	}

	// Airdrop selection.
	k := s.params.AirdropWinnerCount
	if k > int64(len(candidates)) {
		k = int64(len(candidates))
	}
	if airdropShare > 0 && k > 0 && airdropShare/k > 0 {
		perWinner := airdropShare / k
		rnd.AirdropWinners = selectAirdropWinners(seed, candidates, k)
		rnd.AirdropPerUser = perWinner
		undistributed += airdropShare - perWinner*k
	} else {
		rnd.AirdropWinners = nil
		undistributed += airdropShare
	}

	// Dividend accounting: everyone except the winner and the airdrop
	// winners. At most one of the three rewards per participant.
	eligible := int64(len(candidates)) - int64(len(rnd.AirdropWinners))
	if dividendShare > 0 && eligible > 0 && dividendShare/eligible > 0 {
		rnd.DividendPerUser = dividendShare / eligible
		rnd.DividendEligible = eligible
		undistributed += dividendShare - rnd.DividendPerUser*eligible
	} else {
		undistributed += dividendShare
	}

	// The exact gross total the claim ledger may ever pay for this round.
	rnd.Unclaimed = rnd.WinnerAmount +
		rnd.DividendPerUser*rnd.DividendEligible +
		rnd.AirdropPerUser*int64(len(rnd.AirdropWinners))

	// Team payout, immediate and best-effort.
	var teamTxID string
	if teamShare > 0 {
		teamTx, err := s.ledger.Transfer(ctx, s.params.PotAddress, s.ledger.VaultAddress(), teamShare)
		if err != nil {
			s.log.WithError(err).WithField("amount", teamShare).Warn("team payout failed, folding into carry")
			undistributed += teamShare
		} else {
			rnd.TeamAmount = teamShare
			teamTxID = teamTx.ID
		}
	}

	rnd.CarryOut = carryShare + undistributed
	rnd.Settled = true

	// A persistence failure past this point must put the money back and
	// leave the round open, or the machine wedges: settled record, state
	// never advanced, every later call rejected.
	if _, err := s.rounds.UpdateRound(ctx, rnd); err != nil {
		s.unwindSettlement(ctx, teamTxID, injected)
		return round.Round{}, fmt.Errorf("finalize round: %w", err)
	}

	next := round.Round{
		Number:    rnd.Number + 1,
		StartTime: now,
		EndTime:   now.Add(s.params.BaseDuration),
		Pool:      rnd.CarryOut,
	}
	if err := s.openNextRound(ctx, next); err != nil {
		s.restoreRound(ctx, orig)
		s.unwindSettlement(ctx, teamTxID, injected)
		return round.Round{}, fmt.Errorf("open round %d: %w", next.Number, err)
	}
	state.CurrentRound = next.Number
	state.TicketPrice = s.params.StartPrice
	if _, err := s.rounds.SaveState(ctx, state); err != nil {
		s.restoreRound(ctx, orig)
		s.unwindSettlement(ctx, teamTxID, injected)
		return round.Round{}, fmt.Errorf("save state: %w", err)
	}

	metrics.RecordSettlement(time.Since(started))
	metrics.SetGameGauges(next.Number, next.Pool, state.TicketPrice)
	s.log.WithFields(map[string]interface{}{
		"round":             rnd.Number,
		"winner":            rnd.Winner,
		"winner_amount":     rnd.WinnerAmount,
		"dividend_per_user": rnd.DividendPerUser,
		"dividend_eligible": rnd.DividendEligible,
		"airdrop_per_user":  rnd.AirdropPerUser,
		"airdrop_winners":   len(rnd.AirdropWinners),
		"team_amount":       rnd.TeamAmount,
		"carry_out":         rnd.CarryOut,
		"unclaimed":         rnd.Unclaimed,
	}).Info("round settled")

	// Courtesy sweep of the round that just crossed the expiry window so
	// stale unclaimed value drains without a dedicated operator call.
	if stale := next.Number - s.params.ExpiryWindow - 1; stale >= 1 {
		if _, err := s.sweepLocked(ctx, stale, next.Number); err != nil &&
			!errors.Is(err, ErrNotExpired) && !errors.Is(err, ErrUnknownRound) && !errors.Is(err, ErrRoundNotSettled) {
			s.log.WithError(err).WithField("round", stale).Warn("courtesy sweep failed")
		}
	}

	return rnd, nil
}

// openNextRound creates the next round record, tolerating a leftover from a
// settlement attempt that failed after creating it. The leftover cannot have
// been played: purchases only ever touch the current round.
func (s *Service) openNextRound(ctx context.Context, next round.Round) error {
	_, err := s.rounds.CreateRound(ctx, next)
	if err == nil {
		return nil
	}
	if _, getErr := s.rounds.GetRound(ctx, next.Number); getErr != nil {
		return err
	}
	_, err = s.rounds.UpdateRound(ctx, next)
	return err
}

// unwindSettlement returns the money a failed settlement already moved.
func (s *Service) unwindSettlement(ctx context.Context, teamTxID string, injected int64) {
	if teamTxID != "" {
		if _, err := s.ledger.Reverse(ctx, teamTxID); err != nil {
			s.log.WithError(err).WithField("tx", teamTxID).Error("failed to reverse team payout")
		}
	}
	if injected > 0 {
		if _, err := s.ledger.Transfer(ctx, s.params.PotAddress, s.ledger.VaultAddress(), injected); err != nil {
			s.log.WithError(err).WithField("amount", injected).Error("failed to return vault injection")
		}
	}
}
