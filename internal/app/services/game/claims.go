package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/metrics"
	"github.com/liqingnz/time-ticket/internal/app/storage"
)

// ClaimResult reports what a successful claim call paid out.
type ClaimResult struct {
	RoundNumber int64              `json:"round_number"`
	Types       []round.RewardType `json:"types"`
	Gross       int64              `json:"gross"`
	Fee         int64              `json:"fee"`
	Net         int64              `json:"net"`
}

// Claim pays caller the rewards of the given types for a settled round in
// one atomic call. Eligibility is whatever settlement recorded; a claim
// matching nothing fails rather than silently no-opping. The protocol fee
// is taken per claim from the gross amount.
func (s *Service) Claim(ctx context.Context, caller string, roundNumber int64, types []round.RewardType) (ClaimResult, error) {
	if len(types) == 0 {
		return ClaimResult{}, ErrNothingToClaim
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rnd, err := s.rounds.GetRound(ctx, roundNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return ClaimResult{}, ErrUnknownRound
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("load round %d: %w", roundNumber, err)
	}
	if !rnd.Settled {
		return ClaimResult{}, ErrRoundNotSettled
	}
	if rnd.Swept {
		return ClaimResult{}, ErrRoundExpired
	}

	p, err := s.participants.GetParticipant(ctx, roundNumber, caller)
	if errors.Is(err, storage.ErrNotFound) {
		return ClaimResult{}, ErrNothingToClaim
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("load participant: %w", err)
	}
	prev := p

	isAirdropWinner := false
	for _, w := range rnd.AirdropWinners {
		if w == caller {
			isAirdropWinner = true
			break
		}
	}

	var gross int64
	var paid []round.RewardType
	for _, typ := range dedupeTypes(types) {
		switch typ {
		case round.RewardWinner:
			if caller != rnd.Winner || rnd.WinnerAmount == 0 {
				continue
			}
			if p.ClaimedWinner {
				return ClaimResult{}, fmt.Errorf("%w: winner reward, round %d", ErrAlreadyClaimed, roundNumber)
			}
			p.ClaimedWinner = true
			gross += rnd.WinnerAmount
			paid = append(paid, typ)
		case round.RewardAirdrop:
			if !isAirdropWinner || rnd.AirdropPerUser == 0 {
				continue
			}
			if p.ClaimedAirdrop {
				return ClaimResult{}, fmt.Errorf("%w: airdrop reward, round %d", ErrAlreadyClaimed, roundNumber)
			}
			p.ClaimedAirdrop = true
			gross += rnd.AirdropPerUser
			paid = append(paid, typ)
		case round.RewardDividend:
			if caller == rnd.Winner || isAirdropWinner || rnd.DividendPerUser == 0 {
				continue
			}
			if p.ClaimedDividend {
				return ClaimResult{}, fmt.Errorf("%w: dividend reward, round %d", ErrAlreadyClaimed, roundNumber)
			}
			p.ClaimedDividend = true
			gross += rnd.DividendPerUser
			paid = append(paid, typ)
		default:
			return ClaimResult{}, fmt.Errorf("unknown reward type %q", typ)
		}
	}
	if gross == 0 {
		return ClaimResult{}, ErrNothingToClaim
	}

	// Authoritative anti-overclaim guard. Should be unreachable given
	// correct settlement math, but checked rather than trusted.
	if rnd.Unclaimed < gross {
		return ClaimResult{}, fmt.Errorf("%w: gross %d, unclaimed %d", ErrOverclaim, gross, rnd.Unclaimed)
	}
	rnd.Unclaimed -= gross

	fee := gross * s.params.FeePPM / PPMDenominator
	net := gross - fee

	var feeTxID string
	if fee > 0 {
		feeTx, err := s.ledger.Transfer(ctx, s.params.PotAddress, s.params.FeeRecipient, fee)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("%w: fee transfer: %v", ErrPayoutFailed, err)
		}
		feeTxID = feeTx.ID
	}
	netTx, err := s.ledger.Transfer(ctx, s.params.PotAddress, caller, net)
	if err != nil {
		// No partial payout: take the fee back and fail the whole call
		// before any state is persisted.
		if feeTxID != "" {
			if _, revErr := s.ledger.Reverse(ctx, feeTxID); revErr != nil {
				s.log.WithError(revErr).WithField("tx", feeTxID).Error("failed to reverse fee after payout failure")
			}
		}
		return ClaimResult{}, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	// Value is in the caller's hands. A failure persisting the claim flags
	// or the unclaimed decrement must pull it back, or the identical retry
	// would pay twice.
	if _, err := s.participants.PutParticipant(ctx, p); err != nil {
		s.unwindClaim(ctx, feeTxID, netTx.ID)
		return ClaimResult{}, fmt.Errorf("save claim flags: %w", err)
	}
	if _, err := s.rounds.UpdateRound(ctx, rnd); err != nil {
		if _, rerr := s.participants.PutParticipant(ctx, prev); rerr != nil {
			s.log.WithError(rerr).Error("failed to restore claim flags")
		}
		s.unwindClaim(ctx, feeTxID, netTx.ID)
		return ClaimResult{}, fmt.Errorf("save round: %w", err)
	}

	metrics.RecordClaim()
	s.log.WithFields(map[string]interface{}{
		"round":  roundNumber,
		"caller": caller,
		"gross":  gross,
		"fee":    fee,
		"net":    net,
	}).Info("rewards claimed")
	return ClaimResult{
		RoundNumber: roundNumber,
		Types:       paid,
		Gross:       gross,
		Fee:         fee,
		Net:         net,
	}, nil
}

// unwindClaim pulls a delivered payout back after a persistence failure.
func (s *Service) unwindClaim(ctx context.Context, feeTxID, netTxID string) {
	if _, err := s.ledger.Reverse(ctx, netTxID); err != nil {
		s.log.WithError(err).WithField("tx", netTxID).Error("failed to reverse payout")
	}
	if feeTxID != "" {
		if _, err := s.ledger.Reverse(ctx, feeTxID); err != nil {
			s.log.WithError(err).WithField("tx", feeTxID).Error("failed to reverse fee")
		}
	}
}

func dedupeTypes(types []round.RewardType) []round.RewardType {
	seen := make(map[round.RewardType]bool, len(types))
	out := types[:0:0]
	for _, typ := range types {
		if !seen[typ] {
			seen[typ] = true
			out = append(out, typ)
		}
	}
	return out
}
