package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/liqingnz/time-ticket/internal/app/metrics"
	"github.com/liqingnz/time-ticket/internal/app/storage"
)

// SweepExpired recovers whatever remains unclaimed in an old round and
// routes it to the vault. Idempotent: sweeping a swept round reports zero
// and succeeds. Requires the round to be at least ExpiryWindow full rounds
// in the past.
func (s *Service) SweepExpired(ctx context.Context, roundNumber int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.rounds.GetState(ctx)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	return s.sweepLocked(ctx, roundNumber, state.CurrentRound)
}

func (s *Service) sweepLocked(ctx context.Context, roundNumber, currentRound int64) (int64, error) {
	rnd, err := s.rounds.GetRound(ctx, roundNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrUnknownRound
	}
	if err != nil {
		return 0, fmt.Errorf("load round %d: %w", roundNumber, err)
	}
	if !rnd.Settled {
		return 0, ErrRoundNotSettled
	}
	if rnd.Swept {
		return 0, nil
	}
	if currentRound <= roundNumber+s.params.ExpiryWindow {
		return 0, fmt.Errorf("%w: round %d, current %d, window %d", ErrNotExpired, roundNumber, currentRound, s.params.ExpiryWindow)
	}

	amount := rnd.Unclaimed
	if amount > 0 {
		if _, err := s.ledger.Transfer(ctx, s.params.PotAddress, s.ledger.VaultAddress(), amount); err != nil {
			return 0, fmt.Errorf("sweep transfer: %w", err)
		}
	}
	rnd.Unclaimed = 0
	rnd.Swept = true
	if _, err := s.rounds.UpdateRound(ctx, rnd); err != nil {
		return 0, fmt.Errorf("save round: %w", err)
	}

	metrics.RecordSweep()
	s.log.WithFields(map[string]interface{}{
		"round":  roundNumber,
		"amount": amount,
	}).Info("expired round swept")
	return amount, nil
}
