package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/storage"
)

// Snapshot returns the read-surface view of the open round.
func (s *Service) Snapshot(ctx context.Context) (round.Snapshot, error) {
	state, err := s.rounds.GetState(ctx)
	if err != nil {
		return round.Snapshot{}, fmt.Errorf("load state: %w", err)
	}
	rnd, err := s.rounds.GetRound(ctx, state.CurrentRound)
	if err != nil {
		return round.Snapshot{}, fmt.Errorf("load round %d: %w", state.CurrentRound, err)
	}
	count, err := s.participants.CountParticipants(ctx, rnd.Number)
	if err != nil {
		return round.Snapshot{}, fmt.Errorf("count participants: %w", err)
	}
	return round.Snapshot{
		Round:         rnd,
		Participants:  count,
		TicketPrice:   state.TicketPrice,
		RemainingTime: s.remaining(rnd),
	}, nil
}

// RemainingTime reports how long until the open round ends; zero once over.
func (s *Service) RemainingTime(ctx context.Context) (time.Duration, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.RemainingTime, nil
}

// CurrentPrice reports the price of the next ticket.
func (s *Service) CurrentPrice(ctx context.Context) (int64, error) {
	state, err := s.rounds.GetState(ctx)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	return state.TicketPrice, nil
}

// Round returns a historical or current round record.
func (s *Service) Round(ctx context.Context, number int64) (round.Round, error) {
	rnd, err := s.rounds.GetRound(ctx, number)
	if errors.Is(err, storage.ErrNotFound) {
		return round.Round{}, ErrUnknownRound
	}
	return rnd, err
}

// Rounds returns recent rounds, newest first.
func (s *Service) Rounds(ctx context.Context, limit int) ([]round.Round, error) {
	return s.rounds.ListRounds(ctx, limit)
}

// TicketsOf reports an address's ticket count in a round. Zero when the
// address never participated.
func (s *Service) TicketsOf(ctx context.Context, roundNumber int64, address string) (int64, error) {
	p, err := s.participants.GetParticipant(ctx, roundNumber, address)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.Tickets, nil
}

// Participants returns the full dense participant list of a round.
func (s *Service) Participants(ctx context.Context, roundNumber int64) ([]round.Participant, error) {
	return s.participants.ListParticipants(ctx, roundNumber)
}

// RewardsOf reports the recorded reward amounts and claim flags for one
// address in a settled round.
func (s *Service) RewardsOf(ctx context.Context, roundNumber int64, address string) (round.Rewards, error) {
	rnd, err := s.rounds.GetRound(ctx, roundNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return round.Rewards{}, ErrUnknownRound
	}
	if err != nil {
		return round.Rewards{}, fmt.Errorf("load round %d: %w", roundNumber, err)
	}
	if !rnd.Settled {
		return round.Rewards{}, ErrRoundNotSettled
	}

	rewards := round.Rewards{RoundNumber: roundNumber}
	p, err := s.participants.GetParticipant(ctx, roundNumber, address)
	if errors.Is(err, storage.ErrNotFound) {
		return rewards, nil
	}
	if err != nil {
		return round.Rewards{}, fmt.Errorf("load participant: %w", err)
	}

	isAirdropWinner := false
	for _, w := range rnd.AirdropWinners {
		if w == address {
			isAirdropWinner = true
			break
		}
	}

	if address == rnd.Winner {
		rewards.WinnerAmount = rnd.WinnerAmount
	}
	if isAirdropWinner {
		rewards.AirdropAmount = rnd.AirdropPerUser
	}
	if address != rnd.Winner && !isAirdropWinner && p.Tickets > 0 {
		rewards.DividendAmount = rnd.DividendPerUser
	}
	rewards.ClaimedWinner = p.ClaimedWinner
	rewards.ClaimedDividend = p.ClaimedDividend
	rewards.ClaimedAirdrop = p.ClaimedAirdrop
	return rewards, nil
}

func (s *Service) remaining(rnd round.Round) time.Duration {
	if rnd.Settled {
		return 0
	}
	left := rnd.EndTime.Sub(s.clock.Now().UTC())
	if left < 0 {
		return 0
	}
	return left
}
