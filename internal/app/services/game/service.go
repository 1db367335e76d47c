// Package game implements the last-bidder-wins round engine: ticket
// purchases against the open round, one-shot settlement and distribution,
// the post-settlement claim ledger, and expiry sweeping.
package game

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/metrics"
	"github.com/liqingnz/time-ticket/internal/app/services/bank"
	"github.com/liqingnz/time-ticket/internal/app/storage"
	"github.com/liqingnz/time-ticket/pkg/logger"
)

// Errors. Every rejection is a distinct sentinel so callers can tell a
// retry-later condition from one that will never succeed.
var (
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrDeadlineExceeded    = errors.New("purchase deadline has passed")
	ErrRoundOver           = errors.New("round has ended")
	ErrRoundSettled        = errors.New("round already settled")
	ErrPriceSlippage       = errors.New("cost exceeds the accepted maximum")
	ErrInsufficientPayment = errors.New("payment below ticket cost")
	ErrRefundFailed        = errors.New("overpayment refund could not be delivered")
	ErrBadVoucher          = errors.New("free ticket voucher rejected")
	ErrVoucherUsed         = errors.New("free ticket already redeemed this round")

	ErrRoundNotOver     = errors.New("round not over yet")
	ErrNoRandomness     = errors.New("no randomness recorded for the round")
	ErrParticipantOrder = errors.New("participant list order corrupt: winner not in the last slot")

	ErrUnknownRound    = errors.New("round not found")
	ErrRoundNotSettled = errors.New("round not settled yet")
	ErrNothingToClaim  = errors.New("nothing to claim")
	ErrAlreadyClaimed  = errors.New("reward already claimed")
	ErrOverclaim       = errors.New("claim exceeds the round's unclaimed balance")
	ErrRoundExpired    = errors.New("round claim window expired")
	ErrPayoutFailed    = errors.New("payout transfer failed")

	ErrNotExpired = errors.New("round not past the expiry window")
)

// Service is the round engine. One mutex serializes Buy, Settle, Claim and
// SweepExpired; none of them may interleave while round state is mid-change.
type Service struct {
	rounds       storage.RoundStore
	participants storage.ParticipantStore
	random       storage.RandomnessStore
	ledger       *bank.Service
	clock        clockwork.Clock
	log          *logger.Logger

	mu     sync.Mutex
	params Params
}

// New constructs the engine. The pot account is authorized against the
// vault by the caller (see bank.Service.Authorize).
func New(rounds storage.RoundStore, participants storage.ParticipantStore, random storage.RandomnessStore, ledger *bank.Service, params Params, clock clockwork.Clock, log *logger.Logger) (*Service, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.NewDefault("game")
	}
	return &Service{
		rounds:       rounds,
		participants: participants,
		random:       random,
		ledger:       ledger,
		clock:        clock,
		log:          log,
		params:       params,
	}, nil
}

// Init opens round 1 unless state already exists. Idempotent across
// restarts.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.rounds.GetState(ctx)
	if err == nil {
		// Restarting against existing state: the gauges live in process
		// memory and read zero until re-set.
		rnd, rerr := s.rounds.GetRound(ctx, state.CurrentRound)
		if rerr != nil {
			return fmt.Errorf("load round %d: %w", state.CurrentRound, rerr)
		}
		metrics.SetGameGauges(rnd.Number, rnd.Pool, state.TicketPrice)
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load state: %w", err)
	}

	now := s.clock.Now().UTC()
	first := round.Round{
		Number:    1,
		StartTime: now,
		EndTime:   now.Add(s.params.BaseDuration),
	}
	if _, err := s.rounds.CreateRound(ctx, first); err != nil {
		return fmt.Errorf("create round 1: %w", err)
	}
	if _, err := s.rounds.SaveState(ctx, round.State{CurrentRound: 1, TicketPrice: s.params.StartPrice}); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if _, err := s.ledger.EnsureAccount(ctx, s.params.PotAddress); err != nil {
		return fmt.Errorf("ensure pot account: %w", err)
	}
	metrics.SetGameGauges(1, 0, s.params.StartPrice)
	s.log.WithField("base_duration", s.params.BaseDuration.String()).Info("round 1 opened")
	return nil
}

// Buy purchases quantity tickets for buyer. payment is pulled from the
// buyer's ledger account; any excess over the exact cost is refunded in the
// same call, and if the refund cannot be delivered the purchase is undone
// entirely rather than keeping the overpayment.
func (s *Service) Buy(ctx context.Context, buyer string, quantity, maxTotalCost, deadline, payment int64) (round.Round, error) {
	if quantity <= 0 {
		return round.Round{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	if deadline > 0 && now.Unix() > deadline {
		return round.Round{}, ErrDeadlineExceeded
	}

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
	if now.After(rnd.EndTime) {
		return round.Round{}, ErrRoundOver
	}

	// Both products below take a caller-controlled quantity; a wrapped
	// product would sell an enormous ticket count for a trivial payment
	// and move the end time by a garbage amount.
	if quantity > math.MaxInt64/state.TicketPrice {
		return round.Round{}, fmt.Errorf("%w: cost overflows", ErrInvalidQuantity)
	}
	if quantity > int64(math.MaxInt64)/int64(s.params.ExtensionPerTicket) {
		return round.Round{}, fmt.Errorf("%w: extension overflows", ErrInvalidQuantity)
	}

	cost := state.TicketPrice * quantity
	if maxTotalCost > 0 && cost > maxTotalCost {
		return round.Round{}, fmt.Errorf("%w: cost %d, max %d", ErrPriceSlippage, cost, maxTotalCost)
	}
	if payment < cost {
		return round.Round{}, fmt.Errorf("%w: need %d, got %d", ErrInsufficientPayment, cost, payment)
	}

	pull, err := s.ledger.Transfer(ctx, buyer, s.params.PotAddress, payment)
	if err != nil {
		return round.Round{}, fmt.Errorf("pull payment: %w", err)
	}
	var refundID string
	if excess := payment - cost; excess > 0 {
		refund, err := s.ledger.Transfer(ctx, s.params.PotAddress, buyer, excess)
		if err != nil {
			// The purchase must not happen if we cannot give the
			// overpayment back. Undo the pull and fail.
			if _, revErr := s.ledger.Reverse(ctx, pull.ID); revErr != nil {
				s.log.WithError(revErr).WithField("tx", pull.ID).Error("failed to reverse payment pull")
			}
			return round.Round{}, fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
		refundID = refund.ID
	}

	// Money has moved. Every persistence failure from here on must give
	// the payment back before surfacing.
	origRnd, origState := rnd, state

	writes, err := s.preparePurchase(ctx, &rnd, buyer, quantity)
	if err != nil {
		s.unwindPayment(ctx, pull.ID, refundID)
		return round.Round{}, err
	}
	rnd.Pool += cost

	updated, err := s.rounds.UpdateRound(ctx, rnd)
	if err != nil {
		s.unwindPayment(ctx, pull.ID, refundID)
		return round.Round{}, fmt.Errorf("update round: %w", err)
	}

	state.TicketPrice += s.params.PriceIncrement
	if _, err := s.rounds.SaveState(ctx, state); err != nil {
		s.restoreRound(ctx, origRnd)
		s.unwindPayment(ctx, pull.ID, refundID)
		return round.Round{}, fmt.Errorf("save state: %w", err)
	}

	if err := s.persistPurchase(ctx, writes); err != nil {
		if _, serr := s.rounds.SaveState(ctx, origState); serr != nil {
			s.log.WithError(serr).Error("failed to restore state record")
		}
		s.restoreRound(ctx, origRnd)
		s.unwindPayment(ctx, pull.ID, refundID)
		return round.Round{}, err
	}

	metrics.RecordTicketSale(quantity, false)
	metrics.SetGameGauges(updated.Number, updated.Pool, state.TicketPrice)
	s.log.WithFields(map[string]interface{}{
		"round":    updated.Number,
		"buyer":    buyer,
		"quantity": quantity,
		"cost":     cost,
		"pool":     updated.Pool,
	}).Info("tickets purchased")
	return updated, nil
}

// BuyFree redeems a voucher for one free ticket. The ticket extends the
// round and makes the redeemer the last buyer, but moves no value and does
// not bump the ticket price. One redemption per address per round.
func (s *Service) BuyFree(ctx context.Context, buyer string, voucher string) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	if now.After(rnd.EndTime) {
		return round.Round{}, ErrRoundOver
	}

	if len(s.params.VoucherKey) == 0 || !verifyVoucher(s.params.VoucherKey, rnd.Number, buyer, voucher) {
		return round.Round{}, ErrBadVoucher
	}
	if p, err := s.participants.GetParticipant(ctx, rnd.Number, buyer); err == nil && p.FreeTicketUsed {
		return round.Round{}, ErrVoucherUsed
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return round.Round{}, fmt.Errorf("load participant: %w", err)
	}

	origRnd := rnd
	writes, err := s.preparePurchase(ctx, &rnd, buyer, 1)
	if err != nil {
		return round.Round{}, err
	}
	writes.participant.FreeTicketUsed = true

	updated, err := s.rounds.UpdateRound(ctx, rnd)
	if err != nil {
		return round.Round{}, fmt.Errorf("update round: %w", err)
	}
	if err := s.persistPurchase(ctx, writes); err != nil {
		s.restoreRound(ctx, origRnd)
		return round.Round{}, err
	}

	metrics.RecordTicketSale(1, true)
	s.log.WithFields(map[string]interface{}{
		"round": updated.Number,
		"buyer": buyer,
	}).Info("free ticket redeemed")
	return updated, nil
}

// purchaseWrites carries the participant records a purchase must persist,
// plus the snapshot needed to roll the reindex back.
type purchaseWrites struct {
	participant round.Participant
	tail        *round.Participant
	prevTail    round.Participant
}

// preparePurchase computes the shared purchase effects: time extension,
// ticket counters, last-buyer tracking and the swap-to-tail reindex that
// keeps the most recent buyer in the last slot. It mutates rnd in memory
// and returns the participant writes; it persists nothing itself.
func (s *Service) preparePurchase(ctx context.Context, rnd *round.Round, buyer string, quantity int64) (purchaseWrites, error) {
	extended := rnd.EndTime.Add(time.Duration(quantity) * s.params.ExtensionPerTicket)
	if s.params.MaxRoundDuration > 0 {
		if limit := rnd.StartTime.Add(s.params.MaxRoundDuration); extended.After(limit) {
			extended = limit
		}
	}
	rnd.EndTime = extended
	rnd.TotalTickets += quantity
	rnd.LastBuyer = buyer

	count, err := s.participants.CountParticipants(ctx, rnd.Number)
	if err != nil {
		return purchaseWrites{}, fmt.Errorf("count participants: %w", err)
	}

	var w purchaseWrites
	p, err := s.participants.GetParticipant(ctx, rnd.Number, buyer)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = round.Participant{
			RoundNumber: rnd.Number,
			Address:     buyer,
			Tickets:     quantity,
			Index:       count,
		}
	case err != nil:
		return purchaseWrites{}, fmt.Errorf("load participant: %w", err)
	default:
		p.Tickets += quantity
		// Repeat buyer: swap to the tail so the final buyer always
		// occupies the last slot.
		if tailIdx := count - 1; p.Index != tailIdx {
			tail, err := s.participants.GetParticipantAt(ctx, rnd.Number, tailIdx)
			if err != nil {
				return purchaseWrites{}, fmt.Errorf("load tail participant: %w", err)
			}
			w.prevTail = tail
			tail.Index = p.Index
			p.Index = tailIdx
			w.tail = &tail
		}
	}
	w.participant = p
	return w, nil
}

// persistPurchase writes the prepared participant records. A failure on the
// second write restores the first so index layout stays coherent.
func (s *Service) persistPurchase(ctx context.Context, w purchaseWrites) error {
	if w.tail != nil {
		if _, err := s.participants.PutParticipant(ctx, *w.tail); err != nil {
			return fmt.Errorf("reindex participant: %w", err)
		}
	}
	if _, err := s.participants.PutParticipant(ctx, w.participant); err != nil {
		if w.tail != nil {
			if _, rerr := s.participants.PutParticipant(ctx, w.prevTail); rerr != nil {
				s.log.WithError(rerr).Error("failed to restore tail participant")
			}
		}
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

// unwindPayment returns a purchase payment whose bookkeeping could not be
// persisted: the refund reversal first so the pot holds the full pull, then
// the pull reversal.
func (s *Service) unwindPayment(ctx context.Context, pullID, refundID string) {
	if refundID != "" {
		if _, err := s.ledger.Reverse(ctx, refundID); err != nil {
			s.log.WithError(err).WithField("tx", refundID).Error("failed to reverse refund")
		}
	}
	if _, err := s.ledger.Reverse(ctx, pullID); err != nil {
		s.log.WithError(err).WithField("tx", pullID).Error("failed to reverse payment pull")
	}
}

func (s *Service) restoreRound(ctx context.Context, orig round.Round) {
	if _, err := s.rounds.UpdateRound(ctx, orig); err != nil {
		s.log.WithError(err).WithField("round", orig.Number).Error("failed to restore round record")
	}
}

// Voucher computes the free-ticket voucher for an address in a round. Used
// by the issuing side and by tests; redemption verifies the same HMAC.
func Voucher(key []byte, roundNumber int64, address string) string {
	mac := hmac.New(sha256.New, key)
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], uint64(roundNumber))
	mac.Write(num[:])
	mac.Write([]byte(address))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyVoucher(key []byte, roundNumber int64, address, voucher string) bool {
	want := Voucher(key, roundNumber, address)
	return hmac.Equal([]byte(want), []byte(voucher))
}
