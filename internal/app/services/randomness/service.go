// Package randomness implements the boundary to the external randomness
// coordinator. Outbound: one request per round. Inbound: an authenticated
// callback delivering one 256-bit value, exactly once.
package randomness

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/liqingnz/time-ticket/internal/app/domain/randomness"
	"github.com/liqingnz/time-ticket/internal/app/metrics"
	"github.com/liqingnz/time-ticket/internal/app/storage"
	"github.com/liqingnz/time-ticket/pkg/logger"
)

// ValueBytes is the required length of a randomness value.
const ValueBytes = 32

// Errors
var (
	ErrRequestOutstanding = errors.New("round already has an outstanding randomness request")
	ErrAlreadyFulfilled   = errors.New("round randomness already recorded")
	ErrUnknownRequest     = errors.New("randomness request not found")
	ErrBadCoordinator     = errors.New("callback not from the configured coordinator")
	ErrBadValue           = errors.New("randomness value must be 32 bytes of hex")
)

// Service correlates randomness requests with rounds and records fulfilled
// values write-once.
type Service struct {
	mu          sync.Mutex // serializes the check-then-create sequences
	rounds      storage.RoundStore
	store       storage.RandomnessStore
	coordinator string // shared token identifying the coordinator
	log         *logger.Logger
}

// New constructs a randomness service. coordinatorToken authenticates
// inbound callbacks.
func New(rounds storage.RoundStore, store storage.RandomnessStore, coordinatorToken string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("randomness")
	}
	return &Service{rounds: rounds, store: store, coordinator: coordinatorToken, log: log}
}

// Request issues a randomness request for a round. A round may have at most
// one outstanding request, and none once a value is recorded.
func (s *Service) Request(ctx context.Context, roundNumber int64) (domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetRoundRandomness(ctx, roundNumber); err == nil {
		return domain.Request{}, ErrAlreadyFulfilled
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Request{}, fmt.Errorf("check randomness: %w", err)
	}

	if _, err := s.store.GetPendingRequestByRound(ctx, roundNumber); err == nil {
		return domain.Request{}, ErrRequestOutstanding
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Request{}, fmt.Errorf("check pending request: %w", err)
	}

	req, err := s.store.CreateRandomRequest(ctx, domain.Request{
		ID:          uuid.NewString(),
		RoundNumber: roundNumber,
		Status:      domain.StatusPending,
	})
	if err != nil {
		return domain.Request{}, fmt.Errorf("create request: %w", err)
	}

	s.log.WithField("request_id", req.ID).
		WithField("round", roundNumber).
		Info("randomness requested")
	return req, nil
}

// Fulfill records the value for the round a request was issued for. The
// caller must present the coordinator token. A second callback for the same
// request, or for a round whose value exists, fails cleanly and never
// overwrites.
func (s *Service) Fulfill(ctx context.Context, coordinatorToken, requestID, valueHex string) (domain.Request, error) {
	if subtle.ConstantTimeCompare([]byte(coordinatorToken), []byte(s.coordinator)) != 1 {
		return domain.Request{}, ErrBadCoordinator
	}

	raw, err := hex.DecodeString(valueHex)
	if err != nil || len(raw) != ValueBytes {
		return domain.Request{}, ErrBadValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.GetRandomRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Request{}, ErrUnknownRequest
	}
	if err != nil {
		return domain.Request{}, fmt.Errorf("get request: %w", err)
	}
	if req.Status != domain.StatusPending {
		return domain.Request{}, ErrAlreadyFulfilled
	}

	rnd, err := s.rounds.GetRound(ctx, req.RoundNumber)
	if err != nil {
		return domain.Request{}, fmt.Errorf("get round %d: %w", req.RoundNumber, err)
	}
	if rnd.Settled {
		return domain.Request{}, fmt.Errorf("round %d already settled", req.RoundNumber)
	}

	if err := s.store.SetRoundRandomness(ctx, req.RoundNumber, valueHex); err != nil {
		return domain.Request{}, ErrAlreadyFulfilled
	}

	req.Status = domain.StatusFulfilled
	req.Value = valueHex
	req.FulfilledAt = time.Now().UTC()
	updated, err := s.store.UpdateRandomRequest(ctx, req)
	if err != nil {
		return domain.Request{}, fmt.Errorf("update request: %w", err)
	}

	metrics.RecordRandomnessFulfilled()
	s.log.WithField("request_id", req.ID).
		WithField("round", req.RoundNumber).
		Info("randomness fulfilled")
	return updated, nil
}

// Value returns the recorded value for a round, if any.
func (s *Service) Value(ctx context.Context, roundNumber int64) (string, bool, error) {
	value, err := s.store.GetRoundRandomness(ctx, roundNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
