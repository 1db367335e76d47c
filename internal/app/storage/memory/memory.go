package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liqingnz/time-ticket/internal/app/domain/bank"
	"github.com/liqingnz/time-ticket/internal/app/domain/randomness"
	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	rounds        map[int64]round.Round
	state         round.State
	stateSet      bool
	participants  map[int64]map[string]round.Participant // round -> address -> record
	randRequests  map[string]randomness.Request
	randValues    map[int64]string
	bankAccounts  map[string]bank.Account
	bankTxs       map[string]bank.Transaction
	bankJournal   []string // tx IDs in insertion order
}

var (
	_ storage.RoundStore       = (*Store)(nil)
	_ storage.ParticipantStore = (*Store)(nil)
	_ storage.RandomnessStore  = (*Store)(nil)
	_ storage.BankStore        = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		rounds:       make(map[int64]round.Round),
		participants: make(map[int64]map[string]round.Participant),
		randRequests: make(map[string]randomness.Request),
		randValues:   make(map[int64]string),
		bankAccounts: make(map[string]bank.Account),
		bankTxs:      make(map[string]bank.Transaction),
	}
}

// RoundStore implementation --------------------------------------------------

func (s *Store) CreateRound(_ context.Context, rnd round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[rnd.Number]; exists {
		return round.Round{}, fmt.Errorf("round %d already exists", rnd.Number)
	}
	now := time.Now().UTC()
	rnd.CreatedAt = now
	rnd.UpdatedAt = now
	s.rounds[rnd.Number] = rnd
	return rnd, nil
}

func (s *Store) UpdateRound(_ context.Context, rnd round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rounds[rnd.Number]
	if !ok {
		return round.Round{}, storage.ErrNotFound
	}
	rnd.CreatedAt = existing.CreatedAt
	rnd.UpdatedAt = time.Now().UTC()
	s.rounds[rnd.Number] = rnd
	return rnd, nil
}

func (s *Store) GetRound(_ context.Context, number int64) (round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rnd, ok := s.rounds[number]
	if !ok {
		return round.Round{}, storage.ErrNotFound
	}
	return rnd, nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]round.Round, 0, len(s.rounds))
	for _, rnd := range s.rounds {
		result = append(result, rnd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number > result[j].Number })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetState(_ context.Context) (round.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.stateSet {
		return round.State{}, storage.ErrNotFound
	}
	return s.state, nil
}

func (s *Store) SaveState(_ context.Context, st round.State) (round.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
	s.stateSet = true
	return st, nil
}

// ParticipantStore implementation ---------------------------------------------

func (s *Store) PutParticipant(_ context.Context, p round.Participant) (round.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAddr, ok := s.participants[p.RoundNumber]
	if !ok {
		byAddr = make(map[string]round.Participant)
		s.participants[p.RoundNumber] = byAddr
	}
	now := time.Now().UTC()
	if existing, exists := byAddr[p.Address]; exists {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	byAddr[p.Address] = p
	return p, nil
}

func (s *Store) GetParticipant(_ context.Context, roundNumber int64, address string) (round.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[roundNumber][address]
	if !ok {
		return round.Participant{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetParticipantAt(_ context.Context, roundNumber, index int64) (round.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.participants[roundNumber] {
		if p.Index == index {
			return p, nil
		}
	}
	return round.Participant{}, storage.ErrNotFound
}

func (s *Store) ListParticipants(_ context.Context, roundNumber int64) ([]round.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]round.Participant, 0, len(s.participants[roundNumber]))
	for _, p := range s.participants[roundNumber] {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (s *Store) CountParticipants(_ context.Context, roundNumber int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.participants[roundNumber])), nil
}

// RandomnessStore implementation ----------------------------------------------

func (s *Store) CreateRandomRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.randRequests[req.ID]; exists {
		return randomness.Request{}, fmt.Errorf("request %s already exists", req.ID)
	}
	req.CreatedAt = time.Now().UTC()
	s.randRequests[req.ID] = req
	return req, nil
}

func (s *Store) UpdateRandomRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.randRequests[req.ID]
	if !ok {
		return randomness.Request{}, storage.ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	s.randRequests[req.ID] = req
	return req, nil
}

func (s *Store) GetRandomRequest(_ context.Context, id string) (randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.randRequests[id]
	if !ok {
		return randomness.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) GetPendingRequestByRound(_ context.Context, roundNumber int64) (randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.randRequests {
		if req.RoundNumber == roundNumber && req.Status == randomness.StatusPending {
			return req, nil
		}
	}
	return randomness.Request{}, storage.ErrNotFound
}

func (s *Store) SetRoundRandomness(_ context.Context, roundNumber int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.randValues[roundNumber]; exists {
		return fmt.Errorf("randomness for round %d already recorded", roundNumber)
	}
	s.randValues[roundNumber] = value
	return nil
}

func (s *Store) GetRoundRandomness(_ context.Context, roundNumber int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.randValues[roundNumber]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

// BankStore implementation -----------------------------------------------------

func (s *Store) CreateBankAccount(_ context.Context, acct bank.Account) (bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bankAccounts[acct.Address]; exists {
		return bank.Account{}, fmt.Errorf("account %s already exists", acct.Address)
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	s.bankAccounts[acct.Address] = acct
	return acct, nil
}

func (s *Store) UpdateBankAccount(_ context.Context, acct bank.Account) (bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bankAccounts[acct.Address]
	if !ok {
		return bank.Account{}, storage.ErrNotFound
	}
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	s.bankAccounts[acct.Address] = acct
	return acct, nil
}

func (s *Store) GetBankAccount(_ context.Context, address string) (bank.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.bankAccounts[address]
	if !ok {
		return bank.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) CreateBankTransaction(_ context.Context, tx bank.Transaction) (bank.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bankTxs[tx.ID]; exists {
		return bank.Transaction{}, fmt.Errorf("transaction %s already exists", tx.ID)
	}
	tx.CreatedAt = time.Now().UTC()
	s.bankTxs[tx.ID] = tx
	s.bankJournal = append(s.bankJournal, tx.ID)
	return tx, nil
}

func (s *Store) GetBankTransaction(_ context.Context, id string) (bank.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.bankTxs[id]
	if !ok {
		return bank.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) ListBankTransactions(_ context.Context, address string, limit int) ([]bank.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []bank.Transaction
	for i := len(s.bankJournal) - 1; i >= 0; i-- {
		tx := s.bankTxs[s.bankJournal[i]]
		if tx.FromAddress == address || tx.ToAddress == address {
			result = append(result, tx)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
