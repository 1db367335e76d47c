package storage

import (
	"context"
	"errors"

	"github.com/liqingnz/time-ticket/internal/app/domain/bank"
	"github.com/liqingnz/time-ticket/internal/app/domain/randomness"
	"github.com/liqingnz/time-ticket/internal/app/domain/round"
)

// ErrNotFound is returned by every store when the requested record does not
// exist. Services map it onto their own sentinels.
var ErrNotFound = errors.New("record not found")

// RoundStore persists rounds and the global game counters.
type RoundStore interface {
	CreateRound(ctx context.Context, rnd round.Round) (round.Round, error)
	UpdateRound(ctx context.Context, rnd round.Round) (round.Round, error)
	GetRound(ctx context.Context, number int64) (round.Round, error)
	ListRounds(ctx context.Context, limit int) ([]round.Round, error)

	GetState(ctx context.Context) (round.State, error)
	SaveState(ctx context.Context, st round.State) (round.State, error)
}

// ParticipantStore persists the per-round dense participant list. Index
// values within a round are contiguous from zero and unique.
type ParticipantStore interface {
	PutParticipant(ctx context.Context, p round.Participant) (round.Participant, error)
	GetParticipant(ctx context.Context, roundNumber int64, address string) (round.Participant, error)
	GetParticipantAt(ctx context.Context, roundNumber, index int64) (round.Participant, error)
	ListParticipants(ctx context.Context, roundNumber int64) ([]round.Participant, error)
	CountParticipants(ctx context.Context, roundNumber int64) (int64, error)
}

// RandomnessStore persists request correlation and the per-round value.
type RandomnessStore interface {
	CreateRandomRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	UpdateRandomRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	GetRandomRequest(ctx context.Context, id string) (randomness.Request, error)
	GetPendingRequestByRound(ctx context.Context, roundNumber int64) (randomness.Request, error)

	// SetRoundRandomness writes the round's value. Writing twice is an error.
	SetRoundRandomness(ctx context.Context, roundNumber int64, value string) error
	GetRoundRandomness(ctx context.Context, roundNumber int64) (string, error)
}

// BankStore persists ledger accounts and the transaction journal.
type BankStore interface {
	CreateBankAccount(ctx context.Context, acct bank.Account) (bank.Account, error)
	UpdateBankAccount(ctx context.Context, acct bank.Account) (bank.Account, error)
	GetBankAccount(ctx context.Context, address string) (bank.Account, error)

	CreateBankTransaction(ctx context.Context, tx bank.Transaction) (bank.Transaction, error)
	GetBankTransaction(ctx context.Context, id string) (bank.Transaction, error)
	ListBankTransactions(ctx context.Context, address string, limit int) ([]bank.Transaction, error)
}
