package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liqingnz/time-ticket/internal/app/domain/bank"
	"github.com/liqingnz/time-ticket/internal/app/domain/randomness"
	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. The schema is
// in schema.sql; apply it before use.
type Store struct {
	db *sql.DB
}

var (
	_ storage.RoundStore       = (*Store)(nil)
	_ storage.ParticipantStore = (*Store)(nil)
	_ storage.RandomnessStore  = (*Store)(nil)
	_ storage.BankStore        = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- RoundStore -------------------------------------------------------------

func (s *Store) CreateRound(ctx context.Context, rnd round.Round) (round.Round, error) {
	now := time.Now().UTC()
	rnd.CreatedAt = now
	rnd.UpdatedAt = now

	winnersJSON, err := json.Marshal(rnd.AirdropWinners)
	if err != nil {
		return round.Round{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tt_rounds (
			number, start_time, end_time, pool, total_tickets, last_buyer,
			settled, funding_ratio_bps, winner, winner_amount,
			dividend_per_user, dividend_eligible, airdrop_per_user,
			airdrop_winners, team_amount, carry_out, unclaimed, swept,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, rnd.Number, rnd.StartTime, rnd.EndTime, rnd.Pool, rnd.TotalTickets, rnd.LastBuyer,
		rnd.Settled, rnd.FundingRatioBps, rnd.Winner, rnd.WinnerAmount,
		rnd.DividendPerUser, rnd.DividendEligible, rnd.AirdropPerUser,
		winnersJSON, rnd.TeamAmount, rnd.CarryOut, rnd.Unclaimed, rnd.Swept,
		rnd.CreatedAt, rnd.UpdatedAt)
	if err != nil {
		return round.Round{}, err
	}
	return rnd, nil
}

func (s *Store) UpdateRound(ctx context.Context, rnd round.Round) (round.Round, error) {
	rnd.UpdatedAt = time.Now().UTC()

	winnersJSON, err := json.Marshal(rnd.AirdropWinners)
	if err != nil {
		return round.Round{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tt_rounds
		SET start_time = $2, end_time = $3, pool = $4, total_tickets = $5,
			last_buyer = $6, settled = $7, funding_ratio_bps = $8, winner = $9,
			winner_amount = $10, dividend_per_user = $11, dividend_eligible = $12,
			airdrop_per_user = $13, airdrop_winners = $14, team_amount = $15,
			carry_out = $16, unclaimed = $17, swept = $18, updated_at = $19
		WHERE number = $1
	`, rnd.Number, rnd.StartTime, rnd.EndTime, rnd.Pool, rnd.TotalTickets,
		rnd.LastBuyer, rnd.Settled, rnd.FundingRatioBps, rnd.Winner,
		rnd.WinnerAmount, rnd.DividendPerUser, rnd.DividendEligible,
		rnd.AirdropPerUser, winnersJSON, rnd.TeamAmount,
		rnd.CarryOut, rnd.Unclaimed, rnd.Swept, rnd.UpdatedAt)
	if err != nil {
		return round.Round{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return round.Round{}, storage.ErrNotFound
	}
	return rnd, nil
}

const roundColumns = `
	number, start_time, end_time, pool, total_tickets, last_buyer,
	settled, funding_ratio_bps, winner, winner_amount,
	dividend_per_user, dividend_eligible, airdrop_per_user,
	airdrop_winners, team_amount, carry_out, unclaimed, swept,
	created_at, updated_at`

func scanRound(row interface{ Scan(...any) error }) (round.Round, error) {
	var (
		rnd         round.Round
		winnersJSON []byte
	)
	err := row.Scan(&rnd.Number, &rnd.StartTime, &rnd.EndTime, &rnd.Pool,
		&rnd.TotalTickets, &rnd.LastBuyer, &rnd.Settled, &rnd.FundingRatioBps,
		&rnd.Winner, &rnd.WinnerAmount, &rnd.DividendPerUser,
		&rnd.DividendEligible, &rnd.AirdropPerUser, &winnersJSON,
		&rnd.TeamAmount, &rnd.CarryOut, &rnd.Unclaimed, &rnd.Swept,
		&rnd.CreatedAt, &rnd.UpdatedAt)
	if err != nil {
		return round.Round{}, mapNoRows(err)
	}
	if len(winnersJSON) > 0 {
		if err := json.Unmarshal(winnersJSON, &rnd.AirdropWinners); err != nil {
			return round.Round{}, err
		}
	}
	return rnd, nil
}

func (s *Store) GetRound(ctx context.Context, number int64) (round.Round, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM tt_rounds WHERE number = $1`, number)
	return scanRound(row)
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]round.Round, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM tt_rounds ORDER BY number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []round.Round
	for rows.Next() {
		rnd, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rnd)
	}
	return result, rows.Err()
}

func (s *Store) GetState(ctx context.Context) (round.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT current_round, ticket_price FROM tt_state WHERE id = 1`)
	var st round.State
	if err := row.Scan(&st.CurrentRound, &st.TicketPrice); err != nil {
		return round.State{}, mapNoRows(err)
	}
	return st, nil
}

func (s *Store) SaveState(ctx context.Context, st round.State) (round.State, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tt_state (id, current_round, ticket_price)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET current_round = $1, ticket_price = $2
	`, st.CurrentRound, st.TicketPrice)
	if err != nil {
		return round.State{}, err
	}
	return st, nil
}

// --- ParticipantStore -------------------------------------------------------

func (s *Store) PutParticipant(ctx context.Context, p round.Participant) (round.Participant, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tt_participants (
			round_number, address, tickets, idx, free_ticket_used,
			claimed_winner, claimed_dividend, claimed_airdrop, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (round_number, address) DO UPDATE SET
			tickets = $3, idx = $4, free_ticket_used = $5,
			claimed_winner = $6, claimed_dividend = $7, claimed_airdrop = $8,
			updated_at = $9
	`, p.RoundNumber, p.Address, p.Tickets, p.Index, p.FreeTicketUsed,
		p.ClaimedWinner, p.ClaimedDividend, p.ClaimedAirdrop, now)
	if err != nil {
		return round.Participant{}, err
	}
	return p, nil
}

const participantColumns = `
	round_number, address, tickets, idx, free_ticket_used,
	claimed_winner, claimed_dividend, claimed_airdrop, created_at, updated_at`

func scanParticipant(row interface{ Scan(...any) error }) (round.Participant, error) {
	var p round.Participant
	err := row.Scan(&p.RoundNumber, &p.Address, &p.Tickets, &p.Index,
		&p.FreeTicketUsed, &p.ClaimedWinner, &p.ClaimedDividend,
		&p.ClaimedAirdrop, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return round.Participant{}, mapNoRows(err)
	}
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, roundNumber int64, address string) (round.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM tt_participants
		WHERE round_number = $1 AND address = $2
	`, roundNumber, address)
	return scanParticipant(row)
}

func (s *Store) GetParticipantAt(ctx context.Context, roundNumber, index int64) (round.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM tt_participants
		WHERE round_number = $1 AND idx = $2
	`, roundNumber, index)
	return scanParticipant(row)
}

func (s *Store) ListParticipants(ctx context.Context, roundNumber int64) ([]round.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+participantColumns+` FROM tt_participants
		WHERE round_number = $1 ORDER BY idx ASC
	`, roundNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []round.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) CountParticipants(ctx context.Context, roundNumber int64) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tt_participants WHERE round_number = $1`, roundNumber)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// --- RandomnessStore --------------------------------------------------------

func (s *Store) CreateRandomRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	req.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tt_random_requests (id, round_number, status, value, created_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.RoundNumber, req.Status, req.Value, req.CreatedAt, nullTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	return req, nil
}

func (s *Store) UpdateRandomRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tt_random_requests
		SET status = $2, value = $3, fulfilled_at = $4
		WHERE id = $1
	`, req.ID, req.Status, req.Value, nullTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return randomness.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func scanRandomRequest(row interface{ Scan(...any) error }) (randomness.Request, error) {
	var (
		req         randomness.Request
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.RoundNumber, &req.Status, &req.Value, &req.CreatedAt, &fulfilledAt); err != nil {
		return randomness.Request{}, mapNoRows(err)
	}
	if fulfilledAt.Valid {
		req.FulfilledAt = fulfilledAt.Time
	}
	return req, nil
}

func (s *Store) GetRandomRequest(ctx context.Context, id string) (randomness.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, round_number, status, value, created_at, fulfilled_at
		FROM tt_random_requests WHERE id = $1
	`, id)
	return scanRandomRequest(row)
}

func (s *Store) GetPendingRequestByRound(ctx context.Context, roundNumber int64) (randomness.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, round_number, status, value, created_at, fulfilled_at
		FROM tt_random_requests
		WHERE round_number = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1
	`, roundNumber, randomness.StatusPending)
	return scanRandomRequest(row)
}

func (s *Store) SetRoundRandomness(ctx context.Context, roundNumber int64, value string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tt_randomness (round_number, value)
		VALUES ($1, $2)
		ON CONFLICT (round_number) DO NOTHING
	`, roundNumber, value)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("randomness for round %d already recorded", roundNumber)
	}
	return nil
}

func (s *Store) GetRoundRandomness(ctx context.Context, roundNumber int64) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM tt_randomness WHERE round_number = $1`, roundNumber)
	var value string
	if err := row.Scan(&value); err != nil {
		return "", mapNoRows(err)
	}
	return value, nil
}

// --- BankStore --------------------------------------------------------------

func (s *Store) CreateBankAccount(ctx context.Context, acct bank.Account) (bank.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tt_bank_accounts (address, balance, frozen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, acct.Address, acct.Balance, acct.Frozen, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return bank.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateBankAccount(ctx context.Context, acct bank.Account) (bank.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE tt_bank_accounts
		SET balance = $2, frozen = $3, updated_at = $4
		WHERE address = $1
	`, acct.Address, acct.Balance, acct.Frozen, acct.UpdatedAt)
	if err != nil {
		return bank.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return bank.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) GetBankAccount(ctx context.Context, address string) (bank.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, balance, frozen, created_at, updated_at
		FROM tt_bank_accounts WHERE address = $1
	`, address)
	var acct bank.Account
	err := row.Scan(&acct.Address, &acct.Balance, &acct.Frozen, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return bank.Account{}, mapNoRows(err)
	}
	return acct, nil
}

func (s *Store) CreateBankTransaction(ctx context.Context, tx bank.Transaction) (bank.Transaction, error) {
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tt_bank_transactions (id, tx_type, from_address, to_address, amount, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.TxType, tx.FromAddress, tx.ToAddress, tx.Amount, tx.ReferenceID, tx.CreatedAt)
	if err != nil {
		return bank.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetBankTransaction(ctx context.Context, id string) (bank.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tx_type, from_address, to_address, amount, reference_id, created_at
		FROM tt_bank_transactions WHERE id = $1
	`, id)
	var tx bank.Transaction
	err := row.Scan(&tx.ID, &tx.TxType, &tx.FromAddress, &tx.ToAddress, &tx.Amount, &tx.ReferenceID, &tx.CreatedAt)
	if err != nil {
		return bank.Transaction{}, mapNoRows(err)
	}
	return tx, nil
}

func (s *Store) ListBankTransactions(ctx context.Context, address string, limit int) ([]bank.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_type, from_address, to_address, amount, reference_id, created_at
		FROM tt_bank_transactions
		WHERE from_address = $1 OR to_address = $1
		ORDER BY created_at DESC LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []bank.Transaction
	for rows.Next() {
		var tx bank.Transaction
		if err := rows.Scan(&tx.ID, &tx.TxType, &tx.FromAddress, &tx.ToAddress, &tx.Amount, &tx.ReferenceID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
