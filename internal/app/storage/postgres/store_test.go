package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liqingnz/time-ticket/internal/app/domain/bank"
	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	_ "github.com/lib/pq"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	rnd, err := store.CreateRound(ctx, round.Round{
		Number:    time.Now().UnixNano(), // avoid collisions across runs
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		Pool:      100,
	})
	require.NoError(t, err)

	rnd.Pool = 250
	rnd.LastBuyer = "alice"
	updated, err := store.UpdateRound(ctx, rnd)
	require.NoError(t, err)
	require.Equal(t, int64(250), updated.Pool)

	fetched, err := store.GetRound(ctx, rnd.Number)
	require.NoError(t, err)
	require.Equal(t, "alice", fetched.LastBuyer)

	p, err := store.PutParticipant(ctx, round.Participant{
		RoundNumber: rnd.Number, Address: "alice", Tickets: 2, Index: 0,
	})
	require.NoError(t, err)

	p.Tickets = 5
	_, err = store.PutParticipant(ctx, p)
	require.NoError(t, err)

	got, err := store.GetParticipant(ctx, rnd.Number, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Tickets)

	require.NoError(t, store.SetRoundRandomness(ctx, rnd.Number, "ff00"))
	require.Error(t, store.SetRoundRandomness(ctx, rnd.Number, "aa11"))

	value, err := store.GetRoundRandomness(ctx, rnd.Number)
	require.NoError(t, err)
	require.Equal(t, "ff00", value)

	acctAddr := "acct-" + time.Now().Format("150405.000000000")
	_, err = store.CreateBankAccount(ctx, bank.Account{Address: acctAddr, Balance: 10})
	require.NoError(t, err)

	acct, err := store.GetBankAccount(ctx, acctAddr)
	require.NoError(t, err)
	require.Equal(t, int64(10), acct.Balance)
}
