package randomness

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/liqingnz/time-ticket/internal/app/domain/randomness"
	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/storage/memory"
)

const testToken = "coordinator-secret"

var testValue = strings.Repeat("ab", 32)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, store, testToken, nil), store
}

func seedRound(t *testing.T, store *memory.Store, number int64, settled bool) {
	t.Helper()
	_, err := store.CreateRound(context.Background(), round.Round{
		Number:  number,
		EndTime: time.Now().Add(-time.Minute),
		Settled: settled,
	})
	if err != nil {
		t.Fatalf("seed round: %v", err)
	}
}

func TestRequestSingleOutstanding(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedRound(t, store, 1, false)

	req, err := svc.Request(ctx, 1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", req.Status)
	}

	if _, err := svc.Request(ctx, 1); !errors.Is(err, ErrRequestOutstanding) {
		t.Fatalf("second request err = %v, want ErrRequestOutstanding", err)
	}
}

func TestFulfill(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedRound(t, store, 1, false)

	req, err := svc.Request(ctx, 1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	fulfilled, err := svc.Fulfill(ctx, testToken, req.ID, testValue)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if fulfilled.Status != domain.StatusFulfilled || fulfilled.Value != testValue {
		t.Fatalf("fulfilled = %+v", fulfilled)
	}

	value, ok, err := svc.Value(ctx, 1)
	if err != nil || !ok || value != testValue {
		t.Fatalf("Value = %q, %v, %v", value, ok, err)
	}
}

func TestFulfillRejectsBadCaller(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedRound(t, store, 1, false)

	req, _ := svc.Request(ctx, 1)
	if _, err := svc.Fulfill(ctx, "wrong", req.ID, testValue); !errors.Is(err, ErrBadCoordinator) {
		t.Fatalf("err = %v, want ErrBadCoordinator", err)
	}
	if _, ok, _ := svc.Value(ctx, 1); ok {
		t.Fatal("value recorded despite bad coordinator")
	}
}

func TestFulfillRejectsBadValue(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedRound(t, store, 1, false)

	req, _ := svc.Request(ctx, 1)
	for _, value := range []string{"", "zz", strings.Repeat("ab", 16), strings.Repeat("xy", 32)} {
		if _, err := svc.Fulfill(ctx, testToken, req.ID, value); !errors.Is(err, ErrBadValue) {
			t.Fatalf("value %q: err = %v, want ErrBadValue", value, err)
		}
	}
}

func TestFulfillIsWriteOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedRound(t, store, 1, false)

	req, _ := svc.Request(ctx, 1)
	if _, err := svc.Fulfill(ctx, testToken, req.ID, testValue); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	other := strings.Repeat("cd", 32)
	if _, err := svc.Fulfill(ctx, testToken, req.ID, other); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("second fulfill err = %v, want ErrAlreadyFulfilled", err)
	}
	value, _, _ := svc.Value(ctx, 1)
	if value != testValue {
		t.Fatalf("value overwritten to %q", value)
	}

	// A fulfilled round cannot be re-requested either.
	if _, err := svc.Request(ctx, 1); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("re-request err = %v, want ErrAlreadyFulfilled", err)
	}
}

func TestFulfillUnknownRequest(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Fulfill(context.Background(), testToken, "missing", testValue); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestRequesterPoll(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedRound(t, store, 1, false)
	if _, err := store.SaveState(ctx, round.State{CurrentRound: 1}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := store.PutParticipant(ctx, round.Participant{RoundNumber: 1, Address: "alice", Tickets: 1}); err != nil {
		t.Fatalf("put participant: %v", err)
	}
	rnd, err := store.GetRound(ctx, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	rnd.TotalTickets = 1
	if _, err := store.UpdateRound(ctx, rnd); err != nil {
		t.Fatalf("update round: %v", err)
	}

	req := NewRequester(svc, store, nil, time.Second, nil)
	req.Poll(ctx)

	pending, err := store.GetPendingRequestByRound(ctx, 1)
	if err != nil {
		t.Fatalf("no request issued: %v", err)
	}
	if pending.RoundNumber != 1 {
		t.Fatalf("request round = %d, want 1", pending.RoundNumber)
	}

	// Duplicate polling stays idempotent.
	req.Poll(ctx)
	again, err := store.GetPendingRequestByRound(ctx, 1)
	if err != nil || again.ID != pending.ID {
		t.Fatalf("poll issued a second request: %v", err)
	}
}

func TestRequestSingleOutstandingUnderConcurrency(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedRound(t, store, 1, false)

	var wg sync.WaitGroup
	var issued int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Request(ctx, 1); err == nil {
				atomic.AddInt32(&issued, 1)
			}
		}()
	}
	wg.Wait()

	if issued != 1 {
		t.Fatalf("issued = %d requests, want exactly 1", issued)
	}
	if _, err := store.GetPendingRequestByRound(ctx, 1); err != nil {
		t.Fatalf("pending request missing: %v", err)
	}
}

func TestRequesterPollsEmptyRound(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// A round that ended with zero buyers still needs a value so the pool
	// can carry forward.
	seedRound(t, store, 1, false)
	if _, err := store.SaveState(ctx, round.State{CurrentRound: 1, TicketPrice: 100}); err != nil {
		t.Fatalf("save state: %v", err)
	}

	NewRequester(svc, store, nil, time.Second, nil).Poll(ctx)

	if _, err := store.GetPendingRequestByRound(ctx, 1); err != nil {
		t.Fatalf("no request issued for empty round: %v", err)
	}
}
