package randomness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/liqingnz/time-ticket/internal/app/storage"
	"github.com/liqingnz/time-ticket/pkg/logger"
)

// Requester polls for the current round finishing and issues the round's
// randomness request. It is safe to run alongside manual Request calls; the
// single-outstanding rule makes the poll idempotent.
type Requester struct {
	svc      *Service
	rounds   storage.RoundStore
	clock    clockwork.Clock
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRequester builds a requester polling at the given interval.
func NewRequester(svc *Service, rounds storage.RoundStore, clock clockwork.Clock, interval time.Duration, log *logger.Logger) *Requester {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("randomness-requester")
	}
	return &Requester{svc: svc, rounds: rounds, clock: clock, interval: interval, log: log}
}

// Name implements system.Service.
func (r *Requester) Name() string { return "randomness-requester" }

// Start implements system.Service.
func (r *Requester) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("requester already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx)
	return nil
}

// Stop implements system.Service.
func (r *Requester) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Requester) run(ctx context.Context) {
	defer close(r.done)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.poll(ctx)
		}
	}
}

// Poll runs one pass immediately. Exposed for tests and for forcing a check
// right after a round ends.
func (r *Requester) Poll(ctx context.Context) {
	r.poll(ctx)
}

func (r *Requester) poll(ctx context.Context) {
	state, err := r.rounds.GetState(ctx)
	if err != nil {
		r.log.WithError(err).Warn("requester: load state")
		return
	}
	rnd, err := r.rounds.GetRound(ctx, state.CurrentRound)
	if err != nil {
		r.log.WithError(err).WithField("round", state.CurrentRound).Warn("requester: load round")
		return
	}
	// A zero-buyer round still needs a value so settlement can carry the
	// pool forward instead of stalling the machine.
	if rnd.Settled || r.clock.Now().Before(rnd.EndTime) {
		return
	}
	if _, err := r.svc.Request(ctx, rnd.Number); err != nil {
		if errors.Is(err, ErrRequestOutstanding) || errors.Is(err, ErrAlreadyFulfilled) {
			return
		}
		r.log.WithError(err).WithField("round", rnd.Number).Warn("requester: issue request")
	}
}
