package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/liqingnz/time-ticket/pkg/logger"
)

// SettlePoller settles the current round automatically once it is over and
// its randomness has arrived. Anyone may settle at any time; the poller is
// the house bot that makes sure someone always does.
type SettlePoller struct {
	svc      *Service
	clock    clockwork.Clock
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSettlePoller builds a poller settling at the given interval.
func NewSettlePoller(svc *Service, clock clockwork.Clock, interval time.Duration, log *logger.Logger) *SettlePoller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("settle-poller")
	}
	return &SettlePoller{svc: svc, clock: clock, interval: interval, log: log}
}

// Name implements system.Service.
func (p *SettlePoller) Name() string { return "settle-poller" }

// Start implements system.Service.
func (p *SettlePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("settle poller already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx)
	return nil
}

// Stop implements system.Service.
func (p *SettlePoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
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

func (p *SettlePoller) run(ctx context.Context) {
	defer close(p.done)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.Poll(ctx)
		}
	}
}

// Poll attempts one settlement. Not-over and no-randomness conditions are
// the normal idle states and stay quiet.
func (p *SettlePoller) Poll(ctx context.Context) {
	rnd, err := p.svc.Settle(ctx)
	if err != nil {
		if errors.Is(err, ErrRoundNotOver) || errors.Is(err, ErrNoRandomness) || errors.Is(err, ErrRoundSettled) {
			return
		}
		p.log.WithError(err).Warn("automatic settlement failed")
		return
	}
	p.log.WithField("round", rnd.Number).Info("round settled automatically")
}
