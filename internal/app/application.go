// Package app wires the game engine's services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	banksvc "github.com/liqingnz/time-ticket/internal/app/services/bank"
	gamesvc "github.com/liqingnz/time-ticket/internal/app/services/game"
	randomsvc "github.com/liqingnz/time-ticket/internal/app/services/randomness"
	"github.com/liqingnz/time-ticket/internal/app/storage"
	"github.com/liqingnz/time-ticket/internal/app/storage/memory"
	"github.com/liqingnz/time-ticket/internal/app/system"
	"github.com/liqingnz/time-ticket/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Rounds       storage.RoundStore
	Participants storage.ParticipantStore
	Randomness   storage.RandomnessStore
	Bank         storage.BankStore
}

// Options tunes the application beyond its stores.
type Options struct {
	VaultAddress     string
	CoordinatorToken string
	GameParams       gamesvc.Params
	SettleInterval   time.Duration
	RequestInterval  time.Duration
	Clock            clockwork.Clock
	DisablePollers   bool // used by tests that drive time manually
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Bank       *banksvc.Service
	Randomness *randomsvc.Service
	Game       *gamesvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Participants == nil {
		stores.Participants = mem
	}
	if stores.Randomness == nil {
		stores.Randomness = mem
	}
	if stores.Bank == nil {
		stores.Bank = mem
	}

	if opts.VaultAddress == "" {
		opts.VaultAddress = "vault"
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	manager := system.NewManager()

	ledger := banksvc.New(stores.Bank, opts.VaultAddress, log.WithField("service", "bank"))
	randomService := randomsvc.New(stores.Rounds, stores.Randomness, opts.CoordinatorToken, log.WithField("service", "randomness"))

	gameService, err := gamesvc.New(
		stores.Rounds, stores.Participants, stores.Randomness,
		ledger, opts.GameParams, opts.Clock, log.WithField("service", "game"),
	)
	if err != nil {
		return nil, fmt.Errorf("configure game service: %w", err)
	}
	// The pot pulls vault funding at settlement.
	ledger.Authorize(opts.GameParams.PotAddress)

	if !opts.DisablePollers {
		requester := randomsvc.NewRequester(randomService, stores.Rounds, opts.Clock, opts.RequestInterval, log.WithField("service", "randomness-requester"))
		settler := gamesvc.NewSettlePoller(gameService, opts.Clock, opts.SettleInterval, log.WithField("service", "settle-poller"))
		for _, svc := range []system.Service{requester, settler} {
			if err := manager.Register(svc); err != nil {
				return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
			}
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Bank:       ledger,
		Randomness: randomService,
		Game:       gameService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start opens round 1 if needed and begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Game.Init(ctx); err != nil {
		return fmt.Errorf("initialise game: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
