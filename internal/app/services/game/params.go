package game

import (
	"errors"
	"fmt"
	"time"
)

// Basis points and parts-per-million denominators.
const (
	BpsDenominator = 10_000
	PPMDenominator = 1_000_000
)

// ErrInvalidParams wraps every parameter validation failure.
var ErrInvalidParams = errors.New("invalid game parameters")

// Params is the full tunable surface of the engine. All value amounts are in
// smallest units, all ratios in basis points unless named otherwise.
type Params struct {
	PotAddress   string // ledger account holding pool and unclaimed value
	FeeRecipient string // receives the claim-time protocol fee

	StartPrice     int64 // ticket price at the opening of every round
	PriceIncrement int64 // added once per paid purchase call

	ExtensionPerTicket time.Duration
	BaseDuration       time.Duration // initial length of a fresh round
	MaxRoundDuration   time.Duration // cap on total round length; 0 = uncapped

	FundingRatioMinBps   int64 // lower bound of the vault injection ratio
	FundingRatioRangeBps int64 // modulus over the randomness; strictly positive

	WinnerShareBps   int64
	DividendShareBps int64
	AirdropShareBps  int64
	TeamShareBps     int64
	CarryShareBps    int64

	AirdropWinnerCount int64
	ExpiryWindow       int64 // full rounds before unclaimed value is sweepable

	FeePPM     int64  // parts-per-million cut of each gross claim
	VoucherKey []byte // HMAC key for free-ticket vouchers; empty disables them
}

// DefaultParams returns a working configuration with the funding ratio
// spanning 5.00% to 10.00% inclusive.
func DefaultParams() Params {
	return Params{
		PotAddress:           "game-pot",
		FeeRecipient:         "fee-recipient",
		StartPrice:           100,
		PriceIncrement:       10,
		ExtensionPerTicket:   30 * time.Second,
		BaseDuration:         5 * time.Minute,
		MaxRoundDuration:     24 * time.Hour,
		FundingRatioMinBps:   500,
		FundingRatioRangeBps: 501,
		WinnerShareBps:       4000,
		DividendShareBps:     2500,
		AirdropShareBps:      1000,
		TeamShareBps:         1000,
		CarryShareBps:        1500,
		AirdropWinnerCount:   3,
		ExpiryWindow:         10,
		FeePPM:               10_000, // 1%
	}
}

// Validate rejects any configuration that could corrupt settlement math.
// Misconfiguration must fail at write time, not surface mid-settlement.
func (p Params) Validate() error {
	if p.PotAddress == "" {
		return fmt.Errorf("%w: pot address required", ErrInvalidParams)
	}
	if p.StartPrice <= 0 {
		return fmt.Errorf("%w: start price must be positive", ErrInvalidParams)
	}
	if p.PriceIncrement < 0 {
		return fmt.Errorf("%w: price increment must not be negative", ErrInvalidParams)
	}
	if p.ExtensionPerTicket <= 0 {
		return fmt.Errorf("%w: extension per ticket must be positive", ErrInvalidParams)
	}
	if p.BaseDuration <= 0 {
		return fmt.Errorf("%w: base duration must be positive", ErrInvalidParams)
	}
	if p.MaxRoundDuration != 0 && p.MaxRoundDuration < p.BaseDuration {
		return fmt.Errorf("%w: max round duration shorter than base duration", ErrInvalidParams)
	}
	if p.FundingRatioMinBps < 0 || p.FundingRatioMinBps > BpsDenominator {
		return fmt.Errorf("%w: funding ratio min out of range", ErrInvalidParams)
	}
	// The range is used as a modulus; zero would be discovered only at
	// settlement time, far too late.
	if p.FundingRatioRangeBps <= 0 {
		return fmt.Errorf("%w: funding ratio range must be strictly positive", ErrInvalidParams)
	}
	if p.FundingRatioMinBps+p.FundingRatioRangeBps-1 > BpsDenominator {
		return fmt.Errorf("%w: funding ratio can exceed 100%%", ErrInvalidParams)
	}
	for name, bps := range map[string]int64{
		"winner":   p.WinnerShareBps,
		"dividend": p.DividendShareBps,
		"airdrop":  p.AirdropShareBps,
		"team":     p.TeamShareBps,
		"carry":    p.CarryShareBps,
	} {
		if bps < 0 || bps > BpsDenominator {
			return fmt.Errorf("%w: %s share out of range", ErrInvalidParams, name)
		}
	}
	sum := p.WinnerShareBps + p.DividendShareBps + p.AirdropShareBps + p.TeamShareBps + p.CarryShareBps
	if sum > BpsDenominator {
		return fmt.Errorf("%w: shares sum to %d bps, limit %d", ErrInvalidParams, sum, BpsDenominator)
	}
	if p.AirdropWinnerCount < 0 {
		return fmt.Errorf("%w: airdrop winner count must not be negative", ErrInvalidParams)
	}
	if p.ExpiryWindow < 1 {
		return fmt.Errorf("%w: expiry window must be at least one round", ErrInvalidParams)
	}
	if p.FeePPM < 0 || p.FeePPM > PPMDenominator {
		return fmt.Errorf("%w: fee out of range", ErrInvalidParams)
	}
	if p.FeePPM > 0 && p.FeeRecipient == "" {
		return fmt.Errorf("%w: fee recipient required when a fee is set", ErrInvalidParams)
	}
	return nil
}

// Params returns a copy of the current configuration.
func (s *Service) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams swaps the full configuration after validation. Takes effect for
// subsequent operations; the open round keeps its already-applied timing.
func (s *Service) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	s.log.WithFields(map[string]interface{}{
		"start_price":     p.StartPrice,
		"price_increment": p.PriceIncrement,
		"winner_bps":      p.WinnerShareBps,
		"dividend_bps":    p.DividendShareBps,
		"airdrop_bps":     p.AirdropShareBps,
		"team_bps":        p.TeamShareBps,
		"carry_bps":       p.CarryShareBps,
		"fee_ppm":         p.FeePPM,
	}).Info("game parameters updated")
	return nil
}

// SetTicketPricing updates the opening price and per-purchase increment.
func (s *Service) SetTicketPricing(startPrice, increment int64) error {
	return s.mutateParams(func(p *Params) {
		p.StartPrice = startPrice
		p.PriceIncrement = increment
	})
}

// SetTiming updates the round timing controls.
func (s *Service) SetTiming(extensionPerTicket, baseDuration, maxRoundDuration time.Duration) error {
	return s.mutateParams(func(p *Params) {
		p.ExtensionPerTicket = extensionPerTicket
		p.BaseDuration = baseDuration
		p.MaxRoundDuration = maxRoundDuration
	})
}

// SetFundingRatio updates the vault injection ratio bounds.
func (s *Service) SetFundingRatio(minBps, rangeBps int64) error {
	return s.mutateParams(func(p *Params) {
		p.FundingRatioMinBps = minBps
		p.FundingRatioRangeBps = rangeBps
	})
}

// SetShares updates the five-way distribution split.
func (s *Service) SetShares(winner, dividend, airdrop, team, carry int64) error {
	return s.mutateParams(func(p *Params) {
		p.WinnerShareBps = winner
		p.DividendShareBps = dividend
		p.AirdropShareBps = airdrop
		p.TeamShareBps = team
		p.CarryShareBps = carry
	})
}

// SetAirdropWinnerCount updates how many airdrop winners each round selects.
func (s *Service) SetAirdropWinnerCount(count int64) error {
	return s.mutateParams(func(p *Params) { p.AirdropWinnerCount = count })
}

// SetExpiryWindow updates how many rounds must pass before sweeping.
func (s *Service) SetExpiryWindow(rounds int64) error {
	return s.mutateParams(func(p *Params) { p.ExpiryWindow = rounds })
}

// SetFee updates the claim-time protocol fee and its recipient.
func (s *Service) SetFee(ppm int64, recipient string) error {
	return s.mutateParams(func(p *Params) {
		p.FeePPM = ppm
		p.FeeRecipient = recipient
	})
}

// SetVoucherKey rotates the free-ticket voucher key. An empty key disables
// the free-ticket path.
func (s *Service) SetVoucherKey(key []byte) error {
	return s.mutateParams(func(p *Params) { p.VoucherKey = key })
}

func (s *Service) mutateParams(apply func(*Params)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.params
	apply(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.params = next
	s.log.Info("game parameter changed")
	return nil
}
