package httpapi

import (
	"fmt"
	"time"

	gamesvc "github.com/liqingnz/time-ticket/internal/app/services/game"
)

// paramsDoc is the wire form of the parameter surface. Durations travel as
// strings ("30s"), the voucher key never leaves the process.
type paramsDoc struct {
	PotAddress   string `json:"pot_address"`
	FeeRecipient string `json:"fee_recipient"`

	StartPrice     int64 `json:"start_price"`
	PriceIncrement int64 `json:"price_increment"`

	ExtensionPerTicket string `json:"extension_per_ticket"`
	BaseDuration       string `json:"base_duration"`
	MaxRoundDuration   string `json:"max_round_duration"`

	FundingRatioMinBps   int64 `json:"funding_ratio_min_bps"`
	FundingRatioRangeBps int64 `json:"funding_ratio_range_bps"`

	WinnerShareBps   int64 `json:"winner_share_bps"`
	DividendShareBps int64 `json:"dividend_share_bps"`
	AirdropShareBps  int64 `json:"airdrop_share_bps"`
	TeamShareBps     int64 `json:"team_share_bps"`
	CarryShareBps    int64 `json:"carry_share_bps"`

	AirdropWinnerCount int64 `json:"airdrop_winner_count"`
	ExpiryWindow       int64 `json:"expiry_window"`
	FeePPM             int64 `json:"fee_ppm"`
}

func paramsView(p gamesvc.Params) paramsDoc {
	return paramsDoc{
		PotAddress:           p.PotAddress,
		FeeRecipient:         p.FeeRecipient,
		StartPrice:           p.StartPrice,
		PriceIncrement:       p.PriceIncrement,
		ExtensionPerTicket:   p.ExtensionPerTicket.String(),
		BaseDuration:         p.BaseDuration.String(),
		MaxRoundDuration:     p.MaxRoundDuration.String(),
		FundingRatioMinBps:   p.FundingRatioMinBps,
		FundingRatioRangeBps: p.FundingRatioRangeBps,
		WinnerShareBps:       p.WinnerShareBps,
		DividendShareBps:     p.DividendShareBps,
		AirdropShareBps:      p.AirdropShareBps,
		TeamShareBps:         p.TeamShareBps,
		CarryShareBps:        p.CarryShareBps,
		AirdropWinnerCount:   p.AirdropWinnerCount,
		ExpiryWindow:         p.ExpiryWindow,
		FeePPM:               p.FeePPM,
	}
}

// paramsPatch carries a partial update; nil fields keep their current
// values.
type paramsPatch struct {
	FeeRecipient *string `json:"fee_recipient"`

	StartPrice     *int64 `json:"start_price"`
	PriceIncrement *int64 `json:"price_increment"`

	ExtensionPerTicket *string `json:"extension_per_ticket"`
	BaseDuration       *string `json:"base_duration"`
	MaxRoundDuration   *string `json:"max_round_duration"`

	FundingRatioMinBps   *int64 `json:"funding_ratio_min_bps"`
	FundingRatioRangeBps *int64 `json:"funding_ratio_range_bps"`

	WinnerShareBps   *int64 `json:"winner_share_bps"`
	DividendShareBps *int64 `json:"dividend_share_bps"`
	AirdropShareBps  *int64 `json:"airdrop_share_bps"`
	TeamShareBps     *int64 `json:"team_share_bps"`
	CarryShareBps    *int64 `json:"carry_share_bps"`

	AirdropWinnerCount *int64 `json:"airdrop_winner_count"`
	ExpiryWindow       *int64 `json:"expiry_window"`
	FeePPM             *int64 `json:"fee_ppm"`

	VoucherKey *string `json:"voucher_key"`
}

func (p paramsPatch) apply(dst *gamesvc.Params) error {
	setString := func(target *string, v *string) {
		if v != nil {
			*target = *v
		}
	}
	setInt := func(target *int64, v *int64) {
		if v != nil {
			*target = *v
		}
	}
	var durErr error
	setDuration := func(target *time.Duration, v *string) {
		if v == nil {
			return
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			durErr = fmt.Errorf("invalid duration %q", *v)
			return
		}
		*target = d
	}

	setString(&dst.FeeRecipient, p.FeeRecipient)
	setInt(&dst.StartPrice, p.StartPrice)
	setInt(&dst.PriceIncrement, p.PriceIncrement)
	setDuration(&dst.ExtensionPerTicket, p.ExtensionPerTicket)
	setDuration(&dst.BaseDuration, p.BaseDuration)
	setDuration(&dst.MaxRoundDuration, p.MaxRoundDuration)
	setInt(&dst.FundingRatioMinBps, p.FundingRatioMinBps)
	setInt(&dst.FundingRatioRangeBps, p.FundingRatioRangeBps)
	setInt(&dst.WinnerShareBps, p.WinnerShareBps)
	setInt(&dst.DividendShareBps, p.DividendShareBps)
	setInt(&dst.AirdropShareBps, p.AirdropShareBps)
	setInt(&dst.TeamShareBps, p.TeamShareBps)
	setInt(&dst.CarryShareBps, p.CarryShareBps)
	setInt(&dst.AirdropWinnerCount, p.AirdropWinnerCount)
	setInt(&dst.ExpiryWindow, p.ExpiryWindow)
	setInt(&dst.FeePPM, p.FeePPM)
	if p.VoucherKey != nil {
		dst.VoucherKey = []byte(*p.VoucherKey)
	}
	return durErr
}
