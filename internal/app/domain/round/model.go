// Package round defines the data model for the last-bidder-wins game.
package round

import "time"

// RewardType identifies one of the three post-settlement reward buckets a
// participant may claim.
type RewardType string

const (
	RewardWinner   RewardType = "winner"
	RewardDividend RewardType = "dividend"
	RewardAirdrop  RewardType = "airdrop"
)

// Round is the authoritative per-round record. Fields after Settled become
// read-only once settlement runs except Unclaimed (decremented by claims)
// and Swept (set by the expiry sweeper).
type Round struct {
	Number       int64     `json:"number"`        // Sequential round number, starts at 1
	StartTime    time.Time `json:"start_time"`    // Round open time
	EndTime      time.Time `json:"end_time"`      // Extends with purchases until settlement
	Pool         int64     `json:"pool"`          // Carry-in + ticket payments + vault injection
	TotalTickets int64     `json:"total_tickets"` // Tickets sold this round
	LastBuyer    string    `json:"last_buyer"`    // Most recent purchaser; winner at settlement
	Settled      bool      `json:"settled"`       // One-way false -> true

	// Settlement outputs. Zero before settlement.
	FundingRatioBps  int64    `json:"funding_ratio_bps"`  // Derived from the round's randomness
	Winner           string   `json:"winner"`             // LastBuyer snapshot, immutable
	WinnerAmount     int64    `json:"winner_amount"`      // Recorded winner share
	DividendPerUser  int64    `json:"dividend_per_user"`  // Floor split of the dividend pool
	DividendEligible int64    `json:"dividend_eligible"`  // Size of the eligible population
	AirdropPerUser   int64    `json:"airdrop_per_user"`   // Floor split of the airdrop pool
	AirdropWinners   []string `json:"airdrop_winners"`    // Selected via partial shuffle
	TeamAmount       int64    `json:"team_amount"`        // Share pushed to the treasury
	CarryOut         int64    `json:"carry_out"`          // Opening pool of the next round
	Unclaimed        int64    `json:"unclaimed"`          // Gross value still payable; never negative
	Swept            bool     `json:"swept"`              // Unclaimed remainder recovered

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is the per-round, per-address record. Index is the slot in the
// round's dense participant list; repeat purchases move a participant to the
// tail so the final buyer occupies the last slot.
type Participant struct {
	RoundNumber int64  `json:"round_number"`
	Address     string `json:"address"`
	Tickets     int64  `json:"tickets"`
	Index       int64  `json:"index"`

	FreeTicketUsed bool `json:"free_ticket_used"`

	// Independent claim flags. Winner, dividend and airdrop are mutually
	// exclusive by settlement construction, but the ledger records them
	// separately and does not hard-code that exclusivity.
	ClaimedWinner   bool `json:"claimed_winner"`
	ClaimedDividend bool `json:"claimed_dividend"`
	ClaimedAirdrop  bool `json:"claimed_airdrop"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State holds the global game counters.
type State struct {
	CurrentRound int64 `json:"current_round"` // Round open for purchases
	TicketPrice  int64 `json:"ticket_price"`  // Price of the next ticket
}

// Snapshot is the read-surface view of the live round.
type Snapshot struct {
	Round         Round         `json:"round"`
	Participants  int64         `json:"participants"`
	TicketPrice   int64         `json:"ticket_price"`
	RemainingTime time.Duration `json:"remaining_time"`
}

// Rewards reports the recorded amounts and claim state for one address in a
// settled round.
type Rewards struct {
	RoundNumber     int64 `json:"round_number"`
	WinnerAmount    int64 `json:"winner_amount"`
	DividendAmount  int64 `json:"dividend_amount"`
	AirdropAmount   int64 `json:"airdrop_amount"`
	ClaimedWinner   bool  `json:"claimed_winner"`
	ClaimedDividend bool  `json:"claimed_dividend"`
	ClaimedAirdrop  bool  `json:"claimed_airdrop"`
}
