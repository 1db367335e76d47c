// Package bank defines the internal value ledger models.
package bank

import "time"

// Transaction types recorded in the ledger journal.
const (
	TxTypeDeposit  = "deposit"
	TxTypeTransfer = "transfer"
	TxTypeReversal = "reversal"
	TxTypeFunding  = "funding"
)

// Account holds the balance for one address. A frozen account refuses
// incoming transfers, which models a receiver that rejects payment.
type Account struct {
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one journal entry. Every balance movement writes exactly
// one entry so the ledger is auditable after the fact.
type Transaction struct {
	ID          string    `json:"id"`
	TxType      string    `json:"tx_type"`
	FromAddress string    `json:"from_address,omitempty"`
	ToAddress   string    `json:"to_address"`
	Amount      int64     `json:"amount"`
	ReferenceID string    `json:"reference_id,omitempty"` // reversal linkage or caller tag
	CreatedAt   time.Time `json:"created_at"`
}
