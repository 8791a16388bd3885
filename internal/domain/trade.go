package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TradeIntent is a single user request to buy or sell tokens.
type TradeIntent struct {
	// Direction buy or sell.
	Direction Direction
	// Amount quantity of tokens in human units.
	Amount decimal.Decimal
}

// String returns a human-readable string representation.
func (t TradeIntent) String() string {
	return fmt.Sprintf("%s %s tokens", t.Direction.String(), t.Amount.String())
}

// PendingTransaction exists between submission and confirmation of a trade.
type PendingTransaction struct {
	Kind        Direction   `json:"kind"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Hash        common.Hash `json:"hash"`
}
