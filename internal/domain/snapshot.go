// Package domain defines core data structures shared by the token sync client.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Snapshot is the account, balance and price state at a point in time.
// It is never patched: a newer synchronization replaces it wholesale.
type Snapshot struct {
	Timestamp    time.Time       `json:"ts"`
	Account      common.Address  `json:"account"`
	EthBalance   decimal.Decimal `json:"eth_balance"`
	TokenBalance decimal.Decimal `json:"token_balance"`
	TokenPrice   decimal.Decimal `json:"token_price"`
}

// NewSnapshot creates a new Snapshot.
func NewSnapshot(
	timestamp time.Time,
	account common.Address,
	ethBalance decimal.Decimal,
	tokenBalance decimal.Decimal,
	tokenPrice decimal.Decimal,
) Snapshot {
	return Snapshot{
		Timestamp:    timestamp,
		Account:      account,
		EthBalance:   ethBalance,
		TokenBalance: tokenBalance,
		TokenPrice:   tokenPrice,
	}
}

// Equal reports whether both snapshots describe the same state, ignoring Timestamp.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Account == other.Account &&
		s.EthBalance.Equal(other.EthBalance) &&
		s.TokenBalance.Equal(other.TokenBalance) &&
		s.TokenPrice.Equal(other.TokenPrice)
}

// SnapshotRecord bundles a persisted snapshot with its log index.
type SnapshotRecord struct {
	Index    uint64   `json:"index"`
	Snapshot Snapshot `json:"snapshot"`
}
