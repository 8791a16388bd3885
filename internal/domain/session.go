package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ConnectionState is the state of the session state machine.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateNoProvider
	StateWrongNetwork
	StateConnecting
	StateLoading
	StateReady
	StateError
)

// String returns the string representation of the state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNoProvider:
		return "no_provider"
	case StateWrongNetwork:
		return "wrong_network"
	case StateConnecting:
		return "connecting"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is the connection state owned by the session controller.
type Session struct {
	State      ConnectionState `json:"state"`
	Account    *common.Address `json:"account,omitempty"`
	NetworkOK  bool            `json:"network_ok"`
	LastError  *Notice         `json:"last_error,omitempty"`
	LastNotice *Notice         `json:"last_notice,omitempty"`
}

// View is what the user-facing surface renders.
type View struct {
	Session  Session             `json:"session"`
	Snapshot *Snapshot           `json:"snapshot,omitempty"`
	Pending  *PendingTransaction `json:"pending,omitempty"`
	Notices  []Notice            `json:"notices"`
}

// ProviderEventKind kind of a wallet/provider notification.
type ProviderEventKind int

const (
	EventAccountChanged ProviderEventKind = iota
	EventNetworkChanged
)

// ProviderEvent is an account or network change reported by the provider.
type ProviderEvent struct {
	Kind    ProviderEventKind
	Account common.Address
	ChainID *big.Int
}
