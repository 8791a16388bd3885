package domain

import "github.com/pkg/errors"

var (
	// ErrNoProvider no wallet integration is available.
	ErrNoProvider = errors.New("no wallet provider detected")
	// ErrUnreachable transport failure or node down.
	ErrUnreachable = errors.New("node unreachable")
	// ErrWrongNetwork connected network differs from the required one.
	ErrWrongNetwork = errors.New("wrong network")
	// ErrContractAbsent no code at the configured contract address.
	ErrContractAbsent = errors.New("contract not found at address")
	// ErrProbeTimedOut the contract code fetch did not settle in time.
	ErrProbeTimedOut = errors.New("contract probe timed out")
	// ErrCallReverted the contract rejected a call.
	ErrCallReverted = errors.New("contract call reverted")
	// ErrUserRejected the user declined a wallet prompt.
	ErrUserRejected = errors.New("rejected by user")
	// ErrTxFailed a submitted transaction was not confirmed successfully.
	ErrTxFailed = errors.New("transaction failed")
	// ErrAlreadyPending a trade is already awaiting confirmation.
	ErrAlreadyPending = errors.New("a transaction is already pending")
	// ErrNoAccount no account is connected.
	ErrNoAccount = errors.New("no account connected")
	// ErrInvalidAmount amount or price is not a positive decimal.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrBusy another operation is in flight.
	ErrBusy = errors.New("another operation is in progress")
	// ErrNotReady the session has no loaded state to trade against.
	ErrNotReady = errors.New("session is not ready")
)

// Remediation returns the user-facing hint for a failure.
func Remediation(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoProvider):
		return "install or configure a wallet"
	case errors.Is(err, ErrWrongNetwork):
		return "switch the wallet to the required network"
	case errors.Is(err, ErrContractAbsent):
		return "redeploy the contract or fix the configured address"
	case errors.Is(err, ErrProbeTimedOut):
		return "the node did not answer in time, restart the node"
	case errors.Is(err, ErrUnreachable):
		return "retry later or restart the node"
	case errors.Is(err, ErrUserRejected):
		return "the request was declined in the wallet"
	case errors.Is(err, ErrCallReverted), errors.Is(err, ErrTxFailed):
		return "the contract rejected the operation"
	case errors.Is(err, ErrAlreadyPending), errors.Is(err, ErrBusy):
		return "wait for the current operation to finish"
	case errors.Is(err, ErrNoAccount):
		return "connect a wallet account"
	case errors.Is(err, ErrInvalidAmount):
		return "enter a positive amount"
	case errors.Is(err, ErrNotReady):
		return "wait until data is loaded"
	default:
		return ""
	}
}
