// Package network gates all contract activity on the connected chain identity.
package network

import (
	"context"
	"fmt"
	"math/big"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

type identitySource interface {
	NetworkID(ctx context.Context) (*big.Int, error)
}

// Check reports whether id is exactly the required chain id.
func Check(id, required *big.Int) bool {
	if id == nil || required == nil {
		return false
	}
	return id.Cmp(required) == 0
}

// Guard validates the network against a fixed required identity.
type Guard struct {
	required *big.Int
	name     string
}

// NewGuard creates a guard. name is a human label used in notices, e.g. "Localhost 8545".
func NewGuard(required *big.Int, name string) *Guard {
	return &Guard{required: new(big.Int).Set(required), name: name}
}

// Required returns the chain id the guard accepts.
func (g *Guard) Required() *big.Int {
	return new(big.Int).Set(g.required)
}

// Describe names the required network for user-facing messages.
func (g *Guard) Describe() string {
	if g.name == "" {
		return fmt.Sprintf("chain id %s", g.required)
	}
	return fmt.Sprintf("%s (chain id %s)", g.name, g.required)
}

// Verify queries the network identity and checks it.
// Both a mismatch and a failed query are reported as ErrWrongNetwork.
func (g *Guard) Verify(ctx context.Context, source identitySource) error {
	id, err := source.NetworkID(ctx)
	if err != nil {
		return errors.Wrapf(domain.ErrWrongNetwork, "cannot reach the network, required %s: %s", g.Describe(), err)
	}
	if !Check(id, g.required) {
		return errors.Wrapf(domain.ErrWrongNetwork, "connected to chain id %s, switch to %s", id, g.Describe())
	}
	return nil
}
