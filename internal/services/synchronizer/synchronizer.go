// Package synchronizer produces consistent account, balance and price snapshots.
package synchronizer

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/clients"
	"github.com/vadiminshakov/tokensync/internal/domain"
	"github.com/vadiminshakov/tokensync/internal/services/network"
	"github.com/vadiminshakov/tokensync/internal/services/probe"
)

const (
	// DefaultProbeTimeout bounds the contract code check.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultReadTimeout bounds every other node call of a refresh.
	DefaultReadTimeout = 10 * time.Second
)

type gateway interface {
	Account(ctx context.Context) (common.Address, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	ReadContract(ctx context.Context, method string, args ...any) ([]any, error)
	EthBalance(ctx context.Context, addr common.Address) (decimal.Decimal, error)
}

// Synchronizer orchestrates gating checks and per-field reads. It remembers the
// last snapshot so a failed field can keep its previous value.
type Synchronizer struct {
	gateway      gateway
	guard        *network.Guard
	prober       *probe.Prober
	contract     common.Address
	probeTimeout time.Duration
	readTimeout  time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu   sync.Mutex
	last *domain.Snapshot
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithReadTimeout sets how long a refresh waits for the network check and
// for each field read.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// NewSynchronizer creates a Synchronizer for the token contract at contract.
func NewSynchronizer(
	gw gateway,
	guard *network.Guard,
	prober *probe.Prober,
	contract common.Address,
	probeTimeout time.Duration,
	logger *zap.Logger,
	opts ...Option,
) (*Synchronizer, error) {
	if gw == nil || guard == nil || prober == nil {
		return nil, errors.New("gateway, guard and prober are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	s := &Synchronizer{
		gateway:      gw,
		guard:        guard,
		prober:       prober,
		contract:     contract,
		probeTimeout: probeTimeout,
		readTimeout:  DefaultReadTimeout,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Refresh builds a new snapshot. It fails only when the account cannot be
// resolved or when the network or contract gate rejects the cycle; a failed
// field read is reported as a notice instead. No step waits longer than its
// timeout, so Refresh returns even when the node stops answering.
func (s *Synchronizer) Refresh(ctx context.Context, account *common.Address) (domain.Snapshot, []domain.Notice, error) {
	var owner common.Address
	if account != nil {
		owner = *account
	} else {
		resolved, err := bounded(ctx, s.readTimeout, "resolve account", s.gateway.Account)
		if err != nil {
			return domain.Snapshot{}, nil, errors.Wrap(err, "resolve account")
		}
		owner = resolved
	}

	_, err := bounded(ctx, s.readTimeout, "network check", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.guard.Verify(ctx, s.gateway)
	})
	if err != nil {
		return domain.Snapshot{}, nil, err
	}

	if err := s.verifyContract(ctx); err != nil {
		return domain.Snapshot{}, nil, err
	}

	prev := s.previous(owner)
	var notices []domain.Notice

	tokenBalance, err := s.readUint(ctx, clients.MethodBalanceOf, owner)
	if err != nil {
		s.logger.Warn("balanceOf failed", zap.String("account", owner.Hex()), zap.Error(err))
		notices = append(notices, domain.NewNotice(domain.NoticeWarning, domain.FieldTokenBalance,
			"cannot fetch token balance, the contract may not be ready"))
		tokenBalance = prev.TokenBalance
	}

	ethBalance, err := bounded(ctx, s.readTimeout, "eth balance", func(ctx context.Context) (decimal.Decimal, error) {
		return s.gateway.EthBalance(ctx, owner)
	})
	if err != nil {
		// the node answered the gate checks, so this points at a deeper connectivity problem
		s.logger.Error("eth balance failed", zap.String("account", owner.Hex()), zap.Error(err))
		notices = append(notices, domain.NewNotice(domain.NoticeError, domain.FieldEthBalance,
			"cannot fetch ETH balance, the node connection looks broken"))
		ethBalance = prev.EthBalance
	}

	price, err := s.readUint(ctx, clients.MethodTokenPrice)
	if err != nil {
		s.logger.Warn("tokenPrice failed", zap.Error(err))
		notices = append(notices, domain.NewNotice(domain.NoticeWarning, domain.FieldTokenPrice,
			"cannot fetch token price, the contract may not be ready"))
		price = prev.TokenPrice
	}

	snapshot := domain.NewSnapshot(s.now(), owner, ethBalance, tokenBalance, price)
	s.remember(snapshot)

	s.logger.Debug("snapshot refreshed",
		zap.String("account", owner.Hex()),
		zap.String("eth", ethBalance.String()),
		zap.String("tokens", tokenBalance.String()),
		zap.String("price", price.String()),
		zap.Int("notices", len(notices)))

	return snapshot, notices, nil
}

// Reset forgets the last known snapshot.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
}

// Last returns the last produced snapshot.
func (s *Synchronizer) Last() (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.Snapshot{}, false
	}
	return *s.last, true
}

func (s *Synchronizer) verifyContract(ctx context.Context) error {
	presence, err := s.prober.Verify(ctx, s.contract, s.probeTimeout)
	switch {
	case errors.Is(err, domain.ErrProbeTimedOut):
		return errors.Wrap(err, "cannot reach the node, restart it")
	case err != nil:
		return errors.Wrap(err, "contract check failed")
	case presence == probe.Absent:
		return errors.Wrapf(domain.ErrContractAbsent, "no contract at %s, redeploy it or fix the address", s.contract.Hex())
	}
	return nil
}

// previous returns the remembered values for owner, zero for anyone else.
func (s *Synchronizer) previous(owner common.Address) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.last.Account != owner {
		return domain.NewSnapshot(time.Time{}, owner, decimal.Zero, decimal.Zero, decimal.Zero)
	}
	return *s.last
}

func (s *Synchronizer) remember(snapshot domain.Snapshot) {
	s.mu.Lock()
	s.last = &snapshot
	s.mu.Unlock()
}

func (s *Synchronizer) readUint(ctx context.Context, method string, args ...any) (decimal.Decimal, error) {
	out, err := bounded(ctx, s.readTimeout, method, func(ctx context.Context) ([]any, error) {
		return s.gateway.ReadContract(ctx, method, args...)
	})
	if err != nil {
		return decimal.Zero, err
	}
	if len(out) != 1 {
		return decimal.Zero, errors.Errorf("%s returned %d values, expected 1", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.Errorf("%s returned %T, expected uint256", method, out[0])
	}
	return domain.FromNative(v), nil
}

// bounded runs call under its own deadline and stops waiting when the deadline
// passes. A call that ignores its context keeps running, its result is dropped.
func bounded[T any](ctx context.Context, timeout time.Duration, op string, call func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(callCtx)
		done <- result{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() != nil && ctx.Err() == nil {
			return zero, errors.Wrapf(domain.ErrUnreachable, "%s: no answer within %s", op, timeout)
		}
		return r.value, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, errors.Wrapf(domain.ErrUnreachable, "%s: no answer within %s", op, timeout)
	}
}
