// Package trader submits buy and sell transactions to the token contract
// and waits for their confirmation, one at a time.
package trader

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/clients"
	"github.com/vadiminshakov/tokensync/internal/domain"
	"github.com/vadiminshakov/tokensync/internal/storage/tradejournal"
)

// DefaultConfirmationTimeout bounds the wait for a submitted transaction.
const DefaultConfirmationTimeout = 2 * time.Minute

type gateway interface {
	SendTransaction(ctx context.Context, method string, value *big.Int, args ...any) (*types.Transaction, error)
	WaitForConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type journal interface {
	Prepare(direction domain.Direction, amount, price decimal.Decimal, at time.Time) (*tradejournal.Record, error)
	MarkSubmitted(rec *tradejournal.Record, hash common.Hash) error
	MarkDone(rec *tradejournal.Record) error
	MarkFailed(rec *tradejournal.Record, cause error) error
}

// SubmitHook is called once the node accepted the transaction, before it is mined.
type SubmitHook func(domain.PendingTransaction)

// Executor runs at most one trade at a time.
type Executor struct {
	gateway        gateway
	journal        journal
	confirmTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu      sync.Mutex
	busy    bool
	pending *domain.PendingTransaction
}

// NewExecutor creates an Executor. journal may be nil.
func NewExecutor(gw gateway, journal journal, confirmTimeout time.Duration, logger *zap.Logger) (*Executor, error) {
	if gw == nil {
		return nil, errors.New("gateway is required for Executor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmationTimeout
	}
	return &Executor{
		gateway:        gw,
		journal:        journal,
		confirmTimeout: confirmTimeout,
		logger:         logger,
		now:            time.Now,
	}, nil
}

// Buy pays amount*price in native currency for amount tokens.
func (e *Executor) Buy(ctx context.Context, amount, price decimal.Decimal) (*types.Receipt, error) {
	return e.Execute(ctx, domain.TradeIntent{Direction: domain.DirectionBuy, Amount: amount}, price, nil)
}

// Sell returns amount tokens to the contract.
func (e *Executor) Sell(ctx context.Context, amount decimal.Decimal) (*types.Receipt, error) {
	return e.Execute(ctx, domain.TradeIntent{Direction: domain.DirectionSell, Amount: amount}, decimal.Zero, nil)
}

// Execute validates intent, submits it and blocks until it is confirmed or fails.
// price is the token price in native currency and is used for buys only.
// A second call while a trade is in flight fails with ErrAlreadyPending.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent, price decimal.Decimal, onSubmit SubmitHook) (*types.Receipt, error) {
	method, value, args, err := e.encode(intent, price)
	if err != nil {
		return nil, err
	}

	if !e.claim() {
		return nil, errors.Wrapf(domain.ErrAlreadyPending, "cannot %s", intent)
	}
	defer e.release()

	rec, err := e.prepare(intent, price)
	if err != nil {
		e.logger.Warn("failed to journal trade intent", zap.Error(err))
	}

	tx, err := e.gateway.SendTransaction(ctx, method, value, args...)
	if err != nil {
		e.markFailed(rec, err)
		return nil, errors.Wrapf(err, "submit %s", intent)
	}

	pending := domain.PendingTransaction{Kind: intent.Direction, SubmittedAt: e.now(), Hash: tx.Hash()}
	e.mu.Lock()
	e.pending = &pending
	e.mu.Unlock()
	if e.journal != nil {
		if err := e.journal.MarkSubmitted(rec, tx.Hash()); err != nil {
			e.logger.Warn("failed to journal submitted trade", zap.Error(err))
		}
	}
	if onSubmit != nil {
		onSubmit(pending)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	receipt, err := e.gateway.WaitForConfirmation(waitCtx, tx)
	if err != nil {
		e.markFailed(rec, err)
		return receipt, errors.Wrapf(err, "confirm %s", intent)
	}

	if e.journal != nil {
		if err := e.journal.MarkDone(rec); err != nil {
			e.logger.Warn("failed to journal confirmed trade", zap.Error(err))
		}
	}
	e.logger.Info("trade confirmed",
		zap.String("direction", intent.Direction.String()),
		zap.String("amount", intent.Amount.String()),
		zap.String("hash", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))

	return receipt, nil
}

// Pending returns the transaction awaiting confirmation, if any.
func (e *Executor) Pending() *domain.PendingTransaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	return &p
}

// Busy reports whether a trade is being executed, submitted or not.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func (e *Executor) encode(intent domain.TradeIntent, price decimal.Decimal) (string, *big.Int, []any, error) {
	if !intent.Amount.IsPositive() {
		return "", nil, nil, errors.Wrapf(domain.ErrInvalidAmount, "amount must be positive, got %s", intent.Amount)
	}
	if !intent.Amount.Equal(intent.Amount.Truncate(domain.NativeDecimals)) {
		return "", nil, nil, errors.Wrapf(domain.ErrInvalidAmount, "amount %s has more than %d decimals", intent.Amount, domain.NativeDecimals)
	}

	switch intent.Direction {
	case domain.DirectionBuy:
		if !price.IsPositive() {
			return "", nil, nil, errors.Wrap(domain.ErrInvalidAmount, "token price is not known yet")
		}
		payment := domain.ToNative(intent.Amount.Mul(price))
		return clients.MethodBuyTokens, payment, nil, nil
	case domain.DirectionSell:
		return clients.MethodSellTokens, nil, []any{domain.ToNative(intent.Amount)}, nil
	default:
		return "", nil, nil, errors.Errorf("unknown trade direction %d", intent.Direction)
	}
}

func (e *Executor) claim() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return false
	}
	e.busy = true
	return true
}

func (e *Executor) release() {
	e.mu.Lock()
	e.busy = false
	e.pending = nil
	e.mu.Unlock()
}

func (e *Executor) prepare(intent domain.TradeIntent, price decimal.Decimal) (*tradejournal.Record, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.Prepare(intent.Direction, intent.Amount, price, e.now())
}

func (e *Executor) markFailed(rec *tradejournal.Record, cause error) {
	if e.journal == nil {
		return
	}
	if err := e.journal.MarkFailed(rec, cause); err != nil {
		e.logger.Warn("failed to journal failed trade", zap.Error(err))
	}
}
