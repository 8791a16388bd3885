package clients

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

const defaultWatchInterval = 2 * time.Second

type chainIDReader interface {
	NetworkID(ctx context.Context) (*big.Int, error)
}

type accountChanges interface {
	Changes() <-chan common.Address
}

// Watcher turns chain id polling and wallet account switches into provider events.
type Watcher struct {
	chain    chainIDReader
	accounts accountChanges
	interval time.Duration
	logger   *zap.Logger
	events   chan domain.ProviderEvent
	last     *big.Int
}

// NewWatcher creates a watcher. accounts may be nil.
func NewWatcher(chain chainIDReader, accounts accountChanges, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &Watcher{
		chain:    chain,
		accounts: accounts,
		interval: interval,
		logger:   logger,
		events:   make(chan domain.ProviderEvent, 16),
	}
}

// Events returns the provider event stream. It is closed when Run returns.
func (w *Watcher) Events() <-chan domain.ProviderEvent {
	return w.events
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var changes <-chan common.Address
	if w.accounts != nil {
		changes = w.accounts.Changes()
	}

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case account := <-changes:
			w.emit(ctx, domain.ProviderEvent{Kind: domain.EventAccountChanged, Account: account})
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	id, err := w.chain.NetworkID(ctx)
	if err != nil {
		w.logger.Debug("chain id poll failed", zap.Error(err))
		return
	}
	if w.last == nil {
		w.last = id
		return
	}
	if w.last.Cmp(id) == 0 {
		return
	}
	w.logger.Info("network changed", zap.String("from", w.last.String()), zap.String("to", id.String()))
	w.last = id
	w.emit(ctx, domain.ProviderEvent{Kind: domain.EventNetworkChanged, ChainID: new(big.Int).Set(id)})
}

func (w *Watcher) emit(ctx context.Context, ev domain.ProviderEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
