// Package session owns the connection state machine. All state changes go
// through a single event queue drained by Run.
package session

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/domain"
	"github.com/vadiminshakov/tokensync/internal/services/network"
	"github.com/vadiminshakov/tokensync/internal/services/trader"
)

const (
	// DefaultNoticeTTL is how long a notice stays visible.
	DefaultNoticeTTL = 5 * time.Second
	queueSize        = 32
)

type gateway interface {
	HasWallet() bool
	NetworkID(ctx context.Context) (*big.Int, error)
	RequestAccounts(ctx context.Context) ([]common.Address, error)
}

type synchronizer interface {
	Refresh(ctx context.Context, account *common.Address) (domain.Snapshot, []domain.Notice, error)
	Reset()
}

type executor interface {
	Execute(ctx context.Context, intent domain.TradeIntent, price decimal.Decimal, onSubmit trader.SubmitHook) (*types.Receipt, error)
}

type snapshotStore interface {
	Save(snapshot domain.Snapshot) error
}

type publisher interface {
	Publish(v domain.View)
}

type commandKind int32

const (
	cmdConnect commandKind = iota + 1
	cmdRefresh
	cmdTrade
	cmdReset
	cmdAccountChanged
	cmdNetworkChanged
)

func (k commandKind) String() string {
	switch k {
	case cmdConnect:
		return "connect"
	case cmdRefresh:
		return "refresh"
	case cmdTrade:
		return "trade"
	case cmdReset:
		return "reset"
	case cmdAccountChanged:
		return "account_changed"
	case cmdNetworkChanged:
		return "network_changed"
	default:
		return "unknown"
	}
}

type command struct {
	kind    commandKind
	intent  domain.TradeIntent
	account common.Address
	claimed bool
	done    chan error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSnapshotStore persists every successfully refreshed snapshot.
func WithSnapshotStore(store snapshotStore) Option {
	return func(c *Controller) { c.store = store }
}

// WithPublisher receives a View after every transition.
func WithPublisher(p publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithNoticeTTL sets how long notices are shown.
func WithNoticeTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.noticeTTL = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the session state machine.
type Controller struct {
	gateway   gateway
	guard     *network.Guard
	sync      synchronizer
	trader    executor
	store     snapshotStore
	publisher publisher
	logger    *zap.Logger
	now       func() time.Time
	noticeTTL time.Duration

	queue chan command
	// busy holds the kind of the user operation in flight, zero when idle.
	busy atomic.Int32

	mu       sync.RWMutex
	session  domain.Session
	snapshot *domain.Snapshot
	pending  *domain.PendingTransaction
	notices  []domain.Notice
}

// NewController creates a Controller in the Disconnected state.
// Nothing is evaluated until Run is called.
func NewController(
	gw gateway,
	guard *network.Guard,
	syncer synchronizer,
	exec executor,
	logger *zap.Logger,
	opts ...Option,
) (*Controller, error) {
	if gw == nil || guard == nil || syncer == nil || exec == nil {
		return nil, errors.New("gateway, guard, synchronizer and trader are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		gateway:   gw,
		guard:     guard,
		sync:      syncer,
		trader:    exec,
		logger:    logger,
		now:       time.Now,
		noticeTTL: DefaultNoticeTTL,
		queue:     make(chan command, queueSize),
		session:   domain.Session{State: domain.StateDisconnected},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run performs the startup evaluation and then processes commands in arrival
// order until ctx is done. Expired notices are swept periodically.
func (c *Controller) Run(ctx context.Context) error {
	c.evaluate(ctx)

	sweep := time.NewTicker(c.sweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session controller stopped")
			return ctx.Err()
		case cmd := <-c.queue:
			err := c.handle(ctx, cmd)
			if cmd.claimed {
				c.busy.Store(0)
			}
			if err != nil {
				c.logger.Warn("session command failed", zap.String("command", cmd.kind.String()), zap.Error(err))
			}
			if cmd.done != nil {
				cmd.done <- err
			}
		case <-sweep.C:
			if c.sweep() {
				c.publish()
			}
		}
	}
}

// Connect asks the wallet for accounts and loads the first one.
func (c *Controller) Connect(ctx context.Context) error {
	if !c.claim(cmdConnect) {
		return c.busyErr()
	}
	return c.submit(ctx, command{kind: cmdConnect, claimed: true})
}

// Refresh reloads the snapshot. A refresh requested while another operation
// is in flight is coalesced into it, since every operation ends with a refresh.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.claim(cmdRefresh) {
		c.logger.Debug("refresh coalesced with in-flight operation")
		return nil
	}
	return c.submit(ctx, command{kind: cmdRefresh, claimed: true})
}

// Trade buys or sells amount tokens and reloads the snapshot afterwards.
func (c *Controller) Trade(ctx context.Context, direction domain.Direction, amount decimal.Decimal) error {
	if !c.claim(cmdTrade) {
		return c.busyErr()
	}
	intent := domain.TradeIntent{Direction: direction, Amount: amount}
	return c.submit(ctx, command{kind: cmdTrade, intent: intent, claimed: true})
}

// Reset drops all session state and re-runs the startup evaluation.
// It is queued behind any in-flight operation.
func (c *Controller) Reset(ctx context.Context) error {
	return c.submit(ctx, command{kind: cmdReset})
}

// Notify queues a provider event without waiting for it to be processed.
func (c *Controller) Notify(ctx context.Context, ev domain.ProviderEvent) error {
	cmd := command{kind: cmdAccountChanged, account: ev.Account}
	if ev.Kind == domain.EventNetworkChanged {
		cmd.kind = cmdNetworkChanged
	}
	select {
	case c.queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns a copy of the current state with expired notices filtered out.
func (c *Controller) View() domain.View {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	v := domain.View{Session: c.session, Notices: make([]domain.Notice, 0, len(c.notices))}
	if c.session.Account != nil {
		account := *c.session.Account
		v.Session.Account = &account
	}
	if c.session.LastError != nil && !c.session.LastError.Expired(now) {
		n := *c.session.LastError
		v.Session.LastError = &n
	} else {
		v.Session.LastError = nil
	}
	if c.session.LastNotice != nil && !c.session.LastNotice.Expired(now) {
		n := *c.session.LastNotice
		v.Session.LastNotice = &n
	} else {
		v.Session.LastNotice = nil
	}
	if c.snapshot != nil {
		snapshot := *c.snapshot
		v.Snapshot = &snapshot
	}
	if c.pending != nil {
		pending := *c.pending
		v.Pending = &pending
	}
	for _, n := range c.notices {
		if !n.Expired(now) {
			v.Notices = append(v.Notices, n)
		}
	}
	return v
}

func (c *Controller) claim(kind commandKind) bool {
	return c.busy.CompareAndSwap(0, int32(kind))
}

func (c *Controller) busyErr() error {
	if commandKind(c.busy.Load()) == cmdTrade {
		return domain.ErrAlreadyPending
	}
	return domain.ErrBusy
}

func (c *Controller) submit(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case c.queue <- cmd:
	case <-ctx.Done():
		if cmd.claimed {
			c.busy.Store(0)
		}
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) sweepInterval() time.Duration {
	interval := c.noticeTTL / 5
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}
