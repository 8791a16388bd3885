package session

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

func (c *Controller) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdConnect:
		return c.connect(ctx)
	case cmdRefresh:
		return c.refreshCurrent(ctx)
	case cmdTrade:
		return c.trade(ctx, cmd.intent)
	case cmdReset:
		c.logger.Info("session reset requested")
		c.reset(ctx)
		return nil
	case cmdNetworkChanged:
		c.logger.Info("network changed, resetting session")
		c.reset(ctx)
		return nil
	case cmdAccountChanged:
		return c.accountChanged(ctx, cmd.account)
	default:
		return errors.Errorf("unknown command %d", cmd.kind)
	}
}

// evaluate is the startup evaluation: NoProvider, WrongNetwork or Disconnected.
func (c *Controller) evaluate(ctx context.Context) {
	if !c.gateway.HasWallet() {
		c.update(func() {
			c.session.State = domain.StateNoProvider
			c.session.NetworkOK = false
		})
		c.fail(domain.FieldWallet, domain.ErrNoProvider)
		return
	}

	if err := c.guard.Verify(ctx, c.gateway); err != nil {
		c.update(func() {
			c.session.State = domain.StateWrongNetwork
			c.session.NetworkOK = false
		})
		c.fail(domain.FieldNetwork, err)
		return
	}

	c.update(func() {
		c.session.State = domain.StateDisconnected
		c.session.NetworkOK = true
	})
	c.publish()
}

func (c *Controller) reset(ctx context.Context) {
	c.sync.Reset()
	c.update(func() {
		c.session = domain.Session{State: domain.StateDisconnected}
		c.snapshot = nil
		c.pending = nil
		c.notices = nil
	})
	c.evaluate(ctx)
}

func (c *Controller) connect(ctx context.Context) error {
	state := c.state()
	if state == domain.StateNoProvider {
		c.fail(domain.FieldWallet, domain.ErrNoProvider)
		return domain.ErrNoProvider
	}
	if state == domain.StateWrongNetwork {
		// the network may have been fixed without a change notification
		if err := c.guard.Verify(ctx, c.gateway); err != nil {
			c.fail(domain.FieldNetwork, err)
			return err
		}
		c.update(func() { c.session.NetworkOK = true })
	}

	c.transition(domain.StateConnecting)
	accounts, err := c.gateway.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = domain.ErrNoAccount
	}
	if err != nil {
		next := domain.StateError
		if errors.Is(err, domain.ErrUserRejected) {
			next = domain.StateDisconnected
		}
		c.update(func() { c.session.State = next })
		c.fail(domain.FieldAccount, err)
		return err
	}

	account := accounts[0]
	c.logger.Info("wallet connected", zap.String("account", account.Hex()))
	return c.load(ctx, account, true)
}

func (c *Controller) refreshCurrent(ctx context.Context) error {
	if c.state() == domain.StateNoProvider {
		c.fail(domain.FieldWallet, domain.ErrNoProvider)
		return domain.ErrNoProvider
	}
	account, ok := c.account()
	if !ok {
		c.fail(domain.FieldAccount, domain.ErrNoAccount)
		return domain.ErrNoAccount
	}
	return c.load(ctx, account, true)
}

func (c *Controller) accountChanged(ctx context.Context, account common.Address) error {
	current, ok := c.account()
	if !ok || account == (common.Address{}) || account == current {
		return nil
	}
	c.logger.Info("account changed", zap.String("from", current.Hex()), zap.String("to", account.Hex()))
	c.update(func() { c.snapshot = nil })
	return c.load(ctx, account, true)
}

// load moves to Loading for account and ends in Ready, Error or WrongNetwork.
// announce adds a success notice when the refresh raised none.
func (c *Controller) load(ctx context.Context, account common.Address, announce bool) error {
	c.update(func() {
		c.session.State = domain.StateLoading
		c.session.Account = &account
	})
	c.publish()

	snapshot, notices, err := c.sync.Refresh(ctx, &account)
	if err != nil {
		if errors.Is(err, domain.ErrWrongNetwork) {
			c.update(func() {
				c.session.State = domain.StateWrongNetwork
				c.session.NetworkOK = false
				c.snapshot = nil
			})
			c.fail(domain.FieldNetwork, err)
			return err
		}
		field := domain.FieldContract
		if errors.Is(err, domain.ErrNoAccount) {
			field = domain.FieldAccount
		}
		c.update(func() { c.session.State = domain.StateError })
		c.fail(field, err)
		return err
	}

	c.update(func() {
		c.session.State = domain.StateReady
		c.session.NetworkOK = true
		c.snapshot = &snapshot
	})
	for _, n := range notices {
		c.notify(n)
	}
	switch {
	case len(notices) > 0:
	case announce:
		c.notify(domain.NewNotice(domain.NoticeSuccess, "", "data loaded"))
	default:
		c.publish()
	}

	if c.store != nil {
		if err := c.store.Save(snapshot); err != nil {
			c.logger.Warn("failed to persist snapshot", zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) trade(ctx context.Context, intent domain.TradeIntent) error {
	account, price, err := c.tradable()
	if err != nil {
		c.fail(domain.FieldTrade, err)
		return err
	}

	c.logger.Info("trade requested", zap.String("intent", intent.String()), zap.String("account", account.Hex()))
	_, err = c.trader.Execute(ctx, intent, price, func(p domain.PendingTransaction) {
		c.update(func() { c.pending = &p })
		// replaced by the outcome notice once the transaction settles
		c.notify(domain.NewNotice(domain.NoticeInfo, domain.FieldTrade, "transaction is being processed"))
	})
	c.update(func() { c.pending = nil })
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidAmount) {
			c.update(func() { c.session.State = domain.StateError })
		}
		c.fail(domain.FieldTrade, err)
		return err
	}

	verb := "bought"
	if intent.Direction == domain.DirectionSell {
		verb = "sold"
	}
	c.notify(domain.NewNotice(domain.NoticeSuccess, domain.FieldTrade, fmt.Sprintf("%s %s tokens", verb, intent.Amount)))
	return c.load(ctx, account, false)
}

// tradable returns the account and price to trade with. Trading is allowed
// when Ready, and in Error as long as a snapshot for the account is retained.
func (c *Controller) tradable() (common.Address, decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ready := c.session.State == domain.StateReady ||
		(c.session.State == domain.StateError && c.snapshot != nil)
	if !ready || c.session.Account == nil || c.snapshot == nil || c.snapshot.Account != *c.session.Account {
		return common.Address{}, decimal.Zero, errors.Wrapf(domain.ErrNotReady, "state is %s", c.session.State)
	}
	return *c.session.Account, c.snapshot.TokenPrice, nil
}
