// Command tokensync keeps a consistent view of a wallet account, its ETH and
// token balances and the token price, and lets the user buy and sell tokens.
//
// Usage:
//
//	tokensync -setup                      (writes config.gen.yaml)
//	tokensync -config config.gen.yaml
//	tokensync -contract 0x5FbD... [-rpc http://127.0.0.1:8545] [-chainid 31337]
//	tokensync -genwallet
//
// Required environment variables (a .env file is loaded if present):
//
//	TOKENSYNC_PRIVATE_KEYS: comma separated hex private keys
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tokensync/config"
	"github.com/vadiminshakov/tokensync/dashboard"
	"github.com/vadiminshakov/tokensync/internal/clients"
	"github.com/vadiminshakov/tokensync/internal/events"
	"github.com/vadiminshakov/tokensync/internal/services/network"
	"github.com/vadiminshakov/tokensync/internal/services/probe"
	"github.com/vadiminshakov/tokensync/internal/services/session"
	"github.com/vadiminshakov/tokensync/internal/services/synchronizer"
	"github.com/vadiminshakov/tokensync/internal/services/trader"
	"github.com/vadiminshakov/tokensync/internal/setup"
	"github.com/vadiminshakov/tokensync/internal/storage/snapshots"
	"github.com/vadiminshakov/tokensync/internal/storage/tradejournal"
	"github.com/vadiminshakov/tokensync/pkg/retrier"
)

func main() {
	// a missing .env is fine, keys may come from the real environment
	_ = godotenv.Load()

	conf, err := config.Get(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	switch {
	case conf.GenWallet:
		addr, key, err := clients.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("address:     %s\nprivate key: %s\n", addr.Hex(), key)
		return
	case conf.Setup:
		if err := setup.RunTUI(config.GeneratedFile); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("tokensync stopped", zap.Error(err))
	}
}

func run(ctx context.Context, conf config.Config, logger *zap.Logger) error {
	dialRetrier := retrier.New(
		retrier.WithInitialInterval(500*time.Millisecond),
		retrier.WithMaxRetries(5),
		retrier.WithRetryIf(clients.RetryableDialError),
	)
	node, err := clients.DialEthClient(ctx, conf.RPCURL, dialRetrier, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	var approver clients.Approver = clients.AutoApprover{}
	if !conf.AutoApprove {
		approver = setup.NewPromptApprover()
	}
	wallet, err := clients.NewWallet(conf.PrivateKeys, approver)
	if err != nil {
		return errors.Wrap(err, "load wallet keys")
	}
	if !wallet.Present() {
		logger.Warn("no wallet keys configured", zap.String("env", config.PrivateKeysEnv))
	}

	gateway, err := clients.NewEthClient(node, wallet, conf.Contract, logger)
	if err != nil {
		return err
	}

	guard := network.NewGuard(conf.ChainID, conf.NetworkName)
	prober := probe.NewProber(gateway, logger.With(zap.String("component", "probe")))
	syncer, err := synchronizer.NewSynchronizer(gateway, guard, prober, conf.Contract, conf.ProbeTimeout,
		logger.With(zap.String("component", "synchronizer")),
		synchronizer.WithReadTimeout(conf.ReadTimeout))
	if err != nil {
		return err
	}

	journal, err := tradejournal.Open(filepath.Join(conf.WALDir, "trades"))
	if err != nil {
		return err
	}
	defer journal.Close()
	for _, rec := range journal.Unfinished() {
		logger.Warn("trade from a previous run was never confirmed",
			zap.String("id", rec.ID),
			zap.String("direction", rec.Direction.String()),
			zap.String("amount", rec.Amount.String()),
			zap.String("status", string(rec.Status)))
	}

	executor, err := trader.NewExecutor(gateway, journal, conf.ConfirmationTimeout, logger.With(zap.String("component", "trader")))
	if err != nil {
		return err
	}

	store, err := snapshots.NewWALStore(filepath.Join(conf.WALDir, "snapshots"))
	if err != nil {
		return err
	}
	defer store.Close()
	if last, ok, err := store.Latest(); err == nil && ok {
		logger.Info("last known snapshot",
			zap.String("account", last.Account.Hex()),
			zap.String("tokens", last.TokenBalance.String()),
			zap.Time("at", last.Timestamp))
	}

	views := events.NewViewBroadcaster(64)
	controller, err := session.NewController(gateway, guard, syncer, executor,
		logger.With(zap.String("component", "session")),
		session.WithPublisher(views),
		session.WithSnapshotStore(store),
		session.WithNoticeTTL(conf.NoticeTTL),
	)
	if err != nil {
		return err
	}

	watcher := clients.NewWatcher(gateway, wallet, conf.PollInterval, logger.With(zap.String("component", "watcher")))
	server := dashboard.NewServer(conf.DashboardAddr, controller, views, store, logger.With(zap.String("component", "dashboard")))
	server.Wallet = wallet

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		for ev := range watcher.Events() {
			if err := controller.Notify(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		if len(conf.TLSDomains) > 0 {
			return server.StartWithAutoTLS(ctx, conf.TLSDomains, conf.CertCacheDir)
		}
		return server.Start(ctx)
	})

	logger.Info("tokensync started",
		zap.String("rpc", conf.RPCURL),
		zap.String("network", guard.Describe()),
		zap.String("contract", conf.Contract.Hex()),
		zap.String("dashboard", conf.DashboardAddr))

	return g.Wait()
}
