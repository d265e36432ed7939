package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/tomoswap/txsync/api"
	"github.com/tomoswap/txsync/config"
	"github.com/tomoswap/txsync/monitor"
	"github.com/tomoswap/txsync/notify"
	"github.com/tomoswap/txsync/sdk"
	"github.com/tomoswap/txsync/session"
	"github.com/tomoswap/txsync/store/postgres"
	"github.com/tomoswap/txsync/txm"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Track the configured wallet until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx, flagConfigPath)
			if err != nil {
				return err
			}
			lggr, err := newLogger(*cfg.LogLevel)
			if err != nil {
				return err
			}
			defer lggr.Sync()
			return run(ctx, cfg, lggr)
		},
	}
}

type app struct {
	lggr    logger.Logger
	client  *sdk.Client
	db      *postgres.DB
	session *session.Session
	ms      services.MultiStart
	svcs    []services.Service
}

func run(ctx context.Context, cfg *config.Config, lggr logger.Logger) error {
	a, err := newApp(ctx, cfg, lggr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			lggr.Errorw("shutdown finished with errors", "err", err)
		}
	}()
	if err := a.session.Start(ctx, *cfg.Wallet); err != nil {
		return err
	}
	lggr.Infow("txsync running", "wallet", a.session.Wallet(), "node", *cfg.Node.Name)
	<-ctx.Done()
	lggr.Info("shutting down")
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, lggr logger.Logger) (a *app, err error) {
	a = &app{lggr: lggr}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.client, err = sdk.Dial(ctx, lggr, cfg.NodeURL(), cfg.ClientConfig())
	if err != nil {
		return nil, err
	}

	var open session.StoreOpener
	switch *cfg.Store.Backend {
	case config.BackendPostgres:
		a.db, err = postgres.New(ctx, lggr, *cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err = a.db.Migrate(ctx); err != nil {
			return nil, err
		}
		open = func(_ context.Context, wallet string) (txm.TxStore, error) {
			return a.db.ForWallet(wallet), nil
		}
	default:
		open = session.InMemoryStores(txm.NewAccountStore())
	}

	broadcaster := notify.NewBroadcaster(lggr, *cfg.Notify.BufferSize)
	bus := notify.Multi{broadcaster}
	if *cfg.Notify.RedisURL != "" {
		var rp *notify.RedisPublisher
		rp, err = notify.DialRedis(ctx, lggr, *cfg.Notify.RedisURL, *cfg.Notify.Channel, *cfg.Notify.BufferSize)
		if err != nil {
			return nil, err
		}
		a.svcs = append(a.svcs, rp)
		bus = append(bus, rp)
	}

	a.session = session.New(lggr, cfg.TxmConfig(), a.client, bus, open)
	a.svcs = append(a.svcs,
		monitor.NewStateMonitor(cfg, lggr, a.session),
		api.NewServer(lggr, *cfg.API.ListenAddress, a.session, broadcaster, a.HealthReport),
	)

	for _, s := range a.svcs {
		if err = a.ms.Start(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", s.Name(), err)
		}
	}
	return a, nil
}

func (a *app) HealthReport() map[string]error {
	report := map[string]error{}
	if a.session != nil {
		services.CopyHealth(report, a.session.HealthReport())
	}
	for _, s := range a.svcs {
		services.CopyHealth(report, s.HealthReport())
	}
	return report
}

// Close stops the session first so no event is published to a closed bus, then the
// services in reverse start order.
func (a *app) Close() error {
	var err error
	if a.session != nil {
		err = a.session.Close()
	}
	err = errors.Join(err, a.ms.Close())
	if a.db != nil {
		a.db.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	return err
}
