package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"lp-range-alerts/internal/alerting"
	"lp-range-alerts/internal/chain"
	"lp-range-alerts/internal/config"
	"lp-range-alerts/internal/metrics"
	"lp-range-alerts/internal/monitor"
	"lp-range-alerts/internal/pool"
	"lp-range-alerts/internal/scheduler"
	"lp-range-alerts/internal/state"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// buildNetworks assembles a gateway and pool locator per usable network. A
// network with missing or placeholder contract addresses, or an unsupported
// protocol tag, is disabled with a startup warning; the remaining networks
// proceed.
func (a *App) buildNetworks() ([]monitor.Network, func(), error) {
	nets := make([]monitor.Network, 0, len(a.Config.Networks))
	gateways := make([]*chain.Gateway, 0, len(a.Config.Networks))

	for _, nc := range a.Config.Networks {
		if !nc.Usable() {
			a.Logger.Warn().Str("network", nc.Name).Msg("incomplete contract addresses, network skipped")
			continue
		}

		protocol, err := pool.ParseProtocol(nc.Protocol)
		if err != nil {
			a.Logger.Error().Err(err).Str("network", nc.Name).Msg("configuration error, network disabled")
			continue
		}

		gw := chain.NewGateway(chain.Options{
			Network:        nc,
			RequestTimeout: a.Config.Monitor.RequestTimeout,
			RateLimit:      a.Config.Monitor.RPCRateLimit,
		}, a.Logger)

		locator, err := pool.ForProtocol(protocol, common.HexToAddress(nc.PoolFactory), gw)
		if err != nil {
			return nil, nil, fmt.Errorf("network %s: %w", nc.Name, err)
		}

		gateways = append(gateways, gw)
		nets = append(nets, monitor.Network{Config: nc, Reader: gw, Locator: locator})
	}

	closer := func() {
		for _, gw := range gateways {
			gw.Close()
		}
	}
	return nets, closer, nil
}

func (a *App) openStore(ctx context.Context) (state.Store, error) {
	switch a.Config.Storage.Backend {
	case "postgres":
		pgpool, err := state.NewPool(ctx, a.Config.Storage)
		if err != nil {
			return nil, err
		}
		return state.NewPgStore(ctx, pgpool, a.Logger)
	default:
		return state.NewFileStore(a.Config.Storage.FilePath, a.Logger), nil
	}
}

func (a *App) newSender() alerting.Sender {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	tg := a.Config.Alerting.Telegram
	return alerting.NewTelegramSender(tg.BotToken, tg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newSweeper(store state.Store, nets []monitor.Network) *monitor.Sweeper {
	return monitor.NewSweeper(monitor.Options{
		Targets:   a.Config.Targets,
		Networks:  nets,
		Retention: a.Config.Monitor.Retention,
		Cooldown:  a.Config.Alerting.Cooldown,
		FanOut:    a.Config.Monitor.FanOut,
		LockKey:   a.Config.Storage.AdvisoryLockKey,
		AlertsOn:  a.Config.Alerting.Enabled,
	}, store, a.newSender(), a.Logger)
}

// Run executes the long-running monitoring service: a sweep per scheduler
// tick until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	nets, closeNets, err := a.buildNetworks()
	if err != nil {
		return err
	}
	defer closeNets()
	if len(nets) == 0 {
		a.Logger.Warn().Msg("no usable networks configured; sweeps will be empty")
	}

	if a.Config.Metrics.Enabled {
		go metrics.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger)
	}

	sweeper := a.newSweeper(store, nets)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return sweeper.RunSweep(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Sweep performs exactly one pass, for use under an external scheduler.
func (a *App) Sweep(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	nets, closeNets, err := a.buildNetworks()
	if err != nil {
		return err
	}
	defer closeNets()

	return a.newSweeper(store, nets).RunSweep(ctx)
}
