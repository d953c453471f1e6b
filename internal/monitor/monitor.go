package monitor

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lp-range-alerts/internal/alerting"
	"lp-range-alerts/internal/chain"
	"lp-range-alerts/internal/config"
	"lp-range-alerts/internal/metrics"
	"lp-range-alerts/internal/pool"
	"lp-range-alerts/internal/state"
)

// ChainReader is the read-only contract surface one network exposes to the
// sweep. *chain.Gateway implements it; tests substitute fakes.
type ChainReader interface {
	ResolveProxyWallet(ctx context.Context, owner common.Address) (common.Address, bool, error)
	ListPositionIDs(ctx context.Context, wallet common.Address) ([]*big.Int, error)
	PositionByID(ctx context.Context, id *big.Int) (chain.Position, error)
	PoolTick(ctx context.Context, poolAddr common.Address) (int32, error)
}

var _ ChainReader = (*chain.Gateway)(nil)

// Network bundles one usable network's descriptor with its contract reader
// and pool-discovery strategy.
type Network struct {
	Config  config.Network
	Reader  ChainReader
	Locator pool.Locator
}

// Options parameterise the sweeper.
type Options struct {
	Targets   []config.Target
	Networks  []Network
	Retention time.Duration
	Cooldown  time.Duration
	FanOut    int
	LockKey   int64
	AlertsOn  bool
}

// Sweeper drives one full pass over all targets, addresses, and networks.
// Any single failing unit of work is logged and skipped; the sweep as a
// whole only fails when the final state write does.
type Sweeper struct {
	opts   Options
	store  state.Store
	sender alerting.Sender
	logger zerolog.Logger

	now func() time.Time
}

// NewSweeper constructs the sweep orchestrator.
func NewSweeper(opts Options, store state.Store, sender alerting.Sender, logger zerolog.Logger) *Sweeper {
	if opts.FanOut <= 0 {
		opts.FanOut = 1
	}
	return &Sweeper{
		opts:   opts,
		store:  store,
		sender: sender,
		logger: logger.With().Str("component", "sweeper").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// InRange reports whether tick lies inside [lower, upper], inclusive on both
// ends. This is the sole predicate driving entry creation and removal.
func InRange(tick, lower, upper int32) bool {
	return tick >= lower && tick <= upper
}

// RunSweep executes one complete sweep: read state, process every
// target × address × network unit, evict stale entries, notify, and write
// the state back in a single atomic replace.
func (s *Sweeper) RunSweep(ctx context.Context) error {
	started := s.now()
	defer func() {
		metrics.SweepDuration.Observe(s.now().Sub(started).Seconds())
	}()

	if locker, ok := s.store.(state.SweepLocker); ok && s.opts.LockKey != 0 {
		unlock, acquired, err := locker.TrySweepLock(ctx, s.opts.LockKey)
		if err != nil {
			return fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			s.logger.Warn().Msg("another sweep holds the lock, skipping this tick")
			return nil
		}
		defer unlock()
	}

	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FanOut)

	for _, target := range s.opts.Targets {
		for _, addr := range target.Addresses {
			for _, network := range s.opts.Networks {
				g.Go(func() error {
					s.sweepUnit(gctx, target, addr, network, doc, &mu)
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	now := s.now()
	if evicted := doc.EvictStale(now, s.opts.Retention); evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("dropped stale out-of-range entries")
	}
	metrics.OutOfRangeEntries.Set(float64(doc.Len()))

	s.notify(ctx, doc, now)

	if err := s.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	s.logger.Info().
		Int("entries", doc.Len()).
		Dur("elapsed", s.now().Sub(started)).
		Msg("sweep complete")
	return nil
}

// sweepUnit processes one (user, address, network) combination. Every
// failure inside is caught and logged with its full context; nothing
// propagates out.
func (s *Sweeper) sweepUnit(ctx context.Context, target config.Target, addr string, network Network, doc *state.Document, mu *sync.Mutex) {
	log := s.logger.With().
		Str("user", target.User).
		Str("address", addr).
		Str("network", network.Config.Name).
		Logger()

	owner := common.HexToAddress(addr)

	wallet, found, err := network.Reader.ResolveProxyWallet(ctx, owner)
	if err != nil {
		metrics.UnitFailures.WithLabelValues(network.Config.Name, "resolve").Inc()
		log.Error().Err(err).Msg("proxy wallet lookup failed")
		return
	}
	if !found {
		log.Info().Msg("no proxy wallet on this network")
		return
	}

	ids, err := network.Reader.ListPositionIDs(ctx, wallet)
	if err != nil {
		metrics.UnitFailures.WithLabelValues(network.Config.Name, "enumerate").Inc()
		log.Error().Err(err).Str("wallet", wallet.Hex()).Msg("position enumeration failed")
		return
	}
	if len(ids) == 0 {
		log.Info().Str("wallet", wallet.Hex()).Msg("no positions held")
		return
	}

	for _, id := range ids {
		s.checkPosition(ctx, target, addr, network, wallet, id, doc, mu, log)
	}
}

func (s *Sweeper) checkPosition(ctx context.Context, target config.Target, addr string, network Network, wallet common.Address, id *big.Int, doc *state.Document, mu *sync.Mutex, log zerolog.Logger) {
	log = log.With().Str("position", id.String()).Logger()

	pos, err := network.Reader.PositionByID(ctx, id)
	if err != nil {
		metrics.UnitFailures.WithLabelValues(network.Config.Name, "position").Inc()
		log.Error().Err(err).Msg("position lookup failed")
		return
	}

	// A closed position is neither in nor out of range.
	if pos.Liquidity == nil || pos.Liquidity.Sign() == 0 {
		log.Info().Msg("zero liquidity, skipping")
		return
	}

	poolAddr, err := network.Locator.PoolAddress(ctx, pool.Pair{
		Token0: pos.Token0,
		Token1: pos.Token1,
		Fee:    pos.Fee,
	})
	if err != nil {
		metrics.UnitFailures.WithLabelValues(network.Config.Name, "pool").Inc()
		log.Error().Err(err).Msg("pool lookup failed")
		return
	}

	tick, err := network.Reader.PoolTick(ctx, poolAddr)
	if err != nil {
		metrics.UnitFailures.WithLabelValues(network.Config.Name, "tick").Inc()
		log.Error().Err(err).Str("pool", poolAddr.Hex()).Msg("tick fetch failed")
		return
	}

	metrics.PositionsChecked.WithLabelValues(network.Config.Name).Inc()

	key := state.Key{
		User:       target.User,
		Address:    addr,
		Network:    network.Config.Name,
		PositionID: id.String(),
	}

	mu.Lock()
	defer mu.Unlock()

	if InRange(tick, pos.TickLower, pos.TickUpper) {
		doc.ClearInRange(key)
		return
	}

	log.Info().
		Int32("tick", tick).
		Int32("tick_lower", pos.TickLower).
		Int32("tick_upper", pos.TickUpper).
		Msg("position out of range")

	doc.Upsert(state.Entry{
		User:        target.User,
		ChatID:      target.ChatID,
		Address:     addr,
		Network:     network.Config.Name,
		Protocol:    network.Config.Protocol,
		ProxyWallet: wallet.Hex(),
		PositionID:  id.String(),
		Token0:      pos.Token0.Hex(),
		Token1:      pos.Token1.Hex(),
		TickLower:   pos.TickLower,
		TickUpper:   pos.TickUpper,
		CurrentTick: tick,
		DetectedAt:  s.now(),
	})
}

// notify groups live entries per user and dispatches at most one summary per
// user per cooldown window. A failed dispatch leaves the cooldown untouched
// so the user is retried next sweep.
func (s *Sweeper) notify(ctx context.Context, doc *state.Document, now time.Time) {
	if !s.opts.AlertsOn || s.sender == nil {
		return
	}

	grouped := doc.EntriesByUser()
	users := make([]string, 0, len(grouped))
	for user := range grouped {
		users = append(users, user)
	}
	sort.Strings(users)

	// Destinations come from the current configuration, not from the chat id
	// persisted at detection time, so reconfiguring a user reroutes their
	// existing entries too.
	destinations := make(map[string]string, len(s.opts.Targets))
	for _, target := range s.opts.Targets {
		destinations[target.User] = target.ChatID
	}

	for _, user := range users {
		entries := grouped[user]
		if len(entries) == 0 {
			continue
		}
		if !doc.DueForNotification(user, now, s.opts.Cooldown) {
			s.logger.Info().Str("user", user).Msg("within cooldown, notification suppressed")
			continue
		}

		chatID := destinations[user]
		if chatID == "" {
			chatID = entries[0].ChatID
		}

		text := alerting.RenderSummary(user, entries)
		if err := s.sender.Send(ctx, chatID, text); err != nil {
			metrics.NotificationFailures.Inc()
			s.logger.Error().Err(err).Str("user", user).Msg("notification dispatch failed")
			continue
		}

		metrics.NotificationsSent.Inc()
		doc.RecordSent(user, now)
		s.logger.Info().Str("user", user).Int("positions", len(entries)).Msg("notification sent")
	}
}
