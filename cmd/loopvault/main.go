package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"LoopVault/internal/config"
	"LoopVault/internal/engine"
	"LoopVault/internal/market"
	"LoopVault/internal/market/evm"
	"LoopVault/internal/market/sim"
	"LoopVault/internal/observability"
	"LoopVault/internal/persistence"
	"LoopVault/internal/publish"
	"LoopVault/internal/server"
)

const (
	persistChanSize = 1024
	publishChanSize = 4096
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLoggerWithLevel("loopvault", observability.ParseLogLevel(cfg.LogLevel))
	log.Info().Str("mode", cfg.Mode).Msg("starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	registry, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build market registry")
	}

	adapters, err := registry.Backend(cfg.Strategy.LendingBackend)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve lending backend")
	}

	persistCh := make(chan engine.EngineOutput, persistChanSize)
	publishCh := make(chan engine.EngineOutput, publishChanSize)

	eng, err := engine.NewEngine(cfg, adapters, metrics, log, persistCh, publishCh)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	metrics.SetChannelMetrics("persist", 0, persistChanSize)
	metrics.SetChannelMetrics("publish", 0, publishChanSize)

	g, gctx := errgroup.WithContext(ctx)

	// Event log persistence
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			pingCancel()
			log.Fatal().Err(err).Msg("postgres ping")
		}
		pingCancel()

		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		worker := persistence.NewWorker(
			db, persistCh,
			cfg.Postgres.BatchSize, cfg.Postgres.FlushTimeout.Duration,
			metrics, log,
		)
		g.Go(func() error { return worker.Run(gctx) })
		log.Info().Msg("event log persistence enabled")
	} else {
		// No database configured: drain the channel so the engine never stalls
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-persistCh:
				}
			}
		})
		log.Warn().Msg("no postgres dsn, event log disabled")
	}

	// Outbound event publishing
	if cfg.NATS.Enabled {
		nc, js, err := publish.Connect(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := publish.EnsureStream(ctx, js, log); err != nil {
			log.Fatal().Err(err).Msg("ensure nats stream")
		}

		publisher := publish.NewPublisher(js, publishCh, metrics, log)
		g.Go(func() error { return publisher.Run(gctx) })
		log.Info().Msg("nats publishing enabled")
	} else {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-publishCh:
				}
			}
		})
	}

	// HTTP API
	if cfg.Server.Enabled {
		srv, err := server.New(eng, registry, cfg.Roles, healthChecker, metrics, log)
		if err != nil {
			log.Fatal().Err(err).Msg("build http server")
		}
		g.Go(func() error { return srv.Run(gctx, cfg.Server.Addr) })
	}

	// Prometheus metrics
	g.Go(func() error { return runMetricsServer(gctx, cfg.Server.MetricsAddr, log) })

	// Periodic liquidation sweep
	g.Go(func() error { return runSweepLoop(gctx, eng, log) })

	healthChecker.SetReady(true)
	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Str("backend", cfg.Strategy.LendingBackend).
		Msg("ready")

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("shutdown with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

// buildRegistry wires the configured market backends.
func buildRegistry(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*market.Registry, error) {
	registry := market.NewRegistry()

	protocolInfo := func(name, kind string) market.ProtocolInfo {
		for _, p := range cfg.Protocols {
			if p.Name == name {
				return market.ProtocolInfo{
					Name:          p.Name,
					Kind:          p.Kind,
					BaseAPYBps:    p.BaseAPYBps,
					RiskFactorBps: p.RiskFactorBps,
					TVLCapacity:   p.TVLCapacity,
				}
			}
		}
		return market.ProtocolInfo{Name: name, Kind: kind}
	}

	switch cfg.Mode {
	case "sim":
		adapters := buildSimAdapters(cfg)
		registry.RegisterBackend("sim", adapters, protocolInfo("sim", "lending"))

	case "evm":
		adapters, err := buildEVMAdapters(ctx, cfg)
		if err != nil {
			return nil, err
		}
		registry.RegisterBackend("evm", adapters, protocolInfo("evm", "lending"))

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	return registry, nil
}

func buildSimAdapters(cfg *config.Config) market.Adapters {
	base := market.Asset(cfg.Strategy.CollateralAsset)
	principal := market.Asset(cfg.Strategy.PrincipalAsset)
	yield := market.Asset(cfg.Strategy.YieldAsset)

	bank := sim.NewBank()
	oracle := sim.NewOracle()

	// Bootstrap prices: base and principal at par, yield claims at half
	oracle.SetPrice(base, 100_000_000)
	oracle.SetPrice(principal, 100_000_000)
	oracle.SetPrice(yield, 50_000_000)

	// Seed the simulated venue with borrow liquidity
	bank.Mint(base, "sim-lending", 1_000_000_000_000)

	engineWallet := cfg.Roles.EngineWallet

	return market.Adapters{
		Lending:    sim.NewLending(bank, engineWallet, "sim-lending"),
		Derivative: sim.NewDerivative(bank, engineWallet, "sim-derivative", base, principal, yield),
		Swap:       sim.NewSwap(bank, engineWallet, "sim-swap", oracle, 0),
		Oracle:     oracle,
		Tokens:     sim.NewTokens(bank, engineWallet),
	}
}

func buildEVMAdapters(ctx context.Context, cfg *config.Config) (market.Adapters, error) {
	tokens := make(map[market.Asset]evm.TokenInfo, len(cfg.EVM.TokenAddrs))
	for symbol, addr := range cfg.EVM.TokenAddrs {
		decimals, ok := cfg.EVM.TokenDecimal[symbol]
		if !ok {
			decimals = 18
		}
		tokens[market.Asset(symbol)] = evm.TokenInfo{
			Address:  common.HexToAddress(addr),
			Decimals: decimals,
		}
	}

	backend, err := evm.Dial(ctx, cfg.EVM.RPCURL, cfg.EVM.PrivateKey, cfg.EVM.ChainID, tokens)
	if err != nil {
		return market.Adapters{}, err
	}

	base := market.Asset(cfg.Strategy.CollateralAsset)
	principal := market.Asset(cfg.Strategy.PrincipalAsset)
	yield := market.Asset(cfg.Strategy.YieldAsset)

	lending, err := evm.NewLending(backend, common.HexToAddress(cfg.EVM.LendingPool))
	if err != nil {
		return market.Adapters{}, err
	}
	derivative, err := evm.NewDerivative(backend, common.HexToAddress(cfg.EVM.Tokenizer), base, principal, yield)
	if err != nil {
		return market.Adapters{}, err
	}
	swap, err := evm.NewSwapVenue(backend, common.HexToAddress(cfg.EVM.SwapRouter))
	if err != nil {
		return market.Adapters{}, err
	}

	feeds := make(map[market.Asset]common.Address, len(cfg.EVM.PriceFeeds))
	for symbol, addr := range cfg.EVM.PriceFeeds {
		feeds[market.Asset(symbol)] = common.HexToAddress(addr)
	}
	oracle, err := evm.NewOracle(backend, feeds)
	if err != nil {
		return market.Adapters{}, err
	}
	tokenPort, err := evm.NewTokens(backend)
	if err != nil {
		return market.Adapters{}, err
	}

	return market.Adapters{
		Lending:    lending,
		Derivative: derivative,
		Swap:       swap,
		Oracle:     oracle,
		Tokens:     tokenPort,
	}, nil
}

func runMetricsServer(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runSweepLoop periodically liquidates positions below the health minimum.
func runSweepLoop(ctx context.Context, eng *engine.Engine, log zerolog.Logger) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := eng.SweepUnhealthy(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("liquidation sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("liquidated", n).Msg("liquidation sweep")
			}
		}
	}
}
