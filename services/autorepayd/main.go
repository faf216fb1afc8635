package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autorepay/config"
	"autorepay/core/events"
	"autorepay/integrations/evm"
	"autorepay/integrations/paper"
	"autorepay/integrations/webhooks"
	"autorepay/native/autorepay"
	"autorepay/observability"
	"autorepay/observability/logging"
	telemetry "autorepay/observability/otel"
	daemonconfig "autorepay/services/autorepayd/config"
	"autorepay/services/autorepayd/journal"
	"autorepay/services/autorepayd/keeper"
	"autorepay/services/autorepayd/server"
	"autorepay/storage"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/autorepayd/config.yaml", "path to autorepayd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("autorepayd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := daemonconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("AUTOREPAY_ENV"))
	logOpts := []logging.Option{logging.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays))
	}
	logger, logCloser := logging.Setup("autorepayd", env, logOpts...)
	defer logCloser.Close()
	logger.Info("configuration loaded", slog.Any("config", cfg.Sanitized()))
	if err := cfg.CheckEnvironment(env); err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("autorepayd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	params, err := config.Load(cfg.ParamsPath)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}

	store, closeStore, err := openLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeStore()

	db, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	journalLog, err := journal.New(db, logger)
	if err != nil {
		return err
	}

	feed, err := openFeed(cfg.Oracle)
	if err != nil {
		return err
	}
	maxAge := cfg.Oracle.MaxAge.Duration
	if maxAge <= 0 {
		maxAge = time.Duration(params.OracleMaxAgeSeconds) * time.Second
	}
	oracle := autorepay.NewPriceOracle(feed, autorepay.WithMaxAge(maxAge))

	wiring := resolveWiring(params)
	bank := paper.NewBank(wiring.vault)
	for account, amount := range cfg.Market.Grants {
		value, _ := new(big.Int).SetString(strings.TrimSpace(amount), 10)
		bank.Mint(common.HexToAddress(account), value)
	}
	market := paper.NewMarket(bank, wiring.market, wiring.asset, uint64(cfg.Market.APRBps))
	feeVault := paper.NewFeeVault(bank, wiring.feeSink)

	hub := server.NewHub(logger)
	metrics := observability.Engine()
	emitters := events.Multi{logEmitter(logger), journalLog, hub, metrics}
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithTopics(cfg.Webhook.Topics...), webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("webhook dispatcher: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}

	manager, err := autorepay.NewManager(autorepay.Config{
		Asset:              wiring.asset,
		Vault:              wiring.vault,
		Market:             wiring.market,
		FeeSink:            wiring.feeSink,
		FeeBps:             params.FeeBps,
		CollateralRatioPct: params.CollateralRatioPct,
		UpdateInterval:     time.Duration(params.UpdateIntervalSeconds) * time.Second,
	}, autorepay.NewLedger(store), bank, market, oracle,
		autorepay.WithFeeSink(feeVault),
		autorepay.WithEmitter(emitters),
		autorepay.WithLogger(logger),
		autorepay.WithPauses(params.Pauses))
	if err != nil {
		return fmt.Errorf("position manager: %w", err)
	}
	sweeper := autorepay.NewSweepScheduler(manager)

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		CertFile:      cfg.TLS.CertPath,
		KeyFile:       cfg.TLS.KeyPath,
		Manager:       manager,
		Sweeper:       sweeper,
		Journal:       journalLog,
		Hub:           hub,
		Auth: server.NewAuthenticator(server.AuthConfig{
			APITokens:  cfg.Auth.APITokens,
			JWTEnabled: cfg.Auth.JWT.Enabled,
			HMACSecret: cfg.Auth.JWT.HMACSecret,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			ScopeClaim: cfg.Auth.JWT.ScopeClaim,
			ClockSkew:  cfg.Auth.JWT.ClockSkew.Duration,
		}, logger),
		Limiter: server.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if cfg.TLS.AllowInsecure && cfg.TLS.CertPath == "" && !strings.EqualFold(env, "dev") && !isLoopback(cfg.ListenAddress) {
		return errors.New("plaintext autorepayd is restricted to loopback listeners or the dev environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Keeper.Disabled {
		k, err := keeper.New(keeper.Config{
			Manager:        manager,
			Sweeper:        sweeper,
			Interval:       cfg.Keeper.Interval.Duration,
			ExportDir:      cfg.Export.Dir,
			ExportInterval: cfg.Export.Interval.Duration,
			Metrics:        metrics,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		go k.Start(ctx)
	}
	go pruneIdempotency(ctx, journalLog, logger)

	return srv.Run(ctx)
}

func openLedger(cfg daemonconfig.LedgerConfig) (autorepay.Store, func(), error) {
	var db storage.Database
	switch cfg.Backend {
	case daemonconfig.LedgerLevelDB:
		level, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb: %w", err)
		}
		db = level
	case daemonconfig.LedgerBolt:
		bolt, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt: %w", err)
		}
		db = bolt
	default:
		return autorepay.NewMemoryStore(), func() {}, nil
	}
	store, err := autorepay.NewKVStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}
	return store, db.Close, nil
}

func openFeed(cfg daemonconfig.OracleConfig) (autorepay.PriceFeed, error) {
	switch cfg.Source {
	case daemonconfig.OracleEVM:
		client, err := evm.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial evm: %w", err)
		}
		return evm.NewAggregatorFeed(client, common.HexToAddress(cfg.Aggregator))
	default:
		price, ok := new(big.Int).SetString(cfg.Price, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("oracle: invalid static price %q", cfg.Price)
		}
		return paper.NewStaticFeed(price, cfg.Decimals), nil
	}
}

type wiring struct {
	asset, vault, market, feeSink common.Address
}

// resolveWiring fills unset collaborator addresses with fixed paper defaults.
func resolveWiring(params *config.Config) wiring {
	pick := func(raw, fallback string) common.Address {
		if addr := params.Address(raw); addr != (common.Address{}) {
			return addr
		}
		return common.BytesToAddress([]byte(fallback))
	}
	return wiring{
		asset:   pick(params.Wiring.Asset, "autorepay/asset"),
		vault:   pick(params.Wiring.Vault, "autorepay/vault"),
		market:  pick(params.Wiring.Market, "autorepay/market"),
		feeSink: pick(params.Wiring.FeeSink, "autorepay/fee-sink"),
	}
}

func logEmitter(logger *slog.Logger) events.Emitter {
	return events.EmitterFunc(func(ev events.Event) {
		rec := events.ToRecord(ev)
		if rec == nil {
			return
		}
		attrs := append([]any{slog.String("type", rec.Type)}, logging.MaskAttributes(rec.Attributes)...)
		logger.Info("engine event", attrs...)
	})
}

func pruneIdempotency(ctx context.Context, j *journal.Journal, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.PruneIdempotency(ctx, time.Now().Add(-24*time.Hour)); err != nil {
				logger.Warn("prune idempotency keys", slog.Any("error", err))
			}
		}
	}
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
