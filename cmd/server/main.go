package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/alerts"
	"github.com/sudo-init-do/founderledger/internal/api"
	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/compliance"
	"github.com/sudo-init-do/founderledger/internal/config"
	"github.com/sudo-init-do/founderledger/internal/db"
	"github.com/sudo-init-do/founderledger/internal/ledger"
	"github.com/sudo-init-do/founderledger/internal/logging"
	"github.com/sudo-init-do/founderledger/internal/metrics"
	"github.com/sudo-init-do/founderledger/internal/rails"
	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		if !cfg.DevMode() {
			return errors.New("JWT_SECRET must be set")
		}
		cfg.JWTSecret = "dev-secret"
		logger.Warn("JWT_SECRET not set, using the development secret")
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	tokenValue, err := cfg.TokenValue()
	if err != nil {
		return err
	}
	usdzar, err := cfg.Rate()
	if err != nil {
		return err
	}

	l, err := ledger.New(ledger.Options{})
	if err != nil {
		return err
	}

	var (
		store     withdrawal.Store
		gateStore compliance.Store
		auditSink audit.Sink
		ready     func(context.Context) error
		pgStore   *db.Store
	)
	if dsn := cfg.DSN(); dsn != "" {
		pool, err := db.Connect(ctx, dsn, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool, logger); err != nil {
			return err
		}
		pgStore = db.NewStore(pool, logger)
		store, gateStore, auditSink, ready = pgStore, pgStore, pgStore, pgStore.Ping
	} else {
		logger.Warn("no database configured, state is kept in memory only")
	}

	gate := compliance.NewGate(l, compliance.Options{
		Constitution:      policy.Constitution,
		AttestationWindow: policy.AttestationWindow,
		Store:             gateStore,
		Logger:            logger,
	})
	auditLog := audit.New(auditSink, logger)

	if pgStore != nil {
		if err := restore(ctx, pgStore, l, gate, auditLog); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	m.Register(registry)

	var (
		locker   ledger.Locker
		notifier withdrawal.Notifier
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		locker = ledger.NewRedisLocker(rdb, cfg.LockExpiry, logger)

		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		notifier = alerts.NewNotifier(client, cfg.OpsEmail, cfg.AppURL)

		mailer, err := alerts.NewMailer(cfg.Mail(), logger)
		if err != nil {
			return err
		}
		worker := alerts.NewServer(redisOpt, logger)
		if err := worker.Start(alerts.NewProcessor(mailer, logger).Mux()); err != nil {
			return fmt.Errorf("error starting email worker: %w", err)
		}
		defer worker.Shutdown()
	} else {
		logger.Warn("no redis configured, using in-process locks and no email alerts")
	}

	bank, chain, rates := buildRails(cfg, usdzar)
	rateCache := rails.NewRateCache(rates, cfg.RateRefresh, logger)
	go rateCache.Run(ctx, rails.PairUSDZAR)

	coord, err := withdrawal.NewCoordinator(l, gate, withdrawal.Options{
		Bank:          bank,
		Chain:         chain,
		Rates:         rateCache,
		Locker:        locker,
		Store:         store,
		Audit:         auditLog,
		Notifier:      notifier,
		Metrics:       m,
		Logger:        logger,
		Projects:      policy.Projects,
		Policies:      policy.Policies,
		TokenValueUSD: tokenValue,
		BankTimeout:   cfg.BankTimeout,
		ChainTimeout:  cfg.ChainTimeout,
	})
	if err != nil {
		return err
	}
	if err := seedFounders(ctx, coord, l, policy.Founders, logger); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	api.NewHandler(coord, gate, auditLog, api.Options{Ready: ready, Logger: logger}).Register(e, []byte(cfg.JWTSecret))

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	err = e.Shutdown(sctx)
	if ferr := auditLog.Flush(sctx); ferr != nil {
		logger.Error("audit backlog not persisted", zap.Int("unpersisted", auditLog.Pending()), zap.Error(ferr))
	}
	return err
}

func buildRails(cfg *config.Config, usdzar decimal.Decimal) (rails.BankTransfer, rails.BlockchainRecorder, rails.ExchangeRateProvider) {
	var (
		bank  rails.BankTransfer         = rails.NewSimulatedBank()
		chain rails.BlockchainRecorder   = rails.SimulatedChain{}
		rates rails.ExchangeRateProvider = rails.NewStaticRates(map[rails.Pair]decimal.Decimal{rails.PairUSDZAR: usdzar})
	)
	if cfg.BankURL != "" {
		bank = &rails.HTTPBank{BaseURL: cfg.BankURL, APIKey: cfg.BankAPIKey}
	}
	if cfg.ChainURL != "" {
		chain = &rails.HTTPChain{BaseURL: cfg.ChainURL}
	}
	if cfg.RatesURL != "" {
		rates = &rails.HTTPRates{BaseURL: cfg.RatesURL}
	}
	return bank, chain, rates
}

// restore loads persisted state into the in-memory ledger, gate and audit log.
func restore(ctx context.Context, s *db.Store, l *ledger.Ledger, gate *compliance.Gate, log *audit.Log) error {
	founders, err := s.LoadFounders(ctx)
	if err != nil {
		return err
	}
	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	if err := l.Restore(founders, users); err != nil {
		return fmt.Errorf("error restoring ledger: %w", err)
	}
	records, err := s.LoadComplianceRecords(ctx)
	if err != nil {
		return err
	}
	gate.Restore(records)
	entries, err := s.LoadAudit(ctx)
	if err != nil {
		return err
	}
	if err := log.Restore(entries); err != nil {
		return fmt.Errorf("error restoring audit log: %w", err)
	}
	return nil
}

// seedFounders registers policy founders that are not in the ledger yet.
func seedFounders(ctx context.Context, coord *withdrawal.Coordinator, l *ledger.Ledger, specs []ledger.FounderSpec, logger *zap.Logger) error {
	for _, spec := range specs {
		if _, err := l.Founder(spec.ID); err == nil {
			continue
		}
		if _, err := coord.RegisterFounder(ctx, spec); err != nil {
			return fmt.Errorf("error seeding founder %s: %w", spec.ID, err)
		}
		logger.Info("seeded founder", zap.String("founder_id", spec.ID), zap.Int64("total", spec.Total))
	}
	return nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:        true,
		LogStatus:     true,
		LogMethod:     true,
		LogLatency:    true,
		LogRemoteIP:   true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				logger.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
