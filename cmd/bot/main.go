package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tileworks/internal/api"
	"tileworks/internal/attachments"
	"tileworks/internal/bot"
	"tileworks/internal/config"
	"tileworks/internal/database"
	"tileworks/internal/events"
	"tileworks/internal/metrics"
	"tileworks/internal/session"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(os.Getenv("TILEWORKS_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Telegram.BotToken == "" {
		logger.Fatal().Msg("set telegram.bot_token in config")
	}

	var (
		db        *database.DB
		rdb       *redis.Client
		persister session.Persister
	)
	switch cfg.Session.Backend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		persister = session.NewRedisPersister(rdb, cfg.Session.RedisPrefix)
	default:
		db, err = database.NewDB(cfg.Session.DatabasePath, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db error")
		}
		defer db.Close()
		persister = session.NewSQLitePersister(db)
	}

	clientOpts := []api.Option{
		api.WithTimeout(cfg.HTTPTimeout()),
		api.WithLogger(&logger),
	}
	if cfg.API.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, api.WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst))
	}

	var checker api.CredentialChecker = api.NopChecker{}
	if cfg.Google.ClientID != "" {
		checker = api.NewGoogleChecker(cfg.Google.ClientID)
	}

	b, err := bot.New(cfg.Telegram.BotToken, bot.Options{
		NewClient: func(creds api.Credentials) *api.Client {
			return api.NewClient(cfg.API.BaseURL, creds, clientOpts...)
		},
		Persister: persister,
		Bus:       events.NewBus(),
		Checker:   checker,
		PageSize:  cfg.PageSize(),
		Limits: attachments.Limits{
			MaxFileBytes:  cfg.MaxFileBytes(),
			MaxTotalBytes: cfg.MaxTotalBytes(),
			MaxFiles:      cfg.MaxFiles(),
		},
		PreviewDir: cfg.Uploads.PreviewDir,
		Debug:      cfg.Telegram.Debug,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if db != nil {
		if owners, err := db.Owners(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to count stored sessions")
		} else {
			logger.Info().Int("stored_sessions", len(owners)).Msg("session store opened")
		}
		go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	backend := api.NewClient(cfg.API.BaseURL, nil, api.WithTimeout(2*time.Second))
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, backend, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Str("api", cfg.API.BaseURL).Str("sessions", cfg.Session.Backend).Msg("tileworks bot started")
	b.Start(ctx)
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, backend *api.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctxPing); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if err := backend.HealthCheck(ctxPing); err != nil {
			http.Error(w, "backend not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
