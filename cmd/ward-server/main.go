package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wardsync/wardsync/internal/config"
	"github.com/wardsync/wardsync/internal/domain/patient"
	"github.com/wardsync/wardsync/internal/platform/auth"
	"github.com/wardsync/wardsync/internal/platform/metrics"
	"github.com/wardsync/wardsync/internal/platform/middleware"
	"github.com/wardsync/wardsync/internal/platform/store"
	"github.com/wardsync/wardsync/internal/platform/websocket"
	enginesync "github.com/wardsync/wardsync/internal/sync"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ward-server",
		Short: "Ward census synchronization server",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the census API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	m := metrics.New()

	// Remote store
	ctx := context.Background()
	var st store.Store
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		pg := store.NewPostgres(pool, logger)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate documents table")
		}
		st = pg
		logger.Info().Msg("connected to postgres store")
	default:
		st = store.NewMemory()
		logger.Info().Msg("using in-memory store")
	}

	// Sync engine and live push
	engine := enginesync.NewEngine(st, cfg.PatientCollection, logger, m)
	hub := websocket.NewHub(logger, m)
	engine.AddListener(hub.BroadcastRoster)

	engineCtx, engineCancel := context.WithCancel(ctx)
	defer engineCancel()
	if err := engine.Start(engineCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start sync engine")
	}
	defer engine.Stop()
	logger.Info().Str("collection", cfg.PatientCollection).Msg("sync engine started")

	// Domain service
	svc := patient.NewService(st, cfg.PatientCollection, engine, logger, m)

	// Identity
	verifier := auth.NewStoreVerifier(st, cfg.UserCollection)
	secret := cfg.ResolvedJWTSecret()
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	authHandler := auth.NewHandler(verifier, verifier, secret, cfg.MasterPassword, ttl)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		code := http.StatusOK
		if !engine.Live() {
			status = "sync lost"
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]any{
			"status":   status,
			"version":  "0.1.0",
			"patients": cfg.PatientCollection,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Public auth endpoints
	authHandler.RegisterRoutes(e.Group(""))

	// Authenticated API
	apiV1 := e.Group("/api/v1", auth.Middleware(secret))
	patient.NewHandler(svc, engine).RegisterRoutes(apiV1)
	hub.RegisterRoutes(apiV1)

	// Start server with graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("backend", cfg.StoreBackend).Msg("ward server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	engine.Stop()
	return nil
}
