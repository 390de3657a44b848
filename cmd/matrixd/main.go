// Package main runs the matrix compensation engine server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/TriMatrix-Network/matrix_layer/internal/app"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/httpapi"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage/postgres"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
	"github.com/TriMatrix-Network/matrix_layer/internal/middleware"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	log := logger.NewDefault("matrixd")

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadFromPath(*configPath)
		if err != nil {
			log.WithError(err).Error("load configuration")
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}

	stores := app.Stores{}
	dsn := cfg.Database.DSN
	if env := os.Getenv("MATRIX_DATABASE_DSN"); env != "" {
		dsn = env
	}
	if dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Apply(context.Background(), db); err != nil {
			log.WithError(err).Error("apply migrations")
			os.Exit(1)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Members:     store,
			Trees:       store,
			Snapshots:   store,
			Activations: store,
			Commissions: store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database configured; using in-memory storage")
	}

	application, err := app.New(stores, app.Options{Config: cfg}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	sink, err := httpapi.NewFileAuditSink(cfg.HTTP.AuditFile)
	if err != nil {
		log.WithError(err).Error("open audit file")
		os.Exit(1)
	}
	audit := httpapi.NewAuditLog(0, sink)

	var jwtAuth *middleware.AuthMiddleware
	if cfg.HTTP.JWTSecret != "" {
		jwtAuth = middleware.NewAuthMiddleware([]byte(cfg.HTTP.JWTSecret), log, []string{"/healthz", "/metrics"})
	}

	handler := httpapi.NewHandler(application, audit)
	handler = httpapi.WrapWithAuth(handler, cfg.HTTP.AuthTokens, jwtAuth)
	handler = httpapi.WrapWithAudit(handler, audit)

	limiter := middleware.NewRateLimiter(cfg.HTTP.RequestsPerSecond, cfg.HTTP.Burst, log)
	limiter.StartCleanup(10 * time.Minute)
	handler = limiter.Handler(handler)
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		handler = middleware.NewCORSMiddleware(cfg.HTTP.AllowedOrigins).Handler(handler)
	}
	handler = metrics.InstrumentHandler("api", handler)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
}
