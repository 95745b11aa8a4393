package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"graphdj/internal/util"
	"graphdj/services/api/internal/app"
	"graphdj/services/api/internal/config"
	"graphdj/services/api/internal/server"
)

const (
	shutdownTimeout = 15 * time.Second
	cleanupWorkers  = 2
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	refreshTTL, err := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("failed to parse refresh TTL: %v", err)
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger("api", cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:              cfg.DatabaseURL,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		JWTSecret:                cfg.JWTSecret,
		JWTIssuer:                cfg.JWTIssuer,
		JWTAudience:              cfg.JWTAudience,
		JWTLeeway:                leeway,
		SessionTTL:               sessionTTL,
		RefreshTTL:               refreshTTL,
		BlobBackend:              cfg.BlobBackend,
		DataDir:                  cfg.DataDir,
		MinioEndpoint:            cfg.MinioEndpoint,
		MinioAccessKey:           cfg.MinioAccessKey,
		MinioSecretKey:           cfg.MinioSecretKey,
		MinioBucket:              cfg.MinioBucket,
		MinioUseSSL:              cfg.MinioUseSSL,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		AllowedImageExtensions:   cfg.AllowedImageExtensions,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TrustedProxies: trusted,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	appCore.StartBlobCleanup(gctx, cleanupWorkers)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
