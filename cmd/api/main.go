package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/config"
	"ctxstore/internal/di"
	"ctxstore/internal/observability"
)

// Exit codes, stable for process supervisors:
//
//	0 clean shutdown
//	1 configuration error
//	2 storage backends unreachable past the startup grace period
//	3 embedding self-test failed in strict mode
const (
	exitOK        = 0
	exitConfig    = 1
	exitBackends  = 2
	exitEmbedding = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfig
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Environment)
	if err != nil {
		log.Printf("logger setup failed: %v", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting context store",
		zap.String("environment", cfg.Environment),
		zap.Strings("config_sources", cfg.Sources()),
	)

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		switch {
		case errors.Is(err, di.ErrBackendsUnreachable):
			return exitBackends
		case errors.Is(err, di.ErrEmbeddingSelfTest):
			return exitEmbedding
		default:
			return exitConfig
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: container.Handler,
		// WriteTimeout sits above the request timeout middleware so slow
		// requests fail with an error envelope, not a cut socket.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout.Std() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exit := exitOK
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("server failed", zap.Error(err))
		exit = exitConfig
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http drain failed", zap.Error(err))
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error("component shutdown failed", zap.Error(err))
	}

	logger.Info("stopped")
	return exit
}
