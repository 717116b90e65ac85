package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"skycrash/internal/config"
	"skycrash/internal/logger"
	"skycrash/internal/metrics"
	"skycrash/internal/server"
)

func main() {
	cfg := config.Load()

	log, err := logger.New("skycrash-api", cfg.Env)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}
	srv.RegisterRoutes()

	metricsSrv := metrics.StartServer(cfg.MetricsPort, srv.Healthz)

	go func() {
		if err := srv.Listen(":" + cfg.HTTPPort); err != nil {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()
	log.Info("server listening",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("metrics_port", cfg.MetricsPort))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := srv.Cleanup(); err != nil {
		log.Error("cleanup failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}
