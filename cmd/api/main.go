package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/server"
	"chroma-rag/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err, "config load failed")
	}
	if err := logger.Configure(logger.Options{Level: string(cfg.LogLevel), JSON: cfg.Env == "production"}); err != nil {
		logger.Warn("%v: %v, keeping info", config.ModuleSetting, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := server.Build(ctx, cfg)
	if err != nil {
		logger.Fatal(err, "startup failed")
	}
	defer closeDeps()

	app := server.New(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.WithFields(map[string]interface{}{
			"addr":    addr,
			"backend": deps.Store.Backend(),
			"env":     cfg.Env,
		}).Info("server: listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error(err, "server error")
		}
	case <-ctx.Done():
		logger.Info("server: shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error(err, "server shutdown")
		}
	}
}
