package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nearminter/internal/app"
	"nearminter/internal/config"
	"nearminter/internal/logging"
	"nearminter/internal/server"
	"nearminter/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New("minter-api", cfg.LogLevel)

	if cfg.Service.HMACSecret == "" {
		logger.Warn("API_HMAC_SECRET is empty, mint endpoint is unauthenticated")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	stack, err := app.Build(startCtx, cfg, logger, app.Options{
		Approver:  wallet.AutoApprove,
		CacheName: "server-account.json",
	})
	if err != nil {
		cancelStart()
		log.Fatalf("startup error: %v", err)
	}
	defer stack.Close()

	if !stack.Session.IsConnected() {
		account, err := stack.Session.ConnectAndWait(startCtx)
		if err != nil {
			cancelStart()
			log.Fatalf("wallet sign-in error: %v", err)
		}
		logger.Info("signed in", "account", account)
	}
	cancelStart()

	apiServer := server.NewServer(cfg, stack.Orchestrator, stack.Session, stack.Ledger, stack.Node, logger)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Info("server stopped", "err", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
}
