package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/db"
	"bankledger/internal/events"
	"bankledger/internal/handlers"
	"bankledger/internal/services"
	"bankledger/internal/store"
	"bankledger/internal/websocket"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	publisher := events.Publisher(events.NopPublisher{})
	if cfg.RabbitMQURI != "" {
		amqpPublisher, err := events.DialAMQP(cfg.RabbitMQURI, cfg.RabbitMQExchange)
		if err != nil {
			slog.Error("failed to connect rabbitmq", "error", err)
			os.Exit(1)
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	users := store.NewUserStore(database)
	accounts := store.NewAccountStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database, db.WithLockTimeout(cfg.LockTimeout), db.WithMaxAttempts(cfg.TxMaxAttempts))
	hub := websocket.NewHub()
	ledger := services.NewLedgerService(services.LedgerDeps{
		TxRunner:       txRunner,
		Accounts:       accounts,
		Users:          users,
		Transactions:   store.NewTransactionStore(database),
		Transfers:      store.NewTransferStore(database),
		Activity:       store.NewActivityStore(database),
		Audit:          audit,
		Hub:            hub,
		Publisher:      publisher,
		NumberAttempts: cfg.AccountNumberAttempts,
	})

	handler := handlers.New(handlers.Deps{
		TxRunner:   txRunner,
		Config:     cfg,
		Users:      users,
		Admin:      admin,
		Audit:      audit,
		Reconciler: accounts,
		Ledger:     ledger,
		Hub:        hub,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("ledger API listening", "addr", server.Addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func logLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
