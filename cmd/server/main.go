package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/thihaeung/balance-ledger/internal/accounts"
	"github.com/thihaeung/balance-ledger/internal/config"
	"github.com/thihaeung/balance-ledger/internal/events"
	"github.com/thihaeung/balance-ledger/internal/events/kafka"
	"github.com/thihaeung/balance-ledger/internal/kv"
	kvmemory "github.com/thihaeung/balance-ledger/internal/kv/memory"
	kvpostgres "github.com/thihaeung/balance-ledger/internal/kv/postgres"
	kvredis "github.com/thihaeung/balance-ledger/internal/kv/redis"
	"github.com/thihaeung/balance-ledger/internal/ledger"
	"github.com/thihaeung/balance-ledger/internal/logging"
	"github.com/thihaeung/balance-ledger/internal/wallet"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	store, closeStore, err := newStore(ctx, logger)
	if err != nil {
		logger.Fatal("initialize store", zap.Error(err))
	}
	defer closeStore()

	pub, closePub := newPublisher(logger)
	defer closePub()

	accountStore := accounts.New(store, logger)
	txLedger := ledger.New(store, logger)
	service := wallet.New(accountStore, txLedger, pub, logger)

	srv := &server{service: service, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/accounts", srv.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{username}", srv.handleLookup).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{username}/topup", srv.handleTopUp).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{username}/purchase", srv.handlePurchase).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{username}/transactions", srv.handleTransactions).Methods(http.MethodGet)

	addr := config.Env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", addr),
		zap.String("store_backend", config.Env("STORE_BACKEND", "memory")))
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// newStore builds the KV backend selected by STORE_BACKEND and returns it
// with its cleanup function.
func newStore(ctx context.Context, logger *zap.Logger) (kv.Store, func(), error) {
	backend := config.Env("STORE_BACKEND", "memory")

	switch backend {
	case "memory":
		logger.Warn("using in-memory store, data is not persisted")
		return kvmemory.New(), func() {}, nil

	case "redis":
		store, err := kvredis.New(ctx, logger,
			config.Env("REDIS_ADDR", "localhost:6379"),
			config.Env("REDIS_PASSWORD", ""),
			config.EnvInt("REDIS_DB", 0))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close redis store", zap.Error(err))
			}
		}, nil

	case "postgres":
		dsn := config.Env("POSTGRES_URL", "postgres://localhost:5432/wallet?sslmode=disable")
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := kvpostgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return store, func() {
			if err := db.Close(); err != nil {
				logger.Warn("close postgres", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}
}

// newPublisher builds the Kafka publisher when KAFKA_BROKERS is set and a
// no-op publisher otherwise.
func newPublisher(logger *zap.Logger) (events.Publisher, func()) {
	brokers := config.Env("KAFKA_BROKERS", "")
	if brokers == "" {
		return events.Nop{}, func() {}
	}

	pub := kafka.NewPublisher(strings.Split(brokers, ","), wallet.TopicBalanceAdjusted)
	logger.Info("publishing balance events", zap.String("brokers", brokers))
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close kafka publisher", zap.Error(err))
		}
	}
}
