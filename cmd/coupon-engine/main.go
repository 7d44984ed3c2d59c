package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benefitpass/coupon-engine/internal/api"
	"github.com/benefitpass/coupon-engine/internal/cache"
	"github.com/benefitpass/coupon-engine/internal/quota"
	"github.com/benefitpass/coupon-engine/internal/repository"
	"github.com/benefitpass/coupon-engine/internal/service"
	"github.com/benefitpass/coupon-engine/internal/token"
	"github.com/benefitpass/coupon-engine/pkg/db"
)

func main() {
	log := newLogger()
	cfg := db.LoadConfig()

	ledger, catalog, directory, pending, conn, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store setup failed")
	}

	guard, err := buildGuard(cfg, conn, pending, log)
	if err != nil {
		log.WithError(err).Fatal("quota store setup failed")
	}

	cachedCatalog := cache.NewBenefitCache(catalog, cache.DefaultTTL)
	svc := service.NewCouponLifecycle(ledger, cachedCatalog, directory, guard, token.Issuer{}, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(svc, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
		close(idleConnsClosed)
	}()

	log.WithField("addr", cfg.ListenAddr).Info("starting coupon-engine")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("listen failed")
	}

	<-idleConnsClosed
	log.Info("server stopped")
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
	return log
}

func buildStores(cfg db.Config, log *logrus.Logger) (service.Ledger, cache.Catalog, service.Directory, quota.PendingCounter, *sql.DB, error) {
	if cfg.LedgerStore == db.StoreMemory {
		log.Warn("running with an in-memory ledger; nothing survives a restart")
		store := repository.NewMemoryStore()
		return store, store, store, store, nil, nil
	}

	conn, err := db.NewPostgresConnection(cfg.Postgres)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureSchema(ctx, conn); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	coupons := repository.NewCouponRepo(conn)
	return coupons, repository.NewBenefitRepo(conn), repository.NewMerchantRepo(conn), coupons, conn, nil
}

func buildGuard(cfg db.Config, conn *sql.DB, pending quota.PendingCounter, log *logrus.Logger) (quota.Guard, error) {
	switch cfg.QuotaStore {
	case db.StoreRedis:
		client, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return quota.NewRedisGuard(client, pending), nil
	case db.StoreMemory:
		log.Warn("running with in-memory quota counters; only safe single-node")
		return quota.NewMemoryGuard(pending), nil
	default:
		// The Postgres guard counts pending coupons inside its own
		// transaction, so it needs the Postgres ledger.
		if conn == nil {
			log.Warn("memory ledger cannot back the postgres quota guard; using memory guard")
			return quota.NewMemoryGuard(pending), nil
		}
		return quota.NewPostgresGuard(conn), nil
	}
}
