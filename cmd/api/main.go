package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"storefront-cart/internal/cartstore"
	"storefront-cart/internal/config"
	"storefront-cart/internal/db"
	"storefront-cart/internal/gateway"
	"storefront-cart/internal/httpserver"
	"storefront-cart/internal/logging"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/migrate"
	"storefront-cart/internal/registry"
	"storefront-cart/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Logging)
	log := logger.WithField("component", "api")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ledger, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open session ledger: %v", err)
	}
	defer closeLedger()

	gw, err := openGateway(cfg, logger)
	if err != nil {
		log.Fatalf("init cart gateway: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cartMetrics := metrics.NewCartMetrics(reg)

	storeLog := logger.WithField("component", "cartstore")
	stores := registry.New(func(sessionID string) *cartstore.Store {
		return cartstore.New(gw,
			cartstore.WithSessionResolver(session.Static(sessionID)),
			cartstore.WithLogger(storeLog.WithField("session", sessionID)),
			cartstore.WithMetrics(cartMetrics),
			cartstore.WithResyncOnClear(cfg.ResyncOnClear),
		)
	}, cfg.StoreIdleTTL,
		registry.WithLogger(logger.WithField("component", "registry")),
		registry.WithMetrics(cartMetrics),
	)
	defer stores.Close()
	go stores.Run(ctx, evictInterval(cfg.StoreIdleTTL))
	go purgeLedger(ctx, ledger, cfg.LedgerPurgeEach, logger.WithField("component", "ledger"))

	provider := session.NewProvider(
		session.WithLedger(ledger),
		session.WithLogger(logger.WithField("component", "session")),
	)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Stores:       stores,
		Sessions:     provider,
		Ledger:       ledger,
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Gatherer:     reg,
		CORSOrigins:  cfg.CORSAllowedOrigins,
		CookieSecure: cfg.CookieSecure,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "gateway": cfg.Gateway, "ledger": cfg.SessionLedger}).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		log.WithError(err).Error("server error")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	} else {
		log.Info("server stopped")
	}
}

func openGateway(cfg config.Config, logger *logrus.Logger) (gateway.Gateway, error) {
	switch cfg.Gateway {
	case config.GatewayMemory:
		logger.Warn("using the in-memory cart service; carts are lost on restart")
		return gateway.NewMemory(), nil
	case config.GatewayHTTP:
		return gateway.NewHTTPClient(cfg.CartAPIBaseURL, cfg.CartAPITimeout, logger.WithField("component", "gateway")), nil
	}
	return nil, errors.New("unknown cart gateway " + cfg.Gateway)
}

func openLedger(ctx context.Context, cfg config.Config, logger *logrus.Logger) (session.Ledger, func(), error) {
	switch cfg.SessionLedger {
	case config.LedgerPostgres:
		pool, err := db.Connect(ctx, cfg.DBConnString)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return session.NewPostgresLedger(pool), pool.Close, nil
	case config.LedgerRedis:
		rdb, err := db.ConnectRedis(ctx, db.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisLedger(rdb), func() {
			if err := rdb.Close(); err != nil {
				logger.WithError(err).Warn("close redis")
			}
		}, nil
	}
	return session.NewMemoryLedger(nil), func() {}, nil
}

func evictInterval(idleTTL time.Duration) time.Duration {
	interval := idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func purgeLedger(ctx context.Context, ledger session.Ledger, every time.Duration, log *logrus.Entry) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := ledger.Purge(ctx, now)
			if err != nil {
				log.WithError(err).Warn("purge expired sessions")
				continue
			}
			if n > 0 {
				log.WithField("purged", n).Info("purged expired sessions")
			}
		}
	}
}
