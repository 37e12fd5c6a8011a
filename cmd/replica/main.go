// Command replica boots one fan-out replica process: it wires the KV
// gateway, two-tier cache, leader election, periodic dispatcher, client
// hub, and upstream fetcher described in SPEC_FULL.md, and serves the
// health and metrics endpoints alongside them.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantfeed/nexus/adapter"
	"github.com/quantfeed/nexus/cachemanager"
	"github.com/quantfeed/nexus/config"
	"github.com/quantfeed/nexus/dispatch"
	"github.com/quantfeed/nexus/election"
	"github.com/quantfeed/nexus/healthz"
	"github.com/quantfeed/nexus/hub"
	"github.com/quantfeed/nexus/kvstore"
	"github.com/quantfeed/nexus/localcache"
	"github.com/quantfeed/nexus/logging"
	"github.com/quantfeed/nexus/metrics/prom"
	"github.com/quantfeed/nexus/snapshot"
	"github.com/quantfeed/nexus/upstream"
	"github.com/quantfeed/nexus/upstream/httpfetcher"
)

// l1Capacity bounds the in-process cache's entry count, and l1IdleTTL evicts
// an entry that has not been read or written for that long. This service
// keeps a single logical key in L1 (its expiry marker lives in L2 only), so
// the capacity is generous headroom rather than a tuned limit.
const (
	l1Capacity = 2000
	l1IdleTTL  = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("replica: configuration error: %v", err)
	}

	var logger *zap.Logger
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logger = logging.NewAtLevel(level)
	} else {
		logger = logging.New()
	}
	defer logger.Sync()
	logger = logger.With(zap.String("node_id", cfg.NodeID))

	redisOpts, err := redis.ParseURL(cfg.KVStoreURL)
	if err != nil {
		logger.Fatal("replica: invalid KV_STORE_URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	gw := kvstore.NewRedisGateway(rdb)

	reg := prometheus.NewRegistry()
	cacheMetrics := prom.New(reg, "nexus", "localcache", nil)
	serviceMetrics := prom.NewServiceMetrics(reg, "nexus")

	l1 := localcache.New[string, snapshot.Snapshot](localcache.Options[string, snapshot.Snapshot]{
		Capacity: l1Capacity,
		IdleTTL:  l1IdleTTL,
		Metrics:  cacheMetrics,
	})
	defer l1.Close()

	cache := cachemanager.New(l1, gw)

	var fetcher upstream.Fetcher
	if url := os.Getenv("UPSTREAM_URL"); url != "" {
		fetcher = httpfetcher.New(url)
	} else {
		logger.Warn("replica: UPSTREAM_URL unset, leader tick will report NotConfigured")
	}

	source := os.Getenv("SOURCE_NAME")
	if source == "" {
		source = "nexus-replica"
	}
	ad := adapter.New(cache, fetcher, gw, source, logger, cfg.HeartbeatInterval)

	clientHub := hub.New(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := election.Params{
		HeartbeatInterval: cfg.HeartbeatInterval,
		LockTTL:           cfg.LockTTL,
		AcquireRetry:      cfg.HeartbeatInterval,
	}

	elector := election.New(gw, cfg.NodeID, params, logger, func() {
		logger.Info("replica: acquired leadership")
	}, func() {
		logger.Info("replica: lost leadership")
	})
	elector.SetMetrics(serviceMetrics)

	health := healthz.New(gw, elector, 2*time.Second)

	disp := dispatch.New(elector, ad, cache, clientHub, cfg.FetchInterval, cfg.HeartbeatInterval, logger)
	disp.SetMetrics(serviceMetrics)
	disp.SetHealthNotifier(health)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}

	go func() {
		logger.Info("replica: serving health and metrics", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("replica: http server failed", zap.Error(err))
		}
	}()

	// The dispatcher runs on its own context so shutdown can stop it only
	// after the elector has released the lock.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	go elector.Run(ctx)
	go disp.Run(dispatchCtx)

	<-ctx.Done()
	logger.Info("replica: shutdown signal received")

	// Shutdown order per spec.md §5: election releases the lock first, then
	// dispatch stops ticking, then the HTTP surface drains. The in-process
	// hub holds no external state and has no shutdown step of its own.
	elector.Stop()
	stopDispatch()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info("replica: shutdown complete")
}
