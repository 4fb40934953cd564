package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/abhishek622/moviereplica/internal/httputil"
	"github.com/abhishek622/moviereplica/movie/internal/controller/feed"
	"github.com/abhishek622/moviereplica/movie/internal/controller/loader"
	"github.com/abhishek622/moviereplica/movie/internal/controller/mutation"
	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	catalog "github.com/abhishek622/moviereplica/movie/internal/gateway/catalog/http"
	kafkafeed "github.com/abhishek622/moviereplica/movie/internal/gateway/feed/kafka"
	wsfeed "github.com/abhishek622/moviereplica/movie/internal/gateway/feed/websocket"
	httphandler "github.com/abhishek622/moviereplica/movie/internal/handler/http"
	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/internal/repository/memory"
	"github.com/abhishek622/moviereplica/movie/internal/repository/redis"
	"github.com/abhishek622/moviereplica/movie/internal/repository/sqlite"
	"github.com/abhishek622/moviereplica/pkg/tracing"
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "movie"

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "configs/default.yaml", "path to the configuration file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	logger.Info("Starting the movie replica", zap.Int("port", cfg.API.Port), zap.String("store", cfg.Store.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Jaeger.Enabled {
		tracer, closer, err := tracing.NewTracer(serviceName, cfg.Jaeger.Host, cfg.Jaeger.Port, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Jaeger tracer", zap.Error(err))
		}
		defer closer.Close()
		opentracing.SetGlobalTracer(tracer)
		logger.Info("Jaeger tracer initialized", zap.String("service", serviceName))
	}

	reporter := prometheus.NewReporter(prometheus.Options{})
	scope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
		Prefix:          "moviereplica",
		CachedReporter:  reporter,
		Separator:       prometheus.DefaultSeparator,
		SanitizeOptions: &prometheus.DefaultSanitizerOpts,
	}, time.Second)
	defer scopeCloser.Close()

	repo, err := openRepository(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("Failed to open repository", zap.Error(err))
	}
	store, err := replica.Open(ctx, repo,
		replica.WithLogger(logger),
		replica.WithScope(scope.SubScope("replica")),
	)
	if err != nil {
		logger.Fatal("Failed to open replica", zap.Error(err))
	}
	defer store.Close()

	limiter := rate.NewLimiter(rate.Limit(cfg.Catalog.RateLimit), cfg.Catalog.Burst)
	catalogGateway := catalog.New(cfg.Catalog.BaseURL, httputil.NewClient(cfg.Catalog.Timeout, limiter), scope.SubScope("catalog"))
	ld := loader.New(catalogGateway, store, logger, scope.SubScope("loader"))
	ctrl := mutation.New(catalogGateway, store, logger, scope.SubScope("mutation"))

	var wg sync.WaitGroup
	var h *httphandler.Handler
	if source := newFeedSource(cfg.Feed); source != nil {
		listener := feed.New(source, store, logger, scope.SubScope("feed"), feed.WithBaseline(ld.Done()))
		h = httphandler.New(store, ctrl, listener, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runFeed(ctx, listener, cfg.Feed.ReconnectInterval, logger)
		}()
	} else {
		h = httphandler.New(store, ctrl, nil, logger)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := ld.LoadAll(ctx); err != nil {
			logger.Error("Failed to load catalog", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		purgeTombstones(ctx, store, cfg.Store, logger)
	}()

	gin.SetMode(gin.ReleaseMode)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: httphandler.NewRouter(h, cfg.API.CORSOrigins),
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reporter.HTTPHandler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		logger.Info("Received signal, attempting graceful shutdown", zap.Any("signal", s))
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop API server", zap.Error(err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop metrics server", zap.Error(err))
		}
	}()

	if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to serve API", zap.Error(err))
	}
	wg.Wait()
	logger.Info("Gracefully stopped the movie replica")
}

func openRepository(ctx context.Context, cfg storeConfig) (replica.Repository, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.Dir, cfg.Name)
	case "redis":
		return redis.New(ctx, cfg.RedisAddr, cfg.Name)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func newFeedSource(cfg feedConfig) gateway.FeedSource {
	switch cfg.Driver {
	case "websocket":
		return wsfeed.New(cfg.URL, cfg.ReadTimeout)
	case "kafka":
		return kafkafeed.New(cfg.Kafka.Addr, cfg.Kafka.GroupID, cfg.Kafka.Topic)
	}
	return nil
}

// runFeed keeps the listener running. With a positive interval, lost
// connections are retried at most once per interval.
func runFeed(ctx context.Context, l *feed.Listener, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		if err := l.Run(ctx); err != nil {
			logger.Error("Change feed stopped", zap.Error(err))
		}
		return
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		err := l.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		var cerr *feed.ConnectionError
		if !errors.As(err, &cerr) {
			logger.Error("Change feed stopped", zap.Error(err))
			return
		}
		logger.Warn("Change feed lost, reconnecting", zap.Error(err), zap.Duration("interval", interval))
	}
}

func purgeTombstones(ctx context.Context, store *replica.Store, cfg storeConfig, logger *zap.Logger) {
	if cfg.TombstoneTTL <= 0 || cfg.PurgeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx, cfg.TombstoneTTL)
			if err != nil {
				logger.Error("Failed to purge tombstones", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Purged tombstones", zap.Int("count", n))
			}
		}
	}
}
