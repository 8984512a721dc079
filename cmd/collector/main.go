package main

import (
	"context"
	"os/signal"
	"syscall"

	"btc-stream/internal/collector"
	"btc-stream/internal/config"
	"btc-stream/internal/db"
	"btc-stream/internal/logging"
	"btc-stream/internal/repository"
	"btc-stream/pkg/tracing"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	setupLoggingFunc = logging.Setup
	initTracerFunc   = tracing.InitTracer
	newSessionFunc   = func(dsn string) *db.Session {
		return db.NewSession(db.PostgresDialer(dsn))
	}
	newQuoteSourceFunc = func(baseURL string) collector.QuoteSource {
		return collector.NewBinanceClient(baseURL)
	}
	runCollectorFunc  = func(ctx context.Context, c *collector.Collector) { c.Start(ctx) }
	notifyContextFunc = signal.NotifyContext
)

// The collector is the producer side of the pipeline: it samples the exchange
// and appends rows to the current day table for the server to stream.
func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()
	setupLoggingFunc(cfg.LogLevel, cfg.LogFormat)

	location, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid timezone: %v", err)
	}

	ctx, stop := notifyContextFunc(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := initTracerFunc(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	session := newSessionFunc(cfg.DatabaseURL)
	if err := session.Connect(ctx); err != nil {
		log.WithError(err).Warn("store not reachable at startup")
	}
	defer session.Close()

	repo := repository.NewPointRepository(session, tracer)
	c := collector.NewCollector(tracer, newQuoteSourceFunc(cfg.BinanceBaseURL), repo, session, collector.Options{
		Symbol:     cfg.CollectorSymbol,
		Prefix:     cfg.TablePrefix,
		Interval:   cfg.CollectorInterval(),
		DepthLimit: cfg.CollectorDepthLimit,
		Location:   location,
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		runCollectorFunc(gctx, c)
		return nil
	})
	if err := group.Wait(); err != nil {
		log.WithError(err).Error("collector stopped with error")
	}
	log.Println("Collector exiting")
}
