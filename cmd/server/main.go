package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"btc-stream/internal/bot"
	"btc-stream/internal/broadcast"
	"btc-stream/internal/cache"
	"btc-stream/internal/config"
	"btc-stream/internal/db"
	"btc-stream/internal/handler"
	"btc-stream/internal/job"
	"btc-stream/internal/logging"
	"btc-stream/internal/repository"
	"btc-stream/internal/service"
	"btc-stream/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	_ "btc-stream/docs"
)

const (
	shutdownTimeout = 5 * time.Second
	checkpointTTL   = 48 * time.Hour
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	setupLoggingFunc = logging.Setup
	initTracerFunc   = tracing.InitTracer
	newSessionFunc   = func(dsn string) *db.Session {
		return db.NewSession(db.PostgresDialer(dsn))
	}
	initRedisFunc          = cache.InitRedis
	startTelegramBotFunc   = bot.StartTelegramBot
	runPollerFunc          = func(ctx context.Context, p *job.CursorPoller) { p.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           BTC Stream API
// @version         1.0
// @description     Live BTC price points over WebSocket plus day-table queries.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	setupLoggingFunc(cfg.LogLevel, cfg.LogFormat)

	location, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid timezone: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Store session; an unreachable store at startup is retried on first use
	session := newSessionFunc(cfg.DatabaseURL)
	if err := session.Connect(ctx); err != nil {
		log.WithError(err).Warn("store not reachable at startup")
	}
	defer session.Close()

	redisClient, err := initRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("continuing without Redis")
		redisClient = nil
	}

	repo := repository.NewPointRepository(session, tracer)

	var tableCache service.TableCache
	var checkpoints job.CheckpointStore
	if redisClient != nil {
		defer redisClient.Close()
		tableCache = cache.NewTableCache(redisClient, cfg.TableCacheTTL())
		if cfg.ResumeEnabled() {
			checkpoints = cache.NewCheckpointStore(redisClient, checkpointTTL)
			log.Println("watermark resume enabled")
		}
	}

	queries := service.NewQueryService(tracer, repo, tableCache, service.QueryServiceConfig{
		Prefix:   cfg.TablePrefix,
		Location: location,
	})
	hub := broadcast.NewBroadcaster()

	var health job.HealthListener
	alerts := startTelegramBotFunc(cfg.TelegramBotToken, queries)
	if alerts != nil {
		health = alerts
	}

	poller := job.NewCursorPoller(tracer, repo, hub, session, job.CursorPollerOptions{
		Prefix:      cfg.TablePrefix,
		Interval:    cfg.PollInterval(),
		Location:    location,
		Checkpoints: checkpoints,
		Health:      health,
	})

	h := handler.New(tracer, queries, hub, repo, handler.Config{
		WebDir:     cfg.WebDir,
		SendBuffer: cfg.WSSendBuffer,
	})

	r := newRouterFunc()
	r.Use(otelgin.Middleware(tracing.ServiceName))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		runPollerFunc(gctx, poller)
		return nil
	})
	group.Go(func() error {
		log.Printf("listening on %s", srv.Addr)
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		err := shutdownHTTPServerFunc(srv, shutdownCtx)
		hub.CloseAll()
		alerts.Stop()
		return errors.Wrap(err, "server forced to shutdown")
	})

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		waitForSignalFunc(quit)
		log.Println("Shutting down server...")
		cancel()
	}()

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}
	log.Println("Server exiting")
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
