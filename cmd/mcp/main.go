package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"btc-stream/internal/cache"
	"btc-stream/internal/config"
	"btc-stream/internal/db"
	"btc-stream/internal/logging"
	mcpserver "btc-stream/internal/mcp"
	"btc-stream/internal/repository"
	"btc-stream/internal/service"
	"btc-stream/pkg/tracing"

	"github.com/joho/godotenv"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	setupLoggingFunc = logging.Setup
	initTracerFunc   = tracing.InitTracer
	newSessionFunc   = func(dsn string) *db.Session {
		return db.NewSession(db.PostgresDialer(dsn))
	}
	initRedisFunc    = cache.InitRedis
	newMCPServerFunc = mcpserver.NewServer
	runStdioFunc     = func(ctx context.Context, server *sdkmcp.Server) error {
		return server.Run(ctx, &sdkmcp.StdioTransport{})
	}
	notifyContextFunc = ossignal.NotifyContext
)

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()
	setupLoggingFunc(cfg.LogLevel, cfg.LogFormat)
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

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
	defer session.Close()

	var tableCache service.TableCache
	redisClient, err := initRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("continuing without Redis")
	} else if redisClient != nil {
		defer redisClient.Close()
		tableCache = cache.NewTableCache(redisClient, cfg.TableCacheTTL())
	}

	repo := repository.NewPointRepository(session, tracer)
	queries := service.NewQueryService(tracer, repo, tableCache, service.QueryServiceConfig{
		Prefix:   cfg.TablePrefix,
		Location: location,
	})

	mcpSrv := newMCPServerFunc(tracer, queries, mcpserver.ServerConfig{
		RequestTimeout: cfg.MCPRequestTimeout(),
	})
	if err := runStdioFunc(ctx, mcpSrv); err != nil && ctx.Err() == nil {
		log.Fatalf("mcp stdio server failed: %v", err)
	}
}
