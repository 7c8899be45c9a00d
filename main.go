package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/api"
	"github.com/zlnvch/artstudio/cache"
	"github.com/zlnvch/artstudio/cache/redis"
	"github.com/zlnvch/artstudio/config"
	"github.com/zlnvch/artstudio/mq"
	"github.com/zlnvch/artstudio/mq/sqsmq"
	"github.com/zlnvch/artstudio/store"
	"github.com/zlnvch/artstudio/store/dynamo"
	"github.com/zlnvch/artstudio/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

type artStore interface {
	store.ProjectStore
	store.SessionStore
}

func main() {
	// .env is optional; the environment wins
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	setupLogging(cfg)

	ctx := context.Background()

	var artStudioStore artStore
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		sqliteStore, err := sqlite.NewSQLiteArtStore(cfg.SQLitePath)
		if err != nil {
			log.WithError(err).Fatal("failed to open sqlite store")
		}
		defer sqliteStore.Close()
		artStudioStore = sqliteStore
	default:
		dynamoStore, err := dynamo.NewDynamoArtStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
		if err != nil {
			log.WithError(err).Fatal("failed to create dynamodb store")
		}
		artStudioStore = dynamoStore
	}

	var artCache cache.ArtCache
	if cfg.RedisEndpoint != "" {
		redisCache, err := redis.NewRedisArtCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
		if err != nil {
			log.WithError(err).Fatal("failed to create redis cache")
		}
		defer redisCache.Close()
		artCache = redisCache
	} else {
		log.Warn("REDIS_ENDPOINT not set: project cache and version notifications disabled")
	}

	var cleanupQueue mq.MessageQueue
	if cfg.SQSEndpoint != "" || !cfg.DevMode {
		sqsQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.SQSCleanupQueue)
		if err != nil {
			log.WithError(err).Fatal("failed to create SQS queue")
		}
		cleanupQueue = sqsQueue
	} else {
		log.Warn("SQS_ENDPOINT not set: failed session writes will not be retried")
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	artStudioAPI, err := api.NewArtStudioAPI(artStudioStore, artStudioStore, artCache, cleanupQueue, cfg, shutdownCtx)
	if err != nil {
		log.WithError(err).Fatal("failed to create art studio api")
	}

	mux := http.NewServeMux()
	artStudioAPI.RegisterRoutes(mux, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:    ":" + cfg.HostPort,
		Handler: mux,
	}

	go func() {
		log.WithField("host_port", cfg.HostPort).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-shutdownCtx.Done()
	log.Info("server shutting down...")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}
	artStudioAPI.Drain(drainCtx)

	log.Info("server stopped")
}

func setupLogging(cfg config.Config) {
	if !cfg.DevMode {
		log.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
