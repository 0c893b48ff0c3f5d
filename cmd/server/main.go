package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EddyChen/diagno-core/common/id"
	"github.com/EddyChen/diagno-core/common/llm"
	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/common/otel"
	"github.com/EddyChen/diagno-core/core/config"
	"github.com/EddyChen/diagno-core/core/db"
	"github.com/EddyChen/diagno-core/internal/http/middleware"
	httprouter "github.com/EddyChen/diagno-core/internal/http/router"
	"github.com/EddyChen/diagno-core/internal/pipeline"
	"github.com/EddyChen/diagno-core/internal/queue"
	"github.com/EddyChen/diagno-core/internal/service"
	"github.com/EddyChen/diagno-core/internal/settings"
	"github.com/EddyChen/diagno-core/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "diagno starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"storage", cfg.Storage.Backend)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var backends store.Backends

	if cfg.Storage.Backend == config.BackendPostgres {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "database connected")
		backends.DB = database
	}

	redisClient := connectRedis(ctx, cfg)
	if redisClient != nil {
		backends.Redis = redisClient
	}

	kv, err := store.NewKV(cfg.Storage, backends)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			slog.ErrorContext(ctx, "storage close error", "error", err)
		}
	}()

	settingsStore := settings.NewStore(kv)
	stores := store.NewStores(kv, settingsStore)

	// Stage deadlines come from the runtime settings; the client itself never times out.
	httpClient := &http.Client{}
	generators := llm.Registry{
		llm.ProtocolGenerate: llm.NewOllama(httpClient),
		llm.ProtocolOpenAI:   llm.NewOpenAI(cfg.AnalysisLLM.APIKey, httpClient),
	}
	orchestrator := pipeline.New(generators, settingsStore, stores.Issues(), stores.Audit())

	// The redis producer owns the client and closes it on shutdown.
	var producer queue.Producer
	if redisClient != nil {
		producer = queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
		slog.InfoContext(ctx, "report forwarding enabled", "stream", cfg.Pipeline.RedisStream)
	} else {
		producer = queue.NewNoopProducer()
		slog.InfoContext(ctx, "report forwarding disabled (no redis)")
	}
	defer producer.Close()

	services := service.NewServices(stores, settingsStore, orchestrator, producer)

	if _, err := services.Settings().Load(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to load settings", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A capture holds the request open for both model stages.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// connectRedis returns nil when redis is neither the storage backend nor
// reachable for report forwarding. A redis storage backend makes it mandatory.
func connectRedis(ctx context.Context, cfg config.Config) *redis.Client {
	required := cfg.Storage.Backend == config.BackendRedis
	if !cfg.Pipeline.Enabled() {
		if required {
			slog.ErrorContext(ctx, "redis storage selected but REDIS_URL is empty")
			os.Exit(1)
		}
		return nil
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		if required {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.WarnContext(ctx, "redis unreachable, continuing without report forwarding", "error", err)
		_ = client.Close()
		return nil
	}
	slog.InfoContext(ctx, "redis connected")
	return client
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services)

	return router
}

const banner = `
 ____ ___    _    ____ _   _  ___
|  _ \_ _|  / \  / ___| \ | |/ _ \
| | | | |  / _ \| |  _|  \| | | | |
| |_| | | / ___ \ |_| | |\  | |_| |
|____/___/_/   \_\____|_| \_|\___/
`
