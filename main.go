package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"kanban-api/api"
	"kanban-api/cleanup"
	"kanban-api/config"
	"kanban-api/identity"
	"kanban-api/storage"
	"kanban-api/stream"
	"kanban-api/summary"
	"kanban-api/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(cfg.Redis)

	table, err := storage.NewTaskTable(cfg.StorageConnection, cfg.TasksTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var (
		images     *storage.ImageStore
		enqueuer   tasks.CleanupEnqueuer
		apiImages  api.Images
		background sync.WaitGroup
	)
	if cfg.Images() {
		images, err = storage.NewImageStore(cfg.StorageConnection, cfg.ImageContainer)
		if err != nil {
			log.Fatalf("images: %v", err)
		}
		queue, err := storage.NewCleanupQueue(cfg.StorageConnection, cfg.CleanupQueue)
		if err != nil {
			log.Fatalf("cleanup queue: %v", err)
		}
		enqueuer = queue
		apiImages = images
		worker := cleanup.NewWorker(queue, images, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			cleanup.RunPool(ctx, worker, cfg.CleanupWorkers)
		}()
	}

	taskSvc := tasks.NewService(storage.NewCache(table, rc, cfg.TasksCacheTTL), enqueuer, logger)
	taskSvc.SetNotifier(stream.NewPublisher(rc, stream.DefaultChannel))
	changes := stream.NewBroker()
	background.Add(1)
	go func() {
		defer background.Done()
		stream.Listen(ctx, logger, rc, stream.DefaultChannel, changes)
	}()

	var gen summary.Generator
	if cfg.LLM() {
		llm, err := summary.NewLLMGenerator(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			log.Fatalf("llm: %v", err)
		}
		gen = llm
	} else {
		log.Info("OPENAI_API_KEY not set, summaries use the fallback message")
	}

	deps := api.Deps{
		Tasks:   taskSvc,
		Summary: summary.NewService(gen, logger),
		Images:  apiImages,
		Changes: changes,
		Deduper: api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Health:  func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		Log:     logger,
	}

	if cfg.SessionSecret != nil {
		users, err := storage.NewUserTable(cfg.StorageConnection, cfg.UsersTable)
		if err != nil {
			log.Fatalf("users: %v", err)
		}
		ids := identity.NewService(users, rc, cfg.SessionSecret, cfg.SessionTTL, logger)
		deps.Identity = ids
		deps.Auth = api.NewSessionAuth(ids)
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:             ctx,
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		deps.Auth = api.NewJWKSAuth(jwks, cfg.AuthAudience, cfg.AuthIssuer, 0)
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.RegisterOnShutdown(changes.Close)
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  cfg.AllowOrigins,
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "If-Match", "Idempotency-Key"},
		ExposeHeaders: []string{"ETag"},
	}))
	e.Use(echoprometheus.NewMiddleware("kanban"))
	e.GET("/metrics", echoprometheus.NewHandler())
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, deps)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	background.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown failed")
	}
	if err := rc.Close(); err != nil {
		log.WithError(err).Warn("redis close failed")
	}
}
