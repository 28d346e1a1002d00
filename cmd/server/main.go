package main

import (
	"context"
	"fmt"
	"log"
	"time"

	httpAdapter "github.com/atendezap/zapbridge/internal/adapters/http"
	redisAdapter "github.com/atendezap/zapbridge/internal/adapters/redis"
	"github.com/atendezap/zapbridge/internal/adapters/sqlite"
	"github.com/atendezap/zapbridge/internal/adapters/whatsapp"
	"github.com/atendezap/zapbridge/internal/config"
	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/events"
	"github.com/atendezap/zapbridge/internal/logging"
	"github.com/atendezap/zapbridge/internal/sessions"
	"github.com/atendezap/zapbridge/internal/tenants"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	store, err := sqlite.NewRepository(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}

	sessionStore := buildSessionStore(cfg, logger)
	gateway := whatsapp.NewClient(cfg, logger)
	bus := events.NewBus()
	registry := tenants.NewRegistry(cfg.TenantRegistry, sessionStore, logger)

	handler := httpAdapter.NewHandler(*cfg, gateway, store, registry, bus, logger)
	devHandler := httpAdapter.NewDevHandler(store, registry, bus, logger)

	app := fiber.New(fiber.Config{
		AppName: "zapbridge",
	})
	app.Use(recover.New())

	app.Get("/", handler.VerifyWebhook)
	app.Post("/", handler.ReceiveMessage)
	app.Post("/send", handler.SendMessage)
	app.Get("/health", handler.Health)

	app.Post("/dev/simulate", devHandler.Simulate)
	app.Get("/dev/history", devHandler.History)
	app.Get("/dev/messages", devHandler.Messages)
	app.Get("/dev/stream", devHandler.Stream)
	app.Get("/panel/api/messages", devHandler.PanelMessages)
	app.Get("/panel/api/contacts/recent", devHandler.PanelContacts)

	logger.Info("server.starting", logging.Fields{
		"port":          cfg.Port,
		"env":           cfg.ConfigName,
		"dry_run":       cfg.DryRun,
		"graph_version": cfg.GraphVersion,
	})

	if err := app.Listen(fmt.Sprintf(":%s", cfg.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildSessionStore uses Redis when REDIS_URL is configured and falls back
// to the in-memory store otherwise.
func buildSessionStore(cfg *config.Config, logger *logging.Logger) core.SessionStore {
	if cfg.RedisURL == "" {
		logger.Info("sessions.memory_store", nil)
		return sessions.NewMemoryStore(nil)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	logger.Info("sessions.redis_store", nil)
	return redisAdapter.NewSessionStore(rdb, nil)
}
