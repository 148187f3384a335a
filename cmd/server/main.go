package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailblast/internal/api"
	"github.com/ignite/mailblast/internal/config"
	"github.com/ignite/mailblast/internal/dispatch"
	"github.com/ignite/mailblast/internal/event"
	"github.com/ignite/mailblast/internal/pkg/distlock"
	"github.com/ignite/mailblast/internal/progress"
	"github.com/ignite/mailblast/internal/repository/postgres"
	campaignsvc "github.com/ignite/mailblast/internal/service/campaign"
	contactsvc "github.com/ignite/mailblast/internal/service/contact"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Warning: Redis unreachable, progress cache disabled: %v", err)
			redisClient = nil
		}
	}

	campaignRepo := postgres.NewCampaignRepo(db)
	recipientRepo := postgres.NewRecipientRepo(db)
	contactRepo := postgres.NewContactRepo(db)
	queue := dispatch.NewQueue(db)

	var cache campaignsvc.ProgressCache
	if redisClient != nil {
		cache = progress.NewCache(redisClient, cfg.Progress.TTL())
	}

	events := event.NewPublisher()
	if redisClient != nil {
		events.Subscribe(event.NewRedisSink(redisClient))
	}

	newLock := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	}
	batcher := dispatch.NewBatcher(recipientRepo, campaignRepo, queue, newLock, cfg.Dispatch)

	campaignService := campaignsvc.NewService(campaignRepo, recipientRepo, batcher, queue, cache, events)
	contactService := contactsvc.NewService(contactRepo)

	server := api.NewServer(campaignService, contactService)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("API server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
