package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailblast/internal/config"
	"github.com/ignite/mailblast/internal/dispatch"
	"github.com/ignite/mailblast/internal/event"
	"github.com/ignite/mailblast/internal/progress"
	"github.com/ignite/mailblast/internal/repository/postgres"
	"github.com/ignite/mailblast/internal/transport"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mail, err := transport.New(ctx, cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to build mail transport: %v", err)
	}
	log.Printf("Mail transport: %s", mail.Name())

	events := event.NewPublisher()
	var cache dispatch.ProgressWriter
	if redisClient != nil {
		cache = progress.NewCache(redisClient, cfg.Progress.TTL())
		events.Subscribe(event.NewRedisSink(redisClient))
	}

	queue := dispatch.NewQueue(db)
	worker := dispatch.NewWorker(
		queue,
		postgres.NewCampaignRepo(db),
		postgres.NewRecipientRepo(db),
		postgres.NewContactRepo(db),
		mail,
		cache,
		events,
		cfg.Dispatch,
	)
	worker.Start(ctx)

	recovery := dispatch.NewRecovery(queue, time.Minute, 10*time.Minute)
	go recovery.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Draining workers...")
	cancel()
	worker.Stop()
	log.Println("Worker shut down")
}
