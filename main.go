package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"clipsmith/api"
	"clipsmith/common"
	"clipsmith/config"
	"clipsmith/download"
	"clipsmith/queue"
	"clipsmith/store"
)

func main() {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("❌ Failed to create working directories: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to open job store: %v", err)
	}
	log.Printf("✅ Job store ready at %s", cfg.DatabasePath)

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		RedisAddr:   cfg.RedisAddr,
		RedisPass:   cfg.RedisPassword,
		RedisDB:     cfg.RedisDB,
		ScheduleKey: cfg.ScheduleKey,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to task queue: %v", err)
	}
	defer producer.Close()

	guard := common.NewPathGuard(cfg.ManagedDirs())

	// Title lookup is best-effort; submissions fall back to the raw URL
	// as the title when YouTube credentials are absent.
	titles, err := download.NewTitleLookup(context.Background(), cfg.YouTubeAPIKey, cfg.YouTubeCredentials)
	if err != nil {
		log.Printf("⚠️  YouTube title lookup unavailable: %v", err)
		titles = nil
	}

	ctrl := api.NewControllers(cfg, st, producer, guard, titles)
	r := api.NewRouter(ctrl)

	log.Printf("Starting API server on :%s", cfg.Port)
	log.Println("API endpoints available:")
	log.Println("  GET    /health")
	log.Println("  POST   /api/videos")
	log.Println("  GET    /api/videos")
	log.Println("  GET    /api/videos/status")
	log.Println("  GET    /api/videos/errors")
	log.Println("  GET    /api/videos/:id")
	log.Println("  POST   /api/videos/:id/reprocess")
	log.Println("  POST   /api/videos/:id/batch-cut")
	log.Println("  POST   /api/videos/:id/clips")
	log.Println("  DELETE /api/videos")
	log.Println("  GET    /api/speakers")
	log.Println("  POST   /api/speakers")

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
