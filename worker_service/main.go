package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"clipsmith/archive"
	"clipsmith/config"
	"clipsmith/download"
	"clipsmith/media"
	"clipsmith/metadata"
	"clipsmith/queue"
	"clipsmith/store"
	"clipsmith/tasks"
	"clipsmith/transcribe"
)

func main() {
	// Load environment variables
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

	rc := tasks.RunnerConfig{
		Config:      cfg,
		Store:       st,
		Queue:       producer,
		Media:       media.NewTools(cfg.MediaTimeout, cfg.ShortAspectRatio),
		Downloader:  download.NewDownloader(cfg.YTDLPPath, cfg.DownloadDir),
		Transcriber: transcribe.NewClient(cfg.WhisperURL),
	}

	// Optional services stay nil interfaces when unconfigured; assigning
	// a nil concrete pointer here would make the interface non-nil.
	if gen := metadata.NewGenerator(cfg.CohereAPIKey, cfg.CohereModel); gen != nil {
		rc.Metadata = gen
		log.Printf("✅ Metadata generation enabled (model: %s)", cfg.CohereModel)
	} else {
		log.Println("⚠️  COHERE_API_KEY not set; metadata generation disabled")
	}

	arch, err := archive.New(context.Background(), archive.Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Prefix:       cfg.S3Prefix,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		log.Printf("⚠️  Clip archive unavailable: %v", err)
	} else if arch != nil {
		rc.Archiver = arch
		log.Printf("✅ Clip archive enabled (bucket: %s)", cfg.S3Bucket)
	}

	runner := tasks.NewRunner(rc)

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
		Handler: runner,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create task consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start task consumer: %v", err)
	}

	// Pump due delayed tasks back onto the topic.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	scheduler := queue.NewScheduler(rdb, producer, cfg.ScheduleKey)
	go scheduler.Run(ctx)

	log.Println("🤖 Worker running")
	log.Printf("   Kafka:     %v (topic: %s, group: %s)", cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	log.Printf("   Redis:     %s (schedule key: %s)", cfg.RedisAddr, cfg.ScheduleKey)
	log.Printf("   Whisper:   %s", cfg.WhisperURL)
	log.Printf("   Downloads: %s", cfg.DownloadDir)
	log.Printf("   Clips:     %s", cfg.ClipsDir)
	log.Println("\nPress Ctrl+C to shutdown")

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	if err := consumer.Close(); err != nil {
		log.Printf("Task consumer close error: %v", err)
	}
	log.Println("Worker stopped")
}
