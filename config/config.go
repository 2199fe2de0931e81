package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config carries every knob the pipeline needs. It is built once in main
// via Load and handed to constructors; nothing reads the environment after
// startup.
type Config struct {
	// HTTP API
	Port string

	// Task queue (Kafka)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Delayed dispatch (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ScheduleKey   string

	// Job store
	DatabasePath string

	// Managed directories. Files outside these are never touched by
	// cleanup, whatever the store says.
	DownloadDir string
	ClipsDir    string

	// Media defaults
	DefaultResolution string
	ClipMinDuration   float64
	ClipManualMax     float64
	ShortAspectRatio  float64
	MediaTimeout      time.Duration

	// Tool services
	YTDLPPath          string
	WhisperURL         string
	CohereAPIKey       string
	CohereModel        string
	YouTubeAPIKey      string
	YouTubeCredentials string

	// Optional clip archive
	S3Bucket       string
	S3Region       string
	S3Prefix       string
	S3UsePathStyle bool
}

// Load assembles a Config from environment variables, applying the same
// defaults the service has always shipped with.
func Load() Config {
	cwd, _ := os.Getwd()

	cfg := Config{
		Port: GetEnvOrDefault("PORT", "8080"),

		KafkaBrokers: splitCSV(GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   GetEnvOrDefault("KAFKA_TASK_TOPIC", "clip.tasks"),
		KafkaGroupID: GetEnvOrDefault("KAFKA_GROUP_ID", "clipsmith-workers"),

		RedisAddr:     GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASS"),
		RedisDB:       envInt("REDIS_DB", 0),
		ScheduleKey:   GetEnvOrDefault("SCHEDULE_KEY", "clipsmith:scheduled"),

		DatabasePath: GetEnvOrDefault("DATABASE_PATH", filepath.Join(cwd, "instance", "videos.db")),
		DownloadDir:  GetEnvOrDefault("DOWNLOAD_DIR", filepath.Join(cwd, "downloads")),
		ClipsDir:     GetEnvOrDefault("PROCESSED_CLIPS_DIR", filepath.Join(cwd, "processed_clips")),

		DefaultResolution: GetEnvOrDefault("DEFAULT_RESOLUTION", "480p"),
		ClipMinDuration:   envFloat("CLIP_MIN_DURATION_SECONDS", 1.5),
		ClipManualMax:     envFloat("CLIP_MANUAL_MAX_DURATION_SECONDS", 120.0),
		ShortAspectRatio:  envFloat("SHORT_CLIP_ASPECT_RATIO", 9.0/16.0),
		MediaTimeout:      envDuration("MEDIA_TIMEOUT_SECONDS", 2*time.Hour),

		YTDLPPath:          GetEnvOrDefault("YTDLP_PATH", "yt-dlp"),
		WhisperURL:         GetEnvOrDefault("WHISPER_URL", "http://localhost:9000"),
		CohereAPIKey:       os.Getenv("COHERE_API_KEY"),
		CohereModel:        GetEnvOrDefault("COHERE_MODEL", "command-r-08-2024"),
		YouTubeAPIKey:      os.Getenv("YOUTUBE_API_KEY"),
		YouTubeCredentials: os.Getenv("YOUTUBE_SERVICE_ACCOUNT_FILE"),

		S3Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Region:       strings.TrimSpace(os.Getenv("S3_REGION")),
		S3Prefix:       strings.Trim(strings.TrimSpace(os.Getenv("S3_PREFIX")), "/"),
		S3UsePathStyle: strings.EqualFold(os.Getenv("S3_USE_PATH_STYLE"), "true"),
	}
	return cfg
}

// ManagedDirs lists the directories cleanup is allowed to delete under.
func (c Config) ManagedDirs() []string {
	return []string{c.DownloadDir, c.ClipsDir}
}

// EnsureDirs creates the directories the pipeline writes into.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{filepath.Dir(c.DatabasePath), c.DownloadDir, c.ClipsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// GetEnvOrDefault returns the environment variable value or a fallback.
func GetEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
