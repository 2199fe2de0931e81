package queue

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
)

// Enqueuer is the write side of the task queue. Task handlers depend on this
// interface rather than on Kafka so tests can capture dispatches in memory.
type Enqueuer interface {
	Enqueue(ctx context.Context, env Envelope) error
	EnqueueIn(ctx context.Context, env Envelope, delay time.Duration) error
	EnqueueGroup(ctx context.Context, envs []Envelope) error
}

// Producer publishes task envelopes to Kafka. Delayed envelopes park in a
// Redis sorted set (scored by due time) until the scheduler pumps them onto
// the topic.
type Producer struct {
	producer    sarama.SyncProducer
	rdb         *redis.Client
	topic       string
	scheduleKey string
}

// ProducerConfig holds task producer configuration.
type ProducerConfig struct {
	Brokers     []string
	Topic       string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	ScheduleKey string
}

// NewProducer creates a producer connected to Kafka and Redis.
func NewProducer(config ProducerConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("connect Kafka producer: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPass,
		DB:       config.RedisDB,
	})

	return &Producer{
		producer:    producer,
		rdb:         rdb,
		topic:       config.Topic,
		scheduleKey: config.ScheduleKey,
	}, nil
}

// Enqueue publishes one envelope immediately. Messages are keyed by video id
// so all work for one video lands on the same partition.
func (p *Producer) Enqueue(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(env.VideoID), 10)),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s task for video %d: %w", env.Kind, env.VideoID, err)
	}

	log.Printf("📤 Enqueued %s task %s (video=%d, attempt=%d, partition=%d, offset=%d)",
		env.Kind, env.ID, env.VideoID, env.Attempt, partition, offset)
	return nil
}

// EnqueueIn schedules an envelope to be published after the delay. A zero or
// negative delay publishes immediately.
func (p *Producer) EnqueueIn(ctx context.Context, env Envelope, delay time.Duration) error {
	if delay <= 0 {
		return p.Enqueue(ctx, env)
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	due := time.Now().Add(delay)
	if err := p.rdb.ZAdd(ctx, p.scheduleKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("schedule %s task for video %d: %w", env.Kind, env.VideoID, err)
	}

	log.Printf("⏲️  Scheduled %s task %s (video=%d, attempt=%d) for %s",
		env.Kind, env.ID, env.VideoID, env.Attempt, due.Format(time.RFC3339))
	return nil
}

// EnqueueGroup publishes a set of envelopes, stopping at the first failure.
func (p *Producer) EnqueueGroup(ctx context.Context, envs []Envelope) error {
	for i, env := range envs {
		if err := p.Enqueue(ctx, env); err != nil {
			return fmt.Errorf("enqueue group item %d/%d: %w", i+1, len(envs), err)
		}
	}
	return nil
}

// Close shuts down the Kafka producer and the Redis connection.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		p.rdb.Close()
		return err
	}
	return p.rdb.Close()
}
