package queue

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scheduler moves due envelopes from the Redis delay set onto the Kafka
// topic. One instance runs inside each worker process; ZREM makes the
// hand-off exclusive when several workers race on the same member.
type Scheduler struct {
	rdb      *redis.Client
	enqueuer Enqueuer
	key      string
	interval time.Duration
}

// NewScheduler creates a scheduler polling the given delay set.
func NewScheduler(rdb *redis.Client, enqueuer Enqueuer, key string) *Scheduler {
	return &Scheduler{
		rdb:      rdb,
		enqueuer: enqueuer,
		key:      key,
		interval: time.Second,
	}
}

// Run polls for due envelopes until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("✅ Delay scheduler started (key: %s, every %s)", s.key, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Delay scheduler stopped")
			return
		case <-ticker.C:
			if err := s.pump(ctx); err != nil && ctx.Err() == nil {
				log.Printf("❌ Delay scheduler pump error: %v", err)
			}
		}
	}
}

// pump publishes every envelope whose due time has passed.
func (s *Scheduler) pump(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		// Claim before publishing; the loser of the race skips.
		removed, err := s.rdb.ZRem(ctx, s.key, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		env, err := DecodeEnvelope([]byte(member))
		if err != nil {
			log.Printf("❌ Dropping undecodable scheduled task: %v", err)
			continue
		}

		if err := s.enqueuer.Enqueue(ctx, env); err != nil {
			// Put it back so the task is not lost.
			log.Printf("❌ Failed to publish scheduled %s task %s, requeueing: %v", env.Kind, env.ID, err)
			s.rdb.ZAdd(ctx, s.key, redis.Z{
				Score:  float64(time.Now().UnixMilli()),
				Member: member,
			})
		}
	}
	return nil
}
