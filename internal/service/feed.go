package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"league-jobs-service/internal/jobs"
)

// FeedChannel is the Redis pub/sub channel carrying job progress events.
const FeedChannel = "jobs:events"

// RedisFeed publishes job progress to Redis for the UI's live progress
// view. The feed is best-effort: the jobs table remains the source of
// truth, so subscribers that miss an event fall back to polling.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb, channel: FeedChannel}
}

func (f *RedisFeed) Notify(ctx context.Context, ev jobs.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, raw).Err()
}
