// Package notify publishes unlock events to the content-serving layer.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/abhisek/pathwise/internal/logger"
)

// UnlockEvent reports content that became accessible after a progress
// update.
type UnlockEvent struct {
	StudentID string    `json:"student_id"`
	TriggerID string    `json:"trigger_content_id"`
	Unlocked  []string  `json:"unlocked_content_ids"`
	At        time.Time `json:"at"`
}

// Publisher delivers unlock events. Delivery is best effort; callers log
// failures and carry on.
type Publisher interface {
	PublishUnlock(ctx context.Context, ev UnlockEvent) error
	Close() error
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL.
	URL     string
	Channel string
}

// DefaultChannel is used when RedisConfig.Channel is empty.
const DefaultChannel = "pathwise.unlocks"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, log *logger.Logger) (*RedisPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("missing redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = DefaultChannel
	}

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{
		log:     logger.OrNop(log).With("service", "RedisUnlockPublisher"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (p *RedisPublisher) PublishUnlock(ctx context.Context, ev UnlockEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.log.Debug("unlock published", "student", ev.StudentID, "count", len(ev.Unlocked))
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// LogPublisher writes events to the log. It is the default when no broker
// is configured.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: logger.OrNop(log)}
}

func (p *LogPublisher) PublishUnlock(_ context.Context, ev UnlockEvent) error {
	p.log.Info("content unlocked", "student", ev.StudentID, "trigger", ev.TriggerID, "unlocked", ev.Unlocked)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps events in memory. Used in tests and by the CLI to report
// what a command unlocked.
type Recorder struct {
	mu     sync.Mutex
	events []UnlockEvent
}

func (r *Recorder) PublishUnlock(_ context.Context, ev UnlockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []UnlockEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UnlockEvent, len(r.events))
	copy(out, r.events)
	return out
}
