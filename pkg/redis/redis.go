package redis

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

const (
	SessionsKey      = "gestureconnect:sessions"
	sessionKeyPrefix = "gestureconnect:session:"
	commandTimeout   = 2 * time.Second
)

type Config struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// commander is the subset of *redis.Client used here.
type commander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client publishes recognized predictions to a pub/sub channel and mirrors
// the set of live sessions into a Redis set.
type Client struct {
	log     *logrus.Logger
	client  commander
	channel string
}

func New(log *logrus.Logger, cfg Config) *Client {
	log.Info(fmt.Sprintf("Connecting to Redis at %s...", cfg.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		log.Info("Successfully connected to Redis")
	}

	return newClient(log, client, cfg.Channel)
}

func newClient(log *logrus.Logger, c commander, channel string) *Client {
	return &Client{log: log, client: c, channel: channel}
}

func (r *Client) Publish(ctx context.Context, event entity.PredictionEvent) error {
	payload, err := jsoniter.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction event: %w", err)
	}

	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}

	r.log.WithFields(logrus.Fields{
		"channel":    r.channel,
		"session_id": event.SessionID,
		"action":     event.Action,
		"receivers":  receivers,
	}).Debug("Prediction published to Redis")
	return nil
}

func (r *Client) SessionCreated(ctx context.Context, info entity.SessionInfo) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := r.client.SAdd(ctx, SessionsKey, info.ID).Err(); err != nil {
		r.log.Error(fmt.Sprintf("Error tracking session %s: %v", info.ID, err))
		return
	}

	err := r.client.HSet(ctx, sessionKey(info.ID),
		"transport", info.Transport,
		"window_capacity", info.WindowCapacity,
		"created_at", info.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		r.log.Error(fmt.Sprintf("Error storing session info for %s: %v", info.ID, err))
	}
}

func (r *Client) SessionDestroyed(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := r.client.SRem(ctx, SessionsKey, id).Err(); err != nil {
		r.log.Error(fmt.Sprintf("Error untracking session %s: %v", id, err))
	}
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		r.log.Error(fmt.Sprintf("Error deleting session info for %s: %v", id, err))
	}
}

func (r *Client) Close() error {
	return r.client.Close()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
