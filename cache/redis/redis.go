package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/cache"
	"github.com/zlnvch/artstudio/models"
)

const cacheTTL = 10 * time.Minute

type RedisArtCache struct {
	client redis.UniversalClient
}

func NewRedisArtCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisArtCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewRedisArtCacheFromClient(client), nil
}

func NewRedisArtCacheFromClient(client redis.UniversalClient) *RedisArtCache {
	return &RedisArtCache{client: client}
}

func (redisCache *RedisArtCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisArtCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

// Subscribe confirms the subscription and then delivers messages to handler on a goroutine
// until ctx is cancelled.
func (redisCache *RedisArtCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.WithField("channel", channel).Warn("pubsub channel closed")
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Hash tag keeps per-project keys in one cluster slot
func buildProjectKey(projectId string) string {
	return "project:{" + projectId + "}"
}

func (redisCache *RedisArtCache) GetProject(ctx context.Context, projectId string) (models.Project, error) {
	data, err := redisCache.client.Get(ctx, buildProjectKey(projectId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Project{}, cache.ErrCacheMiss
		}
		return models.Project{}, err
	}

	var project models.Project
	if err := json.Unmarshal(data, &project); err != nil {
		// Treat undecodable entries as absent so the caller reloads from the store
		redisCache.client.Del(ctx, buildProjectKey(projectId))
		return models.Project{}, cache.ErrCacheMiss
	}
	return project, nil
}

func (redisCache *RedisArtCache) SetProject(ctx context.Context, project models.Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}
	return redisCache.client.Set(ctx, buildProjectKey(project.Id), data, cacheTTL).Err()
}

func (redisCache *RedisArtCache) InvalidateProject(ctx context.Context, projectId string) error {
	return redisCache.client.Del(ctx, buildProjectKey(projectId)).Err()
}
