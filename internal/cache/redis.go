package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned when a key is not cached
var ErrMiss = errors.New("cache miss")

// DeviceCache defines the cache operations used for device lookups
type DeviceCache interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	SetDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, deviceID string) error
	Close() error
}

// RedisClient implements DeviceCache using Redis
type RedisClient struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisClient creates a new Redis client. A disabled config yields a
// client that never hits Redis and always misses.
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	if !cfg.Enabled {
		return &RedisClient{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisClient{
		client:  client,
		enabled: true,
		ttl:     ttl,
	}, nil
}

func deviceKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// GetDevice retrieves a device from cache
func (c *RedisClient) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if !c.enabled {
		return nil, ErrMiss
	}

	data, err := c.client.Get(ctx, deviceKey(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}

	var device models.Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("failed to decode cached device: %w", err)
	}
	return &device, nil
}

// SetDevice caches a device. The credential is not part of the cached value.
func (c *RedisClient) SetDevice(ctx context.Context, device *models.Device) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(device)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, deviceKey(device.DeviceID), data, c.ttl).Err()
}

// DeleteDevice removes a device from cache
func (c *RedisClient) DeleteDevice(ctx context.Context, deviceID string) error {
	if !c.enabled {
		return nil
	}
	return c.client.Del(ctx, deviceKey(deviceID)).Err()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	if !c.enabled {
		return nil
	}
	return c.client.Close()
}
