// Package cache реализует кэш каталога в Redis по схеме cache-aside.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Prefix задаёт общий префикс ключей каталога.
const Prefix = "catalog:"

// Cache хранит JSON-снимки чтений каталога.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats содержит счётчики обращений к кэшу.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// New создаёт кэш поверх готового клиента Redis.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		prefix: Prefix,
		ttl:    ttl,
	}
}

// Connect подключается к Redis по адресу addr и проверяет соединение.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

// Get читает значение key в dest. Возвращает false при промахе.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return false, nil
		}
		return false, fmt.Errorf("cache get: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal: %w", err)
	}

	c.hits.Add(1)
	return true, nil
}

// Set сохраняет значение под ключом key на время TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// DeletePattern удаляет все ключи каталога, подходящие под pattern.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache delete: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats возвращает счётчики попаданий и промахов.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Ping проверяет соединение с Redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (c *Cache) Close() error {
	return c.client.Close()
}
