package di

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisClientFromURL opens a second Redis connection for the signal bus,
// separate from cache.Cache's internal client since Cache doesn't expose it.
func redisClientFromURL(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
