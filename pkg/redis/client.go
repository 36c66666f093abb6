package redis

import (
	"github.com/redis/go-redis/v9"

	"mailsched/config"
)

// NewClient builds the redis client shared by the campaign cache and the
// run lock.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
