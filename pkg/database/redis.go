package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"learnmate-go/pkg/log"
)

// NewRedis opens a Redis client and verifies the connection.
func NewRedis(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
