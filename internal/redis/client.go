// Package redisclient dials the Redis instance backing the resource
// locks that guard doctor calendars and emergency records.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The lock workload is many short SET NX / EVAL round trips with tiny
// payloads, so the pool leans wider than the client default and the
// per-command timeouts stay tight.
const (
	defaultPoolSize = 16
	minIdleConns    = 2
	commandTimeout  = 2 * time.Second
	pingWait        = 5 * time.Second
)

// Config holds the connection settings the binaries read from the
// environment. A zero PoolSize falls back to the lock-sized default.
type Config struct {
	Addr     string
	Username string
	Password string
	PoolSize int
}

// Dial connects and verifies the instance answers before any lock
// depends on it.
func Dial(cfg Config) (*redis.Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		ReadTimeout:  commandTimeout,
		WriteTimeout: commandTimeout,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingWait)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
