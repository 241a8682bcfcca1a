// Package startup отвечает за подключение к внешним зависимостям с повторами: при недоступности
// Postgres/Redis/NATS процесс не падает сразу, а ждёт до maxWait.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	feednats "github.com/connectsocial/internal/feed/nats"
	"github.com/connectsocial/internal/logger"
)

const maxBackoff = 30 * time.Second

// Retry вызывает fn, пока она не вернёт nil или не истечёт maxWait (тогда возвращается последняя ошибка).
func Retry(ctx context.Context, what string, maxWait time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// ConnectDB подключается к Postgres и проверяет соединение (PING).
func ConnectDB(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := Retry(ctx, "db connect", maxWait, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(connCtx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	return pool, err
}

// ConnectRedis подключается к Redis по URL.
func ConnectRedis(ctx context.Context, url string, maxWait time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	err = Retry(ctx, "redis connect", maxWait, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return cli.Ping(pingCtx).Err()
	})
	if err != nil {
		cli.Close()
		return nil, err
	}
	return cli, nil
}

// ConnectNATSFeed открывает NATS-фид.
func ConnectNATSFeed(ctx context.Context, url string, maxWait time.Duration) (*feednats.Feed, error) {
	var f *feednats.Feed
	err := Retry(ctx, "nats connect", maxWait, func(context.Context) error {
		var err error
		f, err = feednats.New(url)
		return err
	})
	return f, err
}
