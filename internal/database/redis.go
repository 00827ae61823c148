package database

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
)

// NewRedisClient opens the client shared by the paper cache, answer
// buffers, persistence queues and monitor pub/sub.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opt.ClientName = "exstem-runner"

	rdb := redis.NewClient(opt)
	rdb.AddHook(newSlowCommandHook(log, cfg.SlowQuery))

	err = retry(ctx, log, "redis", cfg.ConnectAttempts, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Msg("Redis connected")

	return rdb, nil
}

// blockingCommands wait on the server by design and are never slow.
var blockingCommands = map[string]bool{
	"blpop":  true,
	"brpop":  true,
	"blmove": true,
	"xread":  true,
}

// slowCommandHook mirrors queryTracer for Redis round trips.
type slowCommandHook struct {
	log       zerolog.Logger
	threshold time.Duration
}

func newSlowCommandHook(log zerolog.Logger, threshold time.Duration) *slowCommandHook {
	return &slowCommandHook{
		log:       log.With().Str("store", "redis").Logger(),
		threshold: threshold,
	}
}

func (h *slowCommandHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *slowCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.threshold <= 0 || blockingCommands[cmd.Name()] {
			return next(ctx, cmd)
		}
		start := time.Now()
		err := next(ctx, cmd)
		if took := time.Since(start); took >= h.threshold {
			h.log.Warn().Str("cmd", cmd.Name()).Dur("took", took).Msg("Slow command")
		}
		return err
	}
}

func (h *slowCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if h.threshold <= 0 {
			return next(ctx, cmds)
		}
		start := time.Now()
		err := next(ctx, cmds)
		if took := time.Since(start); took >= h.threshold {
			names := make([]string, 0, len(cmds))
			for _, c := range cmds {
				names = append(names, c.Name())
			}
			h.log.Warn().
				Str("cmds", strings.Join(names, ",")).
				Int("count", len(cmds)).
				Dur("took", took).
				Msg("Slow pipeline")
		}
		return err
	}
}
