package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
)

// NewPostgresPool opens the attempt store pool. Startup waits for the
// database up to cfg.ConnectAttempts times so the server can come up
// alongside it.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	// Workers hold one connection each for batch flushes.
	poolCfg.MinConns = min(2, cfg.MaxDBConns)
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.Tracer = newQueryTracer(log, cfg.SlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	err = retry(ctx, log, "postgres", cfg.ConnectAttempts, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("PostgreSQL connected")

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// queryTracer warns about statements slower than threshold and logs
// failed ones at debug level. A non-positive threshold disables it.
type queryTracer struct {
	log       zerolog.Logger
	threshold time.Duration
}

func newQueryTracer(log zerolog.Logger, threshold time.Duration) *queryTracer {
	return &queryTracer{
		log:       log.With().Str("store", "postgres").Logger(),
		threshold: threshold,
	}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if t.threshold <= 0 {
		return ctx
	}
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	took := time.Since(start.at)

	if data.Err != nil {
		t.log.Debug().Err(data.Err).Str("sql", compactSQL(start.sql)).Dur("took", took).Msg("Query failed")
		return
	}
	if took >= t.threshold {
		t.log.Warn().
			Str("sql", compactSQL(start.sql)).
			Str("tag", data.CommandTag.String()).
			Dur("took", took).
			Msg("Slow query")
	}
}

// compactSQL folds whitespace so multi-line statements fit one log field.
func compactSQL(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
