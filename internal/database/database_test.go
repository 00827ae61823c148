package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(t *testing.T) {
	t.Helper()
	prevFirst, prevMax := firstBackoff, maxBackoff
	firstBackoff, maxBackoff = time.Millisecond, 2*time.Millisecond
	t.Cleanup(func() { firstBackoff, maxBackoff = prevFirst, prevMax })
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	fastBackoff(t)
	var buf bytes.Buffer
	calls := 0

	err := retry(context.Background(), zerolog.New(&buf), "postgres", 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Store not reachable yet")))
}

func TestRetry_ReturnsLastError(t *testing.T) {
	fastBackoff(t)
	calls := 0

	err := retry(context.Background(), zerolog.Nop(), "redis", 3, func(context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	prev := firstBackoff
	firstBackoff = time.Hour
	t.Cleanup(func() { firstBackoff = prev })

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retry(ctx, zerolog.Nop(), "redis", 5, func(context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestQueryTracer_WarnsOnSlowQuery(t *testing.T) {
	var buf bytes.Buffer
	tr := newQueryTracer(zerolog.New(&buf), time.Millisecond)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT\n\t1"})
	time.Sleep(3 * time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	assert.Contains(t, buf.String(), "Slow query")
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)
}

func TestQueryTracer_FastAndDisabled(t *testing.T) {
	var buf bytes.Buffer

	tr := newQueryTracer(zerolog.New(&buf), time.Hour)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	off := newQueryTracer(zerolog.New(&buf), 0)
	ctx = off.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	off.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	assert.Empty(t, buf.String())
}

func TestCompactSQL(t *testing.T) {
	assert.Equal(t, "UPDATE exam_attempts SET score = $1", compactSQL("\n\t\tUPDATE exam_attempts\n\t\tSET score = $1\n"))

	long := compactSQL(string(bytes.Repeat([]byte("x "), 300)))
	assert.Len(t, long, 203)
}

func TestSlowCommandHook(t *testing.T) {
	var buf bytes.Buffer
	h := newSlowCommandHook(zerolog.New(&buf), time.Millisecond)
	ctx := context.Background()

	slow := h.ProcessHook(func(context.Context, redis.Cmder) error {
		time.Sleep(3 * time.Millisecond)
		return nil
	})

	require.NoError(t, slow(ctx, redis.NewCmd(ctx, "hset", "attempt:1:answers", "0", "2")))
	assert.Contains(t, buf.String(), `"cmd":"hset"`)

	buf.Reset()
	require.NoError(t, slow(ctx, redis.NewCmd(ctx, "blpop", "persist_results_queue", 1)))
	assert.Empty(t, buf.String())

	pipe := h.ProcessPipelineHook(func(context.Context, []redis.Cmder) error {
		time.Sleep(3 * time.Millisecond)
		return nil
	})
	require.NoError(t, pipe(ctx, []redis.Cmder{redis.NewCmd(ctx, "rpush", "q", "x"), redis.NewCmd(ctx, "publish", "c", "m")}))
	assert.Contains(t, buf.String(), `"cmds":"rpush,publish"`)
}
