package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SERVER_PORT", "TICK_INTERVAL_MS", "SESSION_RETENTION_MINUTES", "SUBMIT_RATE_LIMIT", "ALLOWED_ORIGINS", "DEFAULT_LANG", "MONITOR_REFRESH_SECONDS", "DB_CONNECT_ATTEMPTS", "SLOW_QUERY_MS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 30*time.Minute, cfg.SessionRetention)
	assert.Equal(t, 10, cfg.SubmitRateLimit)
	assert.Equal(t, "en", cfg.DefaultLang)
	assert.Equal(t, 15*time.Second, cfg.MonitorRefresh)
	assert.Equal(t, 5, cfg.ConnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowQuery)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("SUBMIT_RATE_LIMIT", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DEFAULT_LANG", "id")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 10, cfg.SubmitRateLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "id", cfg.DefaultLang)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "exam:e1:records", CacheKey.ExamRecordsKey("e1"))
	assert.Equal(t, "attempt:a1:answers", CacheKey.AttemptAnswersKey("a1"))
	assert.Equal(t, "exam:e1:monitor", CacheKey.ExamMonitorChannel("e1"))
}
