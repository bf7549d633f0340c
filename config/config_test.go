package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ROLLOVER_BATCH_SIZE", "")
	t.Setenv("KOBO_ENABLED", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 500, cfg.Business.RolloverBatchSize)
	assert.Equal(t, 300, cfg.Business.RolloverLockSeconds)
	assert.False(t, cfg.Kobo.Enabled)
	assert.True(t, cfg.Database.Migrate)
	assert.NotEmpty(t, cfg.Kafka.TopicPriceEvents)
	assert.NotEqual(t, cfg.Kafka.TopicPriceEvents, cfg.Kafka.TopicIngestion)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ROLLOVER_BATCH_SIZE", "50")
	t.Setenv("KOBO_ENABLED", "true")
	t.Setenv("KOBO_POLL_INTERVAL_SECONDS", "60")
	t.Setenv("DATABASE_MIGRATE", "false")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 50, cfg.Business.RolloverBatchSize)
	assert.True(t, cfg.Kobo.Enabled)
	assert.Equal(t, 60, cfg.Kobo.PollIntervalSeconds)
	assert.False(t, cfg.Database.Migrate)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	t.Setenv("KOBO_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 0, cfg.Redis.DB)
	assert.False(t, cfg.Kobo.Enabled)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, ServerConfig{Timezone: "Mars/Olympus"}.Location())

	loc := ServerConfig{Timezone: "Asia/Tashkent"}.Location()
	assert.Equal(t, "Asia/Tashkent", loc.String())
}
