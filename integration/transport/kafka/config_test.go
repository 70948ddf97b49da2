package kafka_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/config"
	"github.com/dmitrymomot/courier/integration/transport/kafka"
)

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("KAFKA_TOPIC", "commands")
	t.Setenv("KAFKA_GROUP_ID", "mailer")
	t.Setenv("KAFKA_COMMIT_TIMEOUT", "5s")

	var cfg kafka.Config
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, "commands", cfg.Topic)
	assert.Equal(t, "mailer", cfg.GroupID)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.CommitTimeout)
	assert.False(t, cfg.Redeliver)
}
