package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
  tick: 200ms
  allowed_origins: ["https://play.example.com"]
  answer_rate: 4
  answer_burst: 8
redis:
  addr: localhost:6379
postgres:
  url: postgres://trivia@localhost/trivia
submission:
  max_retries: 5
  initial_backoff: 250ms
  resubmit_after: 3s
nats:
  subject_prefix: quiz
log:
  level: info
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, []string{"https://play.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 4.0, cfg.Server.AnswerRate)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, uint64(5), cfg.Submission.MaxRetries)
	assert.Equal(t, 3*time.Second, TTLDuration(cfg.Submission.ResubmitAfter, 0))
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "quiz", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 200*time.Millisecond, TTLDuration(cfg.Server.Tick, time.Second))
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6379")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Postgres.URL)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvRejectsBadRetryCount(t *testing.T) {
	var cfg Config
	err := cfg.applyEnv(func(key string) (string, bool) {
		if key == "SUBMISSION_MAX_RETRIES" {
			return "many", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestTTLDuration(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
	assert.Equal(t, 90*time.Second, TTLDuration("1m30s", time.Minute))
}
