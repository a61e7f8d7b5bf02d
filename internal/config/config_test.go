package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("", nil)
		require.NoError(t, err)

		assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, DefaultSweepCron, cfg.Lifecycle.SweepCron)
		assert.Equal(t, 720*time.Hour, cfg.Lifecycle.GracePeriod)
		assert.Equal(t, 168*time.Hour, cfg.Lifecycle.MaxLifetime)
		assert.Equal(t, 72*time.Hour, cfg.Lifecycle.InviteTTL)
		assert.Equal(t, 5*time.Second, cfg.Client.AckTimeout)
		assert.NotEmpty(t, cfg.Auth.SigningKey, "expected signing key to be decoded")
	})

	t.Run("file, environment and overrides", func(t *testing.T) {
		path := writeConfig(t, `
server:
  addr: "0.0.0.0:9000"
  allowed_origins: ["http://localhost:3000"]
database:
  driver: memory
lifecycle:
  grace_period: 48h
log:
  level: debug
  format: json
`)
		t.Setenv("GOCHAT_REDIS_ADDR", "localhost:6379")
		t.Setenv("GOCHAT_LIFECYCLE_SWEEP_CRON", "*/5 * * * *")

		cfg, err := Load(path, map[string]any{"server.addr": ":7000"})
		require.NoError(t, err)

		assert.Equal(t, ":7000", cfg.Server.Addr)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
		assert.Equal(t, "memory", cfg.Database.Driver)
		assert.Equal(t, 48*time.Hour, cfg.Lifecycle.GracePeriod)
		assert.Equal(t, "*/5 * * * *", cfg.Lifecycle.SweepCron)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	tcases := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "database:\n  driver: sqlite\n"},
		{name: "postgres without dsn", body: "database:\n  driver: postgres\n  dsn: \"\"\n"},
		{name: "bad log level", body: "log:\n  level: loud\n"},
		{name: "invalid signing key", body: "auth:\n  signing_key: \"not base64!\"\n"},
		{name: "negative grace period", body: "lifecycle:\n  grace_period: -1h\n"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body), nil)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "group_id", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"group_id":3`)
}
