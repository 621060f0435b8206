package config

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Empty(t, cfg.RedisAddr)

	p := cfg.Policy()
	assert.Equal(t, 600*time.Second, p.Cooldown)
	assert.Equal(t, 600*time.Second, p.LockDuration)
	assert.Equal(t, 4, p.MaxOwned)
	assert.True(t, p.LockOnMint)
	assert.EqualValues(t, "resourceswap", p.Operator)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RESOURCESWAP_STORE_DRIVER", "postgres")
	t.Setenv("RESOURCESWAP_COOLDOWN", "30s")
	t.Setenv("RESOURCESWAP_MAX_OWNED", "10")
	t.Setenv("RESOURCESWAP_LOCK_ON_MINT", "false")
	t.Setenv("RESOURCESWAP_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 30*time.Second, cfg.Policy().Cooldown)
	assert.Equal(t, 10, cfg.Policy().MaxOwned)
	assert.False(t, cfg.Policy().LockOnMint)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"BadDuration", "RESOURCESWAP_COOLDOWN", "soon", "parse env:"},
		{"BadInt", "RESOURCESWAP_MAX_OWNED", "four", "parse env:"},
		{"UnknownDriver", "RESOURCESWAP_STORE_DRIVER", "mongo", "unknown store driver"},
		{"NegativeCooldown", "RESOURCESWAP_COOLDOWN", "-1s", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := Config{LogLevel: "debug", LogFormat: "json"}.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = Config{LogLevel: "warn"}.NewLogger()
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = Config{LogLevel: "loud"}.NewLogger()
	assert.Error(t, err)
	_, err = Config{LogLevel: "info", LogFormat: "xml"}.NewLogger()
	assert.Error(t, err)
}

func TestExitf_ExitsWithCode1(t *testing.T) {
	if os.Getenv("TEST_EXITF_SUBPROCESS") == "1" {
		Exitf("fatal: %s", "something broke")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitf_ExitsWithCode1$")
	cmd.Env = append(os.Environ(), "TEST_EXITF_SUBPROCESS=1")

	out, err := cmd.CombinedOutput()
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected *exec.ExitError, got %T: %v", err, err)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.True(t, strings.Contains(string(out), "fatal: something broke"))
}
