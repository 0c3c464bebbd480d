package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/batchflow/internal/testutil"
	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
)

var allKeys = []string{
	"BATCHFLOW_WORKERS", "BATCHFLOW_ITEM_TIMEOUT", "BATCHFLOW_RATE", "BATCHFLOW_BURST",
	"BATCHFLOW_SCHEDULE", "BATCHFLOW_INPUT", "BATCHFLOW_POOL_NAME", "REDIS_URL",
	"METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT", "BATCHFLOW_GOROUTINE_POOL",
}

// clearEnv blanks every variable FromEnv reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, cfg.Workers, 4)
	testutil.AssertEqual(t, cfg.ItemTimeout, time.Duration(0))
	testutil.AssertEqual(t, cfg.Rate, 0.0)
	testutil.AssertEqual(t, cfg.Burst, 1)
	testutil.AssertEqual(t, cfg.PoolName, "batchflow")
	testutil.AssertEqual(t, cfg.LogLevel, logrus.InfoLevel)
	testutil.AssertEqual(t, cfg.LogFormat, "text")
	testutil.AssertEqual(t, cfg.GoroutinePool, 0)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BATCHFLOW_WORKERS", "8")
	t.Setenv("BATCHFLOW_ITEM_TIMEOUT", "250ms")
	t.Setenv("BATCHFLOW_RATE", "12.5")
	t.Setenv("BATCHFLOW_BURST", "3")
	t.Setenv("BATCHFLOW_SCHEDULE", "@every 1m")
	t.Setenv("BATCHFLOW_POOL_NAME", "imports")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("BATCHFLOW_GOROUTINE_POOL", "16")

	cfg, err := FromEnv()
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, cfg.Workers, 8)
	testutil.AssertEqual(t, cfg.ItemTimeout, 250*time.Millisecond)
	testutil.AssertEqual(t, cfg.Rate, 12.5)
	testutil.AssertEqual(t, cfg.Burst, 3)
	testutil.AssertEqual(t, cfg.Schedule, "@every 1m")
	testutil.AssertEqual(t, cfg.PoolName, "imports")
	testutil.AssertEqual(t, cfg.LogLevel, logrus.DebugLevel)
	testutil.AssertEqual(t, cfg.LogFormat, "json")
	testutil.AssertEqual(t, cfg.GoroutinePool, 16)

	_, isJSON := cfg.Logger().Formatter.(*logrus.JSONFormatter)
	testutil.AssertEqual(t, isJSON, true)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"workers not a number", "BATCHFLOW_WORKERS", "four"},
		{"zero workers", "BATCHFLOW_WORKERS", "0"},
		{"bad timeout", "BATCHFLOW_ITEM_TIMEOUT", "soon"},
		{"negative timeout", "BATCHFLOW_ITEM_TIMEOUT", "-1s"},
		{"negative rate", "BATCHFLOW_RATE", "-2"},
		{"NaN rate", "BATCHFLOW_RATE", "NaN"},
		{"infinite rate", "BATCHFLOW_RATE", "+Inf"},
		{"zero burst", "BATCHFLOW_BURST", "0"},
		{"bad schedule", "BATCHFLOW_SCHEDULE", "every tuesday"},
		{"schedule never fires", "BATCHFLOW_SCHEDULE", "0 0 30 2 *"},
		{"bad level", "LOG_LEVEL", "loud"},
		{"bad format", "LOG_FORMAT", "xml"},
		{"pool smaller than workers", "BATCHFLOW_GOROUTINE_POOL", "2"},
		{"redis without rate", "REDIS_URL", "redis://localhost:6379/0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			testutil.AssertErrorIs(t, err, gferrors.ErrInvalidConfiguration)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("BATCHFLOW_WORKERS")
	os.Unsetenv("BATCHFLOW_POOL_NAME")

	path := filepath.Join(t.TempDir(), ".env")
	err := os.WriteFile(path, []byte("BATCHFLOW_WORKERS=6\nBATCHFLOW_POOL_NAME=from-file\n"), 0o600)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("BATCHFLOW_WORKERS")
		os.Unsetenv("BATCHFLOW_POOL_NAME")
	})

	cfg, err := Load(path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cfg.Workers, 6)
	testutil.AssertEqual(t, cfg.PoolName, "from-file")
}

func TestLoadMissingDotEnv(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cfg.Workers, 4)
}

func TestValidateRejectsNonFiniteRate(t *testing.T) {
	clearEnv(t)

	for _, rate := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		cfg, err := FromEnv()
		testutil.AssertNoError(t, err)

		cfg.Rate = rate
		testutil.AssertErrorIs(t, cfg.Validate(), gferrors.ErrInvalidConfiguration)
	}
}
